package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/blackwell-systems/hooknotify/internal/hook"
	"github.com/blackwell-systems/hooknotify/internal/ratelimit"
)

// Config is the top-level hooknotify configuration.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	DBPath        string        `mapstructure:"db_path"`
	LogDir        string        `mapstructure:"log_dir"`
	LogLevel      string        `mapstructure:"log_level"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	Backend       string        `mapstructure:"backend"`
	NotifyAlways  bool          `mapstructure:"notify_always"`
	NotifyOn      NotifyOn      `mapstructure:"notify_on"`
	RateLimiting  RateLimiting  `mapstructure:"rate_limiting"`
	Deduplication Deduplication `mapstructure:"deduplication"`
	StateTTLHours int           `mapstructure:"state_ttl_hours"`
	Dispatcher    Dispatcher    `mapstructure:"dispatcher"`
	Sender        Sender        `mapstructure:"sender"`
	Telegram      Telegram      `mapstructure:"telegram"`
	Credential    Credential    `mapstructure:"credential"`
	Output        Output        `mapstructure:"output"`
}

// NotifyOn switches individual notification kinds on or off.
type NotifyOn struct {
	PermissionRequired bool `mapstructure:"permission_required"`
	TaskComplete       bool `mapstructure:"task_complete"`
	InputRequired      bool `mapstructure:"input_required"`
}

// RateLimiting configures per-session cooldowns.
type RateLimiting struct {
	Enabled   bool           `mapstructure:"enabled"`
	Cooldowns map[string]int `mapstructure:"cooldowns"`
}

// Deduplication configures duplicate payload suppression.
type Deduplication struct {
	Enabled       bool `mapstructure:"enabled"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

// Dispatcher configures the background delivery loop.
type Dispatcher struct {
	Interval        time.Duration `mapstructure:"interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// Sender configures outbound HTTP delivery.
type Sender struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	RatePerSec     int           `mapstructure:"rate_per_sec"`
	AllowedDomains []string      `mapstructure:"allowed_domains"`
}

// Telegram configures the telegram backend.
type Telegram struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// Credential locates the key used to encrypt stored secrets.
type Credential struct {
	KeyPath string `mapstructure:"key_path"`
}

// Output defines output preferences.
type Output struct {
	Color bool `mapstructure:"color"`
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads configuration from the given path (or the default location),
// applies HOOKNOTIFY_* environment overrides and returns a Config with all
// defaults applied.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		v.AddConfigPath(ConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.LogDir = expandPath(cfg.LogDir)
	cfg.Credential.KeyPath = expandPath(cfg.Credential.KeyPath)
	if cfg.Dispatcher.MaxRetries <= 0 {
		cfg.Dispatcher.MaxRetries = DefaultDispatcher.MaxRetries
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("db_path", DBPath())
	v.SetDefault("log_dir", DefaultLogDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("webhook_url", "")
	v.SetDefault("backend", "default")
	v.SetDefault("notify_always", false)
	v.SetDefault("notify_on.permission_required", DefaultNotifyOn.PermissionRequired)
	v.SetDefault("notify_on.task_complete", DefaultNotifyOn.TaskComplete)
	v.SetDefault("notify_on.input_required", DefaultNotifyOn.InputRequired)
	v.SetDefault("rate_limiting.enabled", DefaultRateLimiting.Enabled)
	v.SetDefault("rate_limiting.cooldowns", DefaultCooldowns)
	v.SetDefault("deduplication.enabled", DefaultDeduplication.Enabled)
	v.SetDefault("deduplication.window_seconds", DefaultDeduplication.WindowSeconds)
	v.SetDefault("state_ttl_hours", DefaultStateTTLHours)
	v.SetDefault("dispatcher.interval", DefaultDispatcher.Interval)
	v.SetDefault("dispatcher.batch_size", DefaultDispatcher.BatchSize)
	v.SetDefault("dispatcher.max_retries", DefaultDispatcher.MaxRetries)
	v.SetDefault("dispatcher.cleanup_schedule", DefaultDispatcher.CleanupSchedule)
	v.SetDefault("dispatcher.retention_days", DefaultDispatcher.RetentionDays)
	v.SetDefault("sender.timeout", DefaultSender.Timeout)
	v.SetDefault("sender.rate_per_sec", DefaultSender.RatePerSec)
	v.SetDefault("sender.allowed_domains", DefaultSender.AllowedDomains)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("credential.key_path", filepath.Join(DefaultConfigDir, DefaultKeyName))
	v.SetDefault("output.color", DefaultOutput.Color)
}

// RateLimit converts the file settings into a limiter config.
func (c *Config) RateLimit() ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.Enabled = c.RateLimiting.Enabled
	for k, secs := range c.RateLimiting.Cooldowns {
		rl.Cooldowns[k] = secs
	}
	rl.DedupEnabled = c.Deduplication.Enabled
	rl.DedupWindowSeconds = c.Deduplication.WindowSeconds
	if c.StateTTLHours > 0 {
		rl.StateTTLHours = c.StateTTLHours
	}
	return rl
}

// HookSettings converts the file settings into handler settings.
func (c *Config) HookSettings() hook.Settings {
	return hook.Settings{
		NotifyOn: map[string]bool{
			hook.NotifyPermission:   c.NotifyOn.PermissionRequired,
			hook.NotifyInput:        c.NotifyOn.InputRequired,
			hook.NotifyTaskComplete: c.NotifyOn.TaskComplete,
		},
		NotifyAlways: c.NotifyAlways,
		Backend:      c.Backend,
		WebhookURL:   c.WebhookURL,
	}
}

// DBPath returns the default full path to the SQLite database.
func DBPath() string {
	return filepath.Join(ConfigDir(), DefaultDBName)
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}

// PIDPath returns the daemon PID file path next to the database.
func (c *Config) PIDPath() string {
	return filepath.Join(filepath.Dir(c.DBPath), DefaultPIDName)
}
