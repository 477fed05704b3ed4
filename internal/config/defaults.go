// Package config provides configuration loading and defaults for hooknotify.
package config

import "time"

// DefaultConfigDir is the default location for hooknotify configuration.
const DefaultConfigDir = "~/.config/hooknotify"

// DefaultDBName is the filename for the SQLite database.
const DefaultDBName = "hooknotify.db"

// DefaultConfigFile is the filename for the YAML config.
const DefaultConfigFile = "config.yaml"

// DefaultKeyName is the filename of the secret encryption key.
const DefaultKeyName = "secret.key"

// DefaultPIDName is the filename of the daemon PID file.
const DefaultPIDName = "daemon.pid"

// DefaultLogDir is where hook and daemon logs are written.
const DefaultLogDir = "~/.claude/logs"

// EnvPrefix prefixes environment overrides, e.g. HOOKNOTIFY_WEBHOOK_URL.
const EnvPrefix = "HOOKNOTIFY"

// DefaultNotifyOn enables every notification kind.
var DefaultNotifyOn = NotifyOn{
	PermissionRequired: true,
	TaskComplete:       true,
	InputRequired:      true,
}

// DefaultCooldowns are the per-type cooldowns in seconds.
var DefaultCooldowns = map[string]int{
	"permission": 30,
	"idle":       60,
	"complete":   0,
	"stop":       0,
}

// DefaultRateLimiting holds the rate limiter defaults.
var DefaultRateLimiting = RateLimiting{Enabled: true}

// DefaultDeduplication holds the deduplication defaults.
var DefaultDeduplication = Deduplication{Enabled: true, WindowSeconds: 300}

// DefaultStateTTLHours is how long rate limit state is kept.
const DefaultStateTTLHours = 24

// DefaultDispatcher holds the background dispatcher defaults.
var DefaultDispatcher = Dispatcher{
	Interval:        60 * time.Second,
	BatchSize:       10,
	MaxRetries:      3,
	CleanupSchedule: "@daily",
	RetentionDays:   30,
}

// DefaultSender holds the outbound delivery defaults.
var DefaultSender = Sender{
	Timeout:        10 * time.Second,
	RatePerSec:     5,
	AllowedDomains: []string{"hooks.slack.com", "discord.com", "hooks.zapier.com"},
}

// DefaultOutput holds the default output preferences.
var DefaultOutput = Output{Color: true}
