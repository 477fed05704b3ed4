package ratelimit

// Config controls cooldowns and deduplication.
type Config struct {
	Enabled            bool           `mapstructure:"enabled" json:"enabled"`
	Cooldowns          map[string]int `mapstructure:"cooldowns" json:"cooldowns"`
	DedupEnabled       bool           `mapstructure:"dedup_enabled" json:"dedup_enabled"`
	DedupWindowSeconds int            `mapstructure:"dedup_window_seconds" json:"dedup_window_seconds"`
	StateTTLHours      int            `mapstructure:"state_ttl_hours" json:"state_ttl_hours"`
}

// DefaultConfig returns the built-in cooldowns: permission prompts every
// 30s, idle prompts every 60s, completions always.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Cooldowns: map[string]int{
			"permission": 30,
			"idle":       60,
			"complete":   0,
			"stop":       0,
		},
		DedupEnabled:       true,
		DedupWindowSeconds: 300,
		StateTTLHours:      24,
	}
}

var typeAliases = map[string]string{
	"permission_prompt": "permission",
	"idle_prompt":       "idle",
	"task_complete":     "complete",
	"stop":              "complete",
}

// Cooldown returns the cooldown in seconds for a notification type.
// Hook-level names are mapped to their short form first; unknown types
// have no cooldown.
func (c Config) Cooldown(notificationType string) int {
	key := notificationType
	if alias, ok := typeAliases[notificationType]; ok {
		key = alias
	}
	return c.Cooldowns[key]
}
