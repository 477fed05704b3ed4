package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/hooknotify/internal/hook"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, DBPath(), cfg.DBPath)
	assert.Equal(t, 60*time.Second, cfg.Dispatcher.Interval)
	assert.Equal(t, 10, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 3, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 30, cfg.Dispatcher.RetentionDays)
	assert.Equal(t, 10*time.Second, cfg.Sender.Timeout)
	assert.ElementsMatch(t, DefaultSender.AllowedDomains, cfg.Sender.AllowedDomains)
	assert.True(t, cfg.NotifyOn.PermissionRequired)
	assert.False(t, cfg.NotifyAlways)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
webhook_url: https://hooks.slack.com/services/T/B/X
notify_always: true
notify_on:
  task_complete: false
rate_limiting:
  cooldowns:
    permission: 5
deduplication:
  enabled: false
dispatcher:
  interval: 15s
  batch_size: 25
output:
  color: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.WebhookURL)
	assert.Equal(t, 15*time.Second, cfg.Dispatcher.Interval)
	assert.Equal(t, 25, cfg.Dispatcher.BatchSize)
	assert.False(t, cfg.Output.Color)

	rl := cfg.RateLimit()
	assert.Equal(t, 5, rl.Cooldown("permission_prompt"))
	assert.Equal(t, 60, rl.Cooldown("idle_prompt"), "unset cooldowns keep their default")
	assert.False(t, rl.DedupEnabled)

	hs := cfg.HookSettings()
	assert.True(t, hs.NotifyAlways)
	assert.False(t, hs.NotifyOn[hook.NotifyTaskComplete])
	assert.True(t, hs.NotifyOn[hook.NotifyPermission])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOOKNOTIFY_WEBHOOK_URL", "https://discord.com/api/webhooks/1/abc")
	t.Setenv("HOOKNOTIFY_DISPATCHER_BATCH_SIZE", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", cfg.WebhookURL)
	assert.Equal(t, 3, cfg.Dispatcher.BatchSize)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatcher: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in, want string
	}{
		{"~/x/y.db", filepath.Join(home, "x/y.db")},
		{"/abs/y.db", "/abs/y.db"},
		{"rel", "rel"},
	}
	for _, tc := range tests {
		if got := expandPath(tc.in); got != tc.want {
			t.Errorf("expandPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPIDPath(t *testing.T) {
	cfg := &Config{DBPath: "/var/lib/hooknotify/q.db"}
	assert.Equal(t, "/var/lib/hooknotify/daemon.pid", cfg.PIDPath())
}
