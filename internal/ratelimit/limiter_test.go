package ratelimit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/hooknotify/internal/payload"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *clock, *store.DB) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	db, err := store.Open(filepath.Join(t.TempDir(), "rl.db"), store.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, cfg, WithClock(clk.Now)), clk, db
}

func TestConfig_Cooldown(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		ntype string
		want  int
	}{
		{"permission", 30},
		{"permission_prompt", 30},
		{"idle", 60},
		{"idle_prompt", 60},
		{"task_complete", 0},
		{"stop", 0},
		{"complete", 0},
		{"something_else", 0},
	}
	for _, tc := range tests {
		if got := cfg.Cooldown(tc.ntype); got != tc.want {
			t.Errorf("Cooldown(%q) = %d, want %d", tc.ntype, got, tc.want)
		}
	}
}

func TestShouldSend_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	l, _, _ := newTestLimiter(t, cfg)

	res, err := l.ShouldSend(context.Background(), "s1", "permission", nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ReasonDisabled, res.Reason)
}

func TestShouldSend_NoCooldownNeverSuppresses(t *testing.T) {
	l, _, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.RecordSent(ctx, "s1", "stop", nil)
		require.NoError(t, err)
		res, err := l.ShouldSend(ctx, "s1", "stop", nil)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, ReasonNoCooldown, res.Reason)
	}
}

func TestShouldSend_CooldownScenario(t *testing.T) {
	l, clk, _ := newTestLimiter(t, Config{Enabled: true, Cooldowns: map[string]int{"permission": 30}})
	ctx := context.Background()

	res, err := l.ShouldSend(ctx, "s1", "permission", nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ReasonFirst, res.Reason)

	prior, err := l.RecordSent(ctx, "s1", "permission", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, prior)

	res, err = l.ShouldSend(ctx, "s1", "permission", nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonCooldownActive, res.Reason)
	assert.Equal(t, 1, res.SuppressedCount)
	assert.Equal(t, 30, res.CooldownRemaining)
	require.NotNil(t, res.LastSentAt)

	clk.Advance(10 * time.Second)
	res, err = l.ShouldSend(ctx, "s1", "permission", nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.SuppressedCount)
	assert.Equal(t, 20, res.CooldownRemaining)

	clk.Advance(25 * time.Second)
	res, err = l.ShouldSend(ctx, "s1", "permission", nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ReasonCooldownExpire, res.Reason)
	assert.Equal(t, 2, res.SuppressedCount, "pre-reset count is reported")

	prior, err = l.RecordSent(ctx, "s1", "permission", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, prior)

	count, err := l.SuppressedCount(ctx, "s1", "permission")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestShouldSend_StateIsPerSessionAndType(t *testing.T) {
	l, _, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	_, err := l.RecordSent(ctx, "s1", "permission_prompt", nil)
	require.NoError(t, err)

	res, err := l.ShouldSend(ctx, "s2", "permission_prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonFirst, res.Reason)

	res, err = l.ShouldSend(ctx, "s1", "idle_prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonFirst, res.Reason)
}

func TestShouldSend_Deduplication(t *testing.T) {
	l, clk, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	edit := func(path string) payload.Payload {
		return &payload.Permission{
			ToolName:         "Edit",
			ToolInput:        map[string]any{"file_path": path},
			NotificationType: "permission_prompt",
		}
	}

	_, err := l.RecordSent(ctx, "s1", "permission", edit("/a.go"))
	require.NoError(t, err)

	clk.Advance(31 * time.Second)

	res, err := l.ShouldSend(ctx, "s1", "permission", edit("/a.go"))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonDuplicate, res.Reason)
	assert.Equal(t, 1, res.SuppressedCount)

	res, err = l.ShouldSend(ctx, "s1", "permission", edit("/b.go"))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ReasonCooldownExpire, res.Reason)

	// Outside the dedup window the same payload is allowed again.
	clk.Advance(301 * time.Second)
	res, err = l.ShouldSend(ctx, "s1", "permission", edit("/a.go"))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestShouldSend_DedupIgnoresContextNoise(t *testing.T) {
	a := &payload.Permission{ToolName: "Bash", ToolInput: map[string]any{"command": "ls"}, Context: payload.Context{GitBranch: "main"}}
	b := &payload.Permission{ToolName: "Bash", ToolInput: map[string]any{"command": "ls"}, Context: payload.Context{GitBranch: "dev"}, SuppressedCount: 9}
	c := &payload.Permission{ToolName: "Bash", ToolInput: map[string]any{"command": "pwd"}}

	assert.Equal(t, HashPayload(a), HashPayload(b))
	assert.NotEqual(t, HashPayload(a), HashPayload(c))
	assert.Len(t, HashPayload(a), 16)
}

func TestHashPayload_CompactSortedJSON(t *testing.T) {
	p := &payload.Permission{
		ToolName:         "Bash",
		ToolInput:        map[string]any{"command": "ls"},
		NotificationType: "permission_prompt",
	}
	// sha256(`{"notification_type":"permission_prompt","tool_input":{"command":"ls"},"tool_name":"Bash"}`)
	assert.Equal(t, "4be7a0521c35c7c5", HashPayload(p))
}

func TestShouldSend_ConcurrentRejectsLoseNoUpdates(t *testing.T) {
	l, _, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	_, err := l.RecordSent(ctx, "s1", "permission", nil)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.ShouldSend(ctx, "s1", "permission", nil)
			if err != nil {
				errs <- err
				return
			}
			if res.Allowed {
				t.Errorf("expected suppression, got %+v", res)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ShouldSend: %v", err)
	}

	count, err := l.SuppressedCount(ctx, "s1", "permission")
	require.NoError(t, err)
	assert.Equal(t, workers, count)
}

func TestStats(t *testing.T) {
	l, _, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for _, sid := range []string{"s1", "s2"} {
		_, err := l.RecordSent(ctx, sid, "permission", nil)
		require.NoError(t, err)
	}
	_, err := l.RecordSent(ctx, "s1", "idle", nil)
	require.NoError(t, err)
	_, err = l.ShouldSend(ctx, "s1", "permission", nil)
	require.NoError(t, err)
	_, err = l.ShouldSend(ctx, "s2", "permission", nil)
	require.NoError(t, err)

	stats, err := l.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 2, stats.TotalSuppressed)
	assert.Equal(t, TypeStats{Count: 2, Suppressed: 2}, stats.ByType["permission"])
	assert.Equal(t, TypeStats{Count: 1}, stats.ByType["idle"])

	one, err := l.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, one.TotalSessions)
	assert.Equal(t, 1, one.TotalSuppressed)
}

func TestCleanupOldStateAndReset(t *testing.T) {
	l, clk, db := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()
	p := &payload.Idle{NotificationType: "idle_prompt"}

	_, err := l.RecordSent(ctx, "old", "idle", p)
	require.NoError(t, err)
	clk.Advance(25 * time.Hour)
	_, err = l.RecordSent(ctx, "new", "idle", p)
	require.NoError(t, err)

	removed, err := l.CleanupOldState(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var n int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM rate_limit_state").Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, l.ResetSession(ctx, "new"))
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM rate_limit_state").Scan(&n))
	assert.Equal(t, 0, n)
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM dedup_history").Scan(&n))
	assert.Equal(t, 0, n)

	res, err := l.ShouldSend(ctx, "new", "idle", p)
	require.NoError(t, err)
	assert.Equal(t, ReasonFirst, res.Reason)
}
