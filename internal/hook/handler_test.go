package hook

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/hooknotify/internal/payload"
	"github.com/blackwell-systems/hooknotify/internal/queue"
	"github.com/blackwell-systems/hooknotify/internal/ratelimit"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

type fixedEnricher struct {
	terminal string
}

func (f fixedEnricher) Enrich(cwd, sessionID string) payload.Context {
	return payload.Context{
		ProjectName:   filepath.Base(cwd),
		Cwd:           cwd,
		TerminalType:  f.terminal,
		SessionSerial: sessionID[len(sessionID)-4:],
	}
}

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

type harness struct {
	h     *Handler
	db    *store.DB
	queue *queue.Queue
	clock *clock
}

func newHarness(t *testing.T, terminal string, settings Settings) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	db, err := store.Open(filepath.Join(t.TempDir(), "hook.db"), store.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New(db, queue.WithClock(clk.Now))
	lim := ratelimit.New(db, ratelimit.DefaultConfig(), ratelimit.WithClock(clk.Now))
	h := NewHandler(db, q, lim, fixedEnricher{terminal: terminal}, settings, zerolog.Nop())
	return &harness{h: h, db: db, queue: q, clock: clk}
}

func mustParse(t *testing.T, raw string) *Event {
	t.Helper()
	e, err := ParseEvent([]byte(raw))
	require.NoError(t, err)
	return e
}

const permissionEvent = `{"session_id":"sess-0001","cwd":"/work/api","hook_event_name":"Notification",` +
	`"notification_type":"permission_prompt","message":"Allow Bash?","tool_name":"Bash","tool_input":{"command":"make test"}}`

func TestParseEvent_Invalid(t *testing.T) {
	_, err := ParseEvent([]byte(`{"session_id":`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		field string
	}{
		{"missing session", Event{Cwd: "/x", HookEventName: EventStop}, "session_id"},
		{"missing cwd", Event{SessionID: "s", HookEventName: EventStop}, "cwd"},
		{"notification without type", Event{SessionID: "s", Cwd: "/x", HookEventName: EventNotification}, "notification_type"},
		{"pre tool without tool", Event{SessionID: "s", Cwd: "/x", HookEventName: EventPreToolUse}, "tool_name"},
		{"post tool without tool", Event{SessionID: "s", Cwd: "/x", HookEventName: EventPostToolUse}, "tool_name"},
		{"valid stop", Event{SessionID: "s", Cwd: "/x", HookEventName: EventStop}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.event)
			if tc.field == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Errorf("Validate() = %v, want missing %s", err, tc.field)
			}
		})
	}
}

func TestHandle_InvalidEventWritesNothing(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{})
	ctx := context.Background()

	_, err := hs.h.Handle(ctx, mustParse(t, `{"cwd":"/work/api","hook_event_name":"Stop"}`))
	require.Error(t, err)

	var n int
	require.NoError(t, hs.db.Conn().QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, hs.db.Conn().QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Zero(t, n)
}

func TestHandle_PermissionQueuedThenSuppressed(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{WebhookURL: "https://hooks.slack.com/services/T/B/X"})
	ctx := context.Background()

	res, err := hs.h.Handle(ctx, mustParse(t, permissionEvent))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)
	assert.NotZero(t, res.EventID)
	assert.NotZero(t, res.NotificationID)

	sess, err := hs.db.GetSession(ctx, "sess-0001")
	require.NoError(t, err)
	assert.Equal(t, "api", sess.ProjectName)

	n, err := hs.db.GetNotification(ctx, res.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, payload.KindPermission, n.NotificationType)
	assert.Equal(t, queue.DefaultBackend, n.Backend)
	body, err := payload.Decode(n.Payload)
	require.NoError(t, err)
	perm, ok := body.(*payload.Permission)
	require.True(t, ok)
	assert.Equal(t, "Bash", perm.ToolName)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", perm.WebhookURL)

	ev, err := hs.db.GetEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.NotNil(t, ev.ProcessedAt)

	hs.clock.Advance(10 * time.Second)
	res, err = hs.h.Handle(ctx, mustParse(t, permissionEvent))
	require.NoError(t, err)
	assert.Equal(t, StatusSuppressed, res.Status)
	assert.Equal(t, ratelimit.ReasonCooldownActive, res.Reason)

	suppressed, err := hs.db.GetAuditLogsByAction(ctx, store.ActionNotificationSuppressed)
	require.NoError(t, err)
	assert.Len(t, suppressed, 1)

	// After the cooldown the next notification carries the suppressed count.
	hs.clock.Advance(30 * time.Second)
	e := mustParse(t, permissionEvent)
	e.ToolInput = map[string]any{"command": "go vet ./..."}
	res, err = hs.h.Handle(ctx, e)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, res.Status)

	n, err = hs.db.GetNotification(ctx, res.NotificationID)
	require.NoError(t, err)
	body, err = payload.Decode(n.Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, body.(*payload.Permission).SuppressedCount)
}

func TestHandle_NotifyOnDisabled(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{NotifyOn: map[string]bool{NotifyPermission: false}})
	res, err := hs.h.Handle(context.Background(), mustParse(t, permissionEvent))
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.NotZero(t, res.EventID, "event is still stored")

	stats, err := hs.queue.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestHandle_IdlePromptMarksSessionIdle(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{})
	ctx := context.Background()

	res, err := hs.h.Handle(ctx, mustParse(t, `{"session_id":"sess-0002","cwd":"/work/web","hook_event_name":"Notification","notification_type":"idle_prompt","message":"Claude is waiting"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	sess, err := hs.db.GetSession(ctx, "sess-0002")
	require.NoError(t, err)
	assert.True(t, sess.IsIdle)

	n, err := hs.db.GetNotification(ctx, res.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, payload.KindIdle, n.NotificationType)
}

func TestHandle_UnknownNotificationTypeIsStored(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{})
	res, err := hs.h.Handle(context.Background(), mustParse(t, `{"session_id":"sess-0003","cwd":"/w","hook_event_name":"Notification","notification_type":"auth_success"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusStored, res.Status)
	assert.Zero(t, res.NotificationID)
}

func TestHandle_Stop(t *testing.T) {
	const stop = `{"session_id":"sess-0004","cwd":"/work/cli","hook_event_name":"Stop"}`

	tests := []struct {
		name       string
		terminal   string
		settings   Settings
		wantStatus string
	}{
		{"tmux notifies", "tmux", Settings{}, StatusQueued},
		{"plain terminal skips", "terminal", Settings{}, StatusSkipped},
		{"notify_always", "vscode", Settings{NotifyAlways: true}, StatusQueued},
		{"task_complete disabled", "tmux", Settings{NotifyOn: map[string]bool{NotifyTaskComplete: false}}, StatusSkipped},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hs := newHarness(t, tc.terminal, tc.settings)
			ctx := context.Background()

			res, err := hs.h.Handle(ctx, mustParse(t, stop))
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, res.Status)

			sess, err := hs.db.GetSession(ctx, "sess-0004")
			require.NoError(t, err)
			assert.NotNil(t, sess.EndedAt, "session is ended either way")

			ended, err := hs.db.GetAuditLogsByAction(ctx, store.ActionSessionEnded)
			require.NoError(t, err)
			assert.Len(t, ended, 1)
		})
	}
}

func TestHandle_StopHasNoCooldown(t *testing.T) {
	hs := newHarness(t, "tmux", Settings{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := hs.h.Handle(ctx, mustParse(t, `{"session_id":"sess-0005","cwd":"/w","hook_event_name":"Stop"}`))
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, res.Status)
	}
}

func TestHandle_PreToolUseTouchesSession(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{})
	ctx := context.Background()

	_, err := hs.h.Handle(ctx, mustParse(t, `{"session_id":"sess-0006","cwd":"/w","hook_event_name":"PreToolUse","tool_name":"Read"}`))
	require.NoError(t, err)
	first, err := hs.db.GetSession(ctx, "sess-0006")
	require.NoError(t, err)

	hs.clock.Advance(time.Minute)
	res, err := hs.h.Handle(ctx, mustParse(t, `{"session_id":"sess-0006","cwd":"/w","hook_event_name":"PreToolUse","tool_name":"Edit"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusStored, res.Status)

	second, err := hs.db.GetSession(ctx, "sess-0006")
	require.NoError(t, err)
	assert.Greater(t, second.LastActivityAt, first.LastActivityAt)

	events, err := hs.db.GetEventsBySession(ctx, "sess-0006")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestHandle_PostToolUse(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{})
	ctx := context.Background()

	res, err := hs.h.Handle(ctx, mustParse(t, `{"session_id":"sess-0007","cwd":"/w","hook_event_name":"PostToolUse","tool_name":"Bash"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	_, err = hs.db.GetSession(ctx, "sess-0007")
	assert.ErrorIs(t, err, store.ErrNotFound, "ordinary tool use writes nothing")

	res, err = hs.h.Handle(ctx, mustParse(t, `{"session_id":"sess-0007","cwd":"/w","hook_event_name":"PostToolUse","tool_name":"AskUserQuestion"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusStored, res.Status)
	sess, err := hs.db.GetSession(ctx, "sess-0007")
	require.NoError(t, err)
	assert.True(t, sess.IsIdle)
}

func TestHandle_UnknownEventIgnored(t *testing.T) {
	hs := newHarness(t, "terminal", Settings{})
	res, err := hs.h.Handle(context.Background(), mustParse(t, `{"session_id":"sess-0008","cwd":"/w","hook_event_name":"SubagentStop"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, res.Status)
}

func TestMarkProcessed_LogsFailure(t *testing.T) {
	hs := newHarness(t, "tmux", Settings{})
	var buf bytes.Buffer
	hs.h.log = zerolog.New(&buf)
	require.NoError(t, hs.db.Close())

	hs.h.markProcessed(context.Background(), 7)

	out := buf.String()
	assert.Contains(t, out, "marking event processed")
	assert.Contains(t, out, `"event_id":7`)
}
