package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	db, err := Open(filepath.Join(t.TempDir(), "hooknotify.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesParentDirAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var version int
	require.NoError(t, db.Conn().QueryRow("SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var mode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))
}

func TestOpen_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, db.Migrate())
}

func TestEvents_InsertAndQuery(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.InsertEvent(ctx, "s1", "Notification", map[string]string{"a": "1"}, 100)
	require.NoError(t, err)
	_, err = db.InsertEvent(ctx, "s1", "Stop", nil, 200)
	require.NoError(t, err)
	_, err = db.InsertEvent(ctx, "s2", "Notification", nil, 50)
	require.NoError(t, err)

	e, err := db.GetEvent(ctx, first)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1"}`, string(e.Payload))
	assert.Nil(t, e.ProcessedAt)

	unprocessed, err := db.GetUnprocessedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 3)
	assert.Equal(t, "s2", unprocessed[0].SessionID, "oldest first")

	require.NoError(t, db.MarkEventProcessed(ctx, first))
	unprocessed, err = db.GetUnprocessedEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 2)

	bySession, err := db.GetEventsBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	latest, err := db.GetLatestEventByType(ctx, "s1", "Stop")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(200), latest.CreatedAt)

	none, err := db.GetLatestEventByType(ctx, "s1", "PreToolUse")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = db.GetEvent(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvents_DefaultCreatedAtUsesClock(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertEvent(ctx, "s1", "Stop", nil, 0)
	require.NoError(t, err)
	e, err := db.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testNow.Unix(), e.CreatedAt)
}

func TestNotifications_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertNotification(ctx, 0, "s1", "permission", "default", map[string]string{"text": "x"}, 0)
	require.NoError(t, err)

	n, err := db.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, 0, n.RetryCount)
	assert.Nil(t, n.NextRetryAt)
	assert.Nil(t, n.SentAt)

	pending, err := db.GetPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, db.MarkNotificationFailed(ctx, id, "boom"))
	n, err = db.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, "boom", n.Error)
	assert.Nil(t, n.NextRetryAt, "store layer does not schedule retries")

	retry, err := db.GetFailedNotificationsForRetry(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, retry, 1)

	retry, err = db.GetFailedNotificationsForRetry(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, retry)

	require.NoError(t, db.MarkNotificationSent(ctx, id))
	n, err = db.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)
	require.NotNil(t, n.SentAt)
	assert.Equal(t, testNow.Unix(), *n.SentAt)

	bySession, err := db.GetNotificationsBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, bySession, 1)

	_, err = db.GetNotification(ctx, 424242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions_CreateIsStrict(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := &Session{SessionID: "s1", Cwd: "/tmp/proj", ProjectName: "proj"}
	require.NoError(t, db.CreateSession(ctx, s))
	assert.Error(t, db.CreateSession(ctx, s))
}

func TestSessions_UpsertUpdatesInPlace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertSession(ctx, &Session{SessionID: "s1", Cwd: "/a", StartedAt: 10, LastActivityAt: 10}))
	require.NoError(t, db.UpsertSession(ctx, &Session{SessionID: "s1", Cwd: "/b", GitBranch: "main", StartedAt: 99, LastActivityAt: 50}))

	s, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/b", s.Cwd)
	assert.Equal(t, "main", s.GitBranch)
	assert.Equal(t, int64(10), s.StartedAt, "started_at is kept")
	assert.Equal(t, int64(50), s.LastActivityAt)
}

func TestSessions_IdleTouchAndEnd(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, &Session{SessionID: "s1", Cwd: "/a", StartedAt: 1, LastActivityAt: 1}))
	require.NoError(t, db.CreateSession(ctx, &Session{SessionID: "s2", Cwd: "/b", StartedAt: 1, LastActivityAt: 1}))

	require.NoError(t, db.SetSessionIdle(ctx, "s1", true))
	require.NoError(t, db.TouchSession(ctx, "s1"))

	s, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.IsIdle)
	assert.Equal(t, testNow.Unix(), s.LastActivityAt)

	require.NoError(t, db.EndSession(ctx, "s2"))
	s, err = db.GetSession(ctx, "s2")
	require.NoError(t, err)
	require.NotNil(t, s.EndedAt)
	firstEnd := *s.EndedAt

	// A second end must not move ended_at.
	_, err = db.Conn().Exec("UPDATE sessions SET ended_at = ? WHERE session_id = 's2'", firstEnd-100)
	require.NoError(t, err)
	require.NoError(t, db.EndSession(ctx, "s2"))
	s, err = db.GetSession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, firstEnd-100, *s.EndedAt)

	active, err := db.GetActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s1", active[0].SessionID)

	_, err = db.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeCipher struct {
	failDecrypt bool
}

func (c fakeCipher) Encrypt(p string) (string, error) { return "enc:" + p, nil }

func (c fakeCipher) Decrypt(v string) (string, error) {
	if c.failDecrypt {
		return "", errors.New("bad key")
	}
	return strings.TrimPrefix(v, "enc:"), nil
}

func (c fakeCipher) IsEncrypted(v string) bool { return strings.HasPrefix(v, "enc:") }

func TestConfig_EncryptedRoundTrip(t *testing.T) {
	db := openTestDB(t, WithCipher(fakeCipher{}))
	ctx := context.Background()

	require.NoError(t, db.SetConfig(ctx, "webhook_url", "https://hooks.slack.com/x", true))
	require.NoError(t, db.SetConfig(ctx, "enabled", "true", false))

	var raw string
	require.NoError(t, db.Conn().QueryRow("SELECT value FROM config WHERE key = 'webhook_url'").Scan(&raw))
	assert.Equal(t, "enc:https://hooks.slack.com/x", raw)

	v, ok, err := db.GetConfig(ctx, "webhook_url")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://hooks.slack.com/x", v)

	all, err := db.GetAllConfig(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "enabled", all[0].Key)
	assert.Equal(t, "https://hooks.slack.com/x", all[1].Value)
	assert.True(t, all[1].IsEncrypted)

	deleted, err := db.DeleteConfig(ctx, "enabled")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, ok, err = db.GetConfig(ctx, "enabled")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfig_DecryptFailureFallsBackToRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, WithCipher(fakeCipher{}))
	require.NoError(t, err)
	require.NoError(t, db.SetConfig(context.Background(), "secret", "hunter2", true))
	require.NoError(t, db.Close())

	db, err = Open(path, WithCipher(fakeCipher{failDecrypt: true}))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	v, ok, err := db.GetConfig(context.Background(), "secret")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "enc:hunter2", v)
}

func TestConfig_EncryptWithoutCipher(t *testing.T) {
	db := openTestDB(t)
	assert.Error(t, db.SetConfig(context.Background(), "k", "v", true))
}

func TestAuditLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertAuditLog(ctx, ActionNotificationQueued, "s1", map[string]int{"notification_id": 1})
	require.NoError(t, err)
	_, err = db.InsertAuditLog(ctx, ActionNotificationSuppressed, "s1", nil)
	require.NoError(t, err)
	_, err = db.InsertAuditLog(ctx, ActionNotificationQueued, "", nil)
	require.NoError(t, err)

	bySession, err := db.GetAuditLogsBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	byAction, err := db.GetAuditLogsByAction(ctx, ActionNotificationQueued)
	require.NoError(t, err)
	require.Len(t, byAction, 2)
	assert.Equal(t, "", byAction[0].SessionID, "newest first")
	assert.JSONEq(t, `{"notification_id":1}`, string(byAction[1].Details))

	recent, err := db.GetRecentAuditLogs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestMetrics_Stats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	empty, err := db.GetMetricStats(ctx, MetricDispatchLatency, 0)
	require.NoError(t, err)
	assert.Equal(t, MetricStats{}, empty)

	for _, v := range []float64{10, 20, 30} {
		_, err := db.InsertMetric(ctx, MetricDispatchLatency, v, "s1")
		require.NoError(t, err)
	}
	_, err = db.InsertMetric(ctx, "other", 1000, "")
	require.NoError(t, err)

	stats, err := db.GetMetricStats(ctx, MetricDispatchLatency, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 20, stats.Avg, 0.001)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 30.0, stats.Max)

	future, err := db.GetMetricStats(ctx, MetricDispatchLatency, testNow.Unix()+1)
	require.NoError(t, err)
	assert.Equal(t, 0, future.Count)

	samples, err := db.GetMetricsByName(ctx, MetricDispatchLatency, 2)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestWithImmediateTx_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := db.WithImmediateTx(ctx, func(q Querier) error {
		if _, err := InsertNotification(ctx, q, 0, "s1", "idle", "default", nil, 1); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	pending, err := db.GetPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{fmt.Errorf("wrapped: %w", ErrBusy), true},
		{errors.New("no such table: foo"), false},
	}
	for _, tc := range tests {
		if got := IsBusy(tc.err); got != tc.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}

	wrapped := wrapBusy(errors.New("database is locked"))
	assert.ErrorIs(t, wrapped, ErrBusy)
}
