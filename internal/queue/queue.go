// Package queue implements the durable notification queue: enqueue, atomic
// batch claims, acknowledgement, exponential-backoff retry and
// dead-lettering on top of the store's notifications table.
//
// Concurrent dequeuers in separate processes are coordinated only by the
// database: claims run inside BEGIN IMMEDIATE so a row is handed out once.
// A process that dies between claiming and acknowledging leaves its rows in
// processing; nothing reaps them.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/hooknotify/internal/payload"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

// MaxRetries is the number of failed attempts after which a notification
// is dead-lettered on the next failure.
const MaxRetries = 5

// DefaultBackend is used when Enqueue is given no backend.
const DefaultBackend = "default"

// retryDelays is the backoff schedule indexed by retry_count-1.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	4 * time.Hour,
}

// Notification is a queued notification with its body decoded.
type Notification struct {
	store.Notification
	Body payload.Payload `json:"-"`
}

// Stats counts notifications by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`
	Total      int `json:"total"`
}

// Queue is the notification work queue.
type Queue struct {
	db  *store.DB
	now func() time.Time
	log zerolog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for created_at, sent_at and
// retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// New creates a Queue over db.
func New(db *store.DB, opts ...Option) *Queue {
	q := &Queue{db: db, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a pending notification and returns its ID. eventID 0
// means the notification is not linked to an event.
func (q *Queue) Enqueue(ctx context.Context, eventType string, p payload.Payload, sessionID, backend string, eventID int64) (int64, error) {
	raw, err := payload.Encode(p)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	if backend == "" {
		backend = DefaultBackend
	}

	id, err := store.InsertNotification(ctx, q.db.Conn(), eventID, sessionID, eventType, backend, raw, q.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	q.log.Debug().Int64("id", id).Str("type", eventType).Str("session_id", sessionID).Msg("notification enqueued")
	return id, nil
}

// DequeueReady claims up to batch notifications that are pending, or
// failed with next_retry_at in the past, oldest first, and marks them
// processing. The dispatcher, the hook's immediate attempt and the daemon
// all use DequeueIgnoringBackoff instead; DequeueReady serves callers that
// want the backoff schedule honored.
func (q *Queue) DequeueReady(ctx context.Context, batch int) ([]Notification, error) {
	return q.claim(ctx, batch,
		`status = ? OR (status = ? AND next_retry_at <= ?)`,
		store.StatusPending, store.StatusFailed, q.now().Unix())
}

// DequeueIgnoringBackoff claims up to batch notifications that are
// pending, or failed with fewer than maxRetries attempts, regardless of
// next_retry_at. It is the path for immediate delivery right after a
// hook enqueues.
func (q *Queue) DequeueIgnoringBackoff(ctx context.Context, batch, maxRetries int) ([]Notification, error) {
	return q.claim(ctx, batch,
		`status = ? OR (status = ? AND retry_count < ?)`,
		store.StatusPending, store.StatusFailed, maxRetries)
}

func (q *Queue) claim(ctx context.Context, batch int, where string, args ...any) ([]Notification, error) {
	if batch <= 0 {
		return nil, nil
	}

	var claimed []store.Notification
	err := q.db.WithImmediateTx(ctx, func(tx store.Querier) error {
		rows, err := store.QueryNotifications(ctx, tx,
			"SELECT "+store.NotificationColumns+" FROM notifications WHERE "+where+
				" ORDER BY created_at ASC, id ASC LIMIT ?",
			append(args, batch)...)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]any, 0, len(rows)+1)
		ids = append(ids, store.StatusProcessing)
		for _, n := range rows {
			ids = append(ids, n.ID)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rows)), ",")
		if _, err := tx.ExecContext(ctx,
			"UPDATE notifications SET status = ? WHERE id IN ("+placeholders+")", ids...); err != nil {
			return fmt.Errorf("marking processing: %w", err)
		}

		for i := range rows {
			rows[i].Status = store.StatusProcessing
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	out := make([]Notification, len(claimed))
	for i, n := range claimed {
		out[i] = decode(n)
	}
	return out, nil
}

// MarkSent records a successful delivery. Unknown IDs are ignored.
func (q *Queue) MarkSent(ctx context.Context, id int64) error {
	_, err := q.db.Conn().ExecContext(ctx,
		"UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?",
		store.StatusSent, q.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark sent %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The retry count is incremented; if
// it now exceeds MaxRetries the notification is dead-lettered, otherwise
// it is scheduled for retry after RetryDelay. Unknown IDs are ignored.
func (q *Queue) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	err := q.db.WithImmediateTx(ctx, func(tx store.Querier) error {
		var current int
		err := tx.QueryRowContext(ctx, "SELECT retry_count FROM notifications WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		next := current + 1
		if next > MaxRetries {
			_, err = tx.ExecContext(ctx,
				"UPDATE notifications SET status = ?, retry_count = ?, error = ? WHERE id = ?",
				store.StatusDeadLetter, next, errMsg, id)
			if err == nil {
				q.log.Warn().Int64("id", id).Int("retries", next).Str("error", errMsg).Msg("notification dead-lettered")
			}
			return err
		}

		retryAt := q.now().Add(RetryDelay(next)).Unix()
		_, err = tx.ExecContext(ctx,
			"UPDATE notifications SET status = ?, retry_count = ?, error = ?, next_retry_at = ? WHERE id = ?",
			store.StatusFailed, next, errMsg, retryAt, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	return nil
}

// PendingCount counts pending and retry-ready failed notifications,
// optionally limited to one session.
func (q *Queue) PendingCount(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM notifications
		WHERE (status = ? OR (status = ? AND next_retry_at <= ?))`
	args := []any{store.StatusPending, store.StatusFailed, q.now().Unix()}
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}

	var n int
	if err := q.db.Conn().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// Stats counts notifications per status, optionally for one session.
func (q *Queue) Stats(ctx context.Context, sessionID string) (Stats, error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COUNT(*)
		FROM notifications`
	args := []any{store.StatusPending, store.StatusProcessing, store.StatusSent, store.StatusFailed, store.StatusDeadLetter}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}

	var s Stats
	err := q.db.Conn().QueryRowContext(ctx, query, args...).
		Scan(&s.Pending, &s.Processing, &s.Sent, &s.Failed, &s.DeadLetter, &s.Total)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

// DeadLetters returns dead-lettered notifications, newest first. A limit
// of 0 returns all of them.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]Notification, error) {
	query := "SELECT " + store.NotificationColumns + " FROM notifications WHERE status = ? ORDER BY created_at DESC, id DESC"
	args := []any{store.StatusDeadLetter}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := store.QueryNotifications(ctx, q.db.Conn(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	out := make([]Notification, len(rows))
	for i, n := range rows {
		out[i] = decode(n)
	}
	return out, nil
}

// CleanupOld deletes sent and dead-lettered notifications created more
// than days ago and returns how many were removed. Pending, processing
// and failed rows are kept at any age.
func (q *Queue) CleanupOld(ctx context.Context, days int) (int64, error) {
	cutoff := q.now().AddDate(0, 0, -days).Unix()
	res, err := q.db.Conn().ExecContext(ctx,
		"DELETE FROM notifications WHERE status IN (?, ?) AND created_at < ?",
		store.StatusSent, store.StatusDeadLetter, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	q.log.Info().Int64("deleted", n).Int("days", days).Msg("old notifications removed")
	return n, nil
}

func decode(n store.Notification) Notification {
	body, err := payload.Decode(n.Payload)
	if err != nil {
		body = &payload.Opaque{Raw: n.Payload}
	}
	return Notification{Notification: n, Body: body}
}
