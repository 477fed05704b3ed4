package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// NotificationColumns is the column list matched by ScanNotification.
const NotificationColumns = `id, event_id, session_id, notification_type, backend, status,
	retry_count, payload, error, created_at, sent_at, next_retry_at`

// InsertNotification stores a new pending notification with retry_count 0
// and returns its ID. A zero createdAt means now.
func (db *DB) InsertNotification(ctx context.Context, eventID int64, sessionID, notificationType, backend string, payload any, createdAt int64) (int64, error) {
	return InsertNotification(ctx, db.conn, eventID, sessionID, notificationType, backend, payload, orNow(createdAt, db.Now()))
}

// InsertNotification is the Querier form used inside caller transactions.
func InsertNotification(ctx context.Context, q Querier, eventID int64, sessionID, notificationType, backend string, payload any, createdAt int64) (int64, error) {
	raw, err := encodeJSON(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding notification payload: %w", err)
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO notifications
		(event_id, session_id, notification_type, backend, status, retry_count, payload, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		eventID, sessionID, notificationType, backend, StatusPending, raw, createdAt,
	)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("inserting notification: %w", err))
	}
	return result.LastInsertId()
}

// GetNotification returns a notification by ID, or ErrNotFound.
func (db *DB) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+NotificationColumns+" FROM notifications WHERE id = ?", id)
	n, err := ScanNotification(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapBusy(err)
	}
	return n, nil
}

// GetPendingNotifications returns all pending notifications, oldest first.
func (db *DB) GetPendingNotifications(ctx context.Context) ([]Notification, error) {
	return QueryNotifications(ctx, db.conn,
		"SELECT "+NotificationColumns+" FROM notifications WHERE status = ? ORDER BY created_at ASC, id ASC",
		StatusPending)
}

// GetFailedNotificationsForRetry returns failed notifications whose
// retry_count is below maxRetries, oldest first. It does not look at
// next_retry_at; the queue's DequeueReady is the backoff-aware path.
func (db *DB) GetFailedNotificationsForRetry(ctx context.Context, maxRetries int) ([]Notification, error) {
	return QueryNotifications(ctx, db.conn,
		"SELECT "+NotificationColumns+` FROM notifications
		 WHERE status = ? AND retry_count < ?
		 ORDER BY created_at ASC, id ASC`,
		StatusFailed, maxRetries)
}

// GetNotificationsBySession returns all notifications of a session, oldest first.
func (db *DB) GetNotificationsBySession(ctx context.Context, sessionID string) ([]Notification, error) {
	return QueryNotifications(ctx, db.conn,
		"SELECT "+NotificationColumns+" FROM notifications WHERE session_id = ? ORDER BY created_at ASC, id ASC",
		sessionID)
}

// MarkNotificationSent sets status=sent and sent_at=now.
func (db *DB) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?",
		StatusSent, db.Now(), id,
	)
	return wrapBusy(err)
}

// MarkNotificationFailed sets status=failed, records the error and
// increments retry_count. No retry time is scheduled at this layer.
func (db *DB) MarkNotificationFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET status = ?, retry_count = retry_count + 1, error = ? WHERE id = ?",
		StatusFailed, errMsg, id,
	)
	return wrapBusy(err)
}

// QueryNotifications runs a query selecting NotificationColumns.
func QueryNotifications(ctx context.Context, q Querier, query string, args ...any) ([]Notification, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapBusy(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		n, err := ScanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, wrapBusy(rows.Err())
}

// ScanNotification scans one row selected with NotificationColumns.
func ScanNotification(scan func(dest ...any) error) (*Notification, error) {
	var n Notification
	var payload string
	var errMsg sql.NullString
	var sentAt, nextRetry sql.NullInt64
	if err := scan(
		&n.ID, &n.EventID, &n.SessionID, &n.NotificationType, &n.Backend, &n.Status,
		&n.RetryCount, &payload, &errMsg, &n.CreatedAt, &sentAt, &nextRetry,
	); err != nil {
		return nil, err
	}
	n.Payload = json.RawMessage(payload)
	n.Error = errMsg.String
	n.SentAt = int64Ptr(sentAt)
	n.NextRetryAt = int64Ptr(nextRetry)
	return &n, nil
}

func orNow(ts, now int64) int64 {
	if ts == 0 {
		return now
	}
	return ts
}
