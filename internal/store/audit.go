package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Audit actions written by the hook handler and dispatcher.
const (
	ActionNotificationQueued     = "notification_queued"
	ActionNotificationSuppressed = "notification_suppressed"
	ActionNotificationSent       = "notification_sent"
	ActionNotificationFailed     = "notification_failed"
	ActionSessionEnded           = "session_ended"
)

// InsertAuditLog appends an audit entry. details may be nil.
func (db *DB) InsertAuditLog(ctx context.Context, action, sessionID string, details any) (int64, error) {
	var detailsArg any
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return 0, fmt.Errorf("encoding audit details: %w", err)
		}
		detailsArg = string(raw)
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO audit_log (session_id, action, details, created_at) VALUES (?, ?, ?, ?)",
		nullStr(sessionID), action, detailsArg, db.Now(),
	)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("inserting audit log: %w", err))
	}
	return result.LastInsertId()
}

// GetAuditLogsBySession returns a session's audit entries, newest first.
func (db *DB) GetAuditLogsBySession(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	return db.queryAudit(ctx,
		"SELECT id, session_id, action, details, created_at FROM audit_log WHERE session_id = ? ORDER BY created_at DESC, id DESC",
		sessionID)
}

// GetAuditLogsByAction returns entries for one action, newest first.
func (db *DB) GetAuditLogsByAction(ctx context.Context, action string) ([]AuditEntry, error) {
	return db.queryAudit(ctx,
		"SELECT id, session_id, action, details, created_at FROM audit_log WHERE action = ? ORDER BY created_at DESC, id DESC",
		action)
}

// GetRecentAuditLogs returns the newest limit entries.
func (db *DB) GetRecentAuditLogs(ctx context.Context, limit int) ([]AuditEntry, error) {
	return db.queryAudit(ctx,
		"SELECT id, session_id, action, details, created_at FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?",
		limit)
}

func (db *DB) queryAudit(ctx context.Context, query string, args ...any) ([]AuditEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapBusy(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var session, details sql.NullString
		if err := rows.Scan(&e.ID, &session, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionID = session.String
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		entries = append(entries, e)
	}
	return entries, wrapBusy(rows.Err())
}
