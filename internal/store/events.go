package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const eventColumns = "id, session_id, event_type, hook_payload, created_at, processed_at"

// InsertEvent stores a raw hook event and returns its ID. payload is
// marshaled to JSON. A zero createdAt means now.
func (db *DB) InsertEvent(ctx context.Context, sessionID, eventType string, payload any, createdAt int64) (int64, error) {
	raw, err := encodeJSON(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding event payload: %w", err)
	}
	if createdAt == 0 {
		createdAt = db.Now()
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO events (session_id, event_type, hook_payload, created_at) VALUES (?, ?, ?, ?)",
		sessionID, eventType, raw, createdAt,
	)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("inserting event: %w", err))
	}
	return result.LastInsertId()
}

// GetEvent returns an event by ID, or ErrNotFound.
func (db *DB) GetEvent(ctx context.Context, id int64) (*Event, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapBusy(err)
	}
	return e, nil
}

// GetUnprocessedEvents returns events with no processed_at, oldest first.
func (db *DB) GetUnprocessedEvents(ctx context.Context) ([]Event, error) {
	return db.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE processed_at IS NULL ORDER BY created_at ASC, id ASC")
}

// GetEventsBySession returns all events of a session, oldest first.
func (db *DB) GetEventsBySession(ctx context.Context, sessionID string) ([]Event, error) {
	return db.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC", sessionID)
}

// GetLatestEventByType returns the most recent event of one type for a
// session, or nil if there is none.
func (db *DB) GetLatestEventByType(ctx context.Context, sessionID, eventType string) (*Event, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+eventColumns+` FROM events
		 WHERE session_id = ? AND event_type = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, eventType,
	)
	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapBusy(err)
	}
	return e, nil
}

// MarkEventProcessed sets processed_at to now.
func (db *DB) MarkEventProcessed(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE events SET processed_at = ? WHERE id = ?", db.Now(), id)
	return wrapBusy(err)
}

func (db *DB) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapBusy(err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, wrapBusy(rows.Err())
}

func scanEvent(scan func(dest ...any) error) (*Event, error) {
	var e Event
	var payload string
	var processed sql.NullInt64
	if err := scan(&e.ID, &e.SessionID, &e.EventType, &payload, &e.CreatedAt, &processed); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.ProcessedAt = int64Ptr(processed)
	return &e, nil
}
