package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sessionColumns = `session_id, project_name, cwd, git_branch, terminal_type, terminal_info,
	started_at, last_activity_at, ended_at, is_idle`

// CreateSession inserts a new session. It fails if session_id already exists.
// Zero StartedAt and LastActivityAt default to now.
func (db *DB) CreateSession(ctx context.Context, s *Session) error {
	now := db.Now()
	started := orNow(s.StartedAt, now)
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions
		(session_id, project_name, cwd, git_branch, terminal_type, terminal_info,
		 started_at, last_activity_at, is_idle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, nullStr(s.ProjectName), s.Cwd, nullStr(s.GitBranch),
		nullStr(s.TerminalType), nullStr(s.TerminalInfo),
		started, orNow(s.LastActivityAt, now), boolToInt(s.IsIdle),
	)
	if err != nil {
		return wrapBusy(fmt.Errorf("creating session %s: %w", s.SessionID, err))
	}
	return nil
}

// UpsertSession inserts a session or, if it exists, refreshes its
// descriptive columns and last_activity_at. started_at and ended_at of an
// existing row are kept.
func (db *DB) UpsertSession(ctx context.Context, s *Session) error {
	now := db.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions
		(session_id, project_name, cwd, git_branch, terminal_type, terminal_info,
		 started_at, last_activity_at, is_idle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			project_name     = COALESCE(excluded.project_name, sessions.project_name),
			cwd              = excluded.cwd,
			git_branch       = COALESCE(excluded.git_branch, sessions.git_branch),
			terminal_type    = COALESCE(excluded.terminal_type, sessions.terminal_type),
			terminal_info    = COALESCE(excluded.terminal_info, sessions.terminal_info),
			last_activity_at = excluded.last_activity_at`,
		s.SessionID, nullStr(s.ProjectName), s.Cwd, nullStr(s.GitBranch),
		nullStr(s.TerminalType), nullStr(s.TerminalInfo),
		orNow(s.StartedAt, now), orNow(s.LastActivityAt, now), boolToInt(s.IsIdle),
	)
	if err != nil {
		return wrapBusy(fmt.Errorf("upserting session %s: %w", s.SessionID, err))
	}
	return nil
}

// GetSession returns a session by ID, or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE session_id = ?", sessionID)
	s, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapBusy(err)
	}
	return s, nil
}

// TouchSession sets last_activity_at to now.
func (db *DB) TouchSession(ctx context.Context, sessionID string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET last_activity_at = ? WHERE session_id = ?", db.Now(), sessionID)
	return wrapBusy(err)
}

// SetSessionIdle sets the idle flag.
func (db *DB) SetSessionIdle(ctx context.Context, sessionID string, idle bool) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET is_idle = ? WHERE session_id = ?", boolToInt(idle), sessionID)
	return wrapBusy(err)
}

// EndSession records ended_at. A session that already ended keeps its
// original ended_at.
func (db *DB) EndSession(ctx context.Context, sessionID string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL", db.Now(), sessionID)
	return wrapBusy(err)
}

// GetActiveSessions returns sessions that have not ended, most recently
// active first.
func (db *DB) GetActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE ended_at IS NULL ORDER BY last_activity_at DESC")
	if err != nil {
		return nil, wrapBusy(err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, wrapBusy(rows.Err())
}

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var s Session
	var project, branch, termType, termInfo sql.NullString
	var ended sql.NullInt64
	var idle int
	if err := scan(&s.SessionID, &project, &s.Cwd, &branch, &termType, &termInfo,
		&s.StartedAt, &s.LastActivityAt, &ended, &idle); err != nil {
		return nil, err
	}
	s.ProjectName = project.String
	s.GitBranch = branch.String
	s.TerminalType = termType.String
	s.TerminalInfo = termInfo.String
	s.EndedAt = int64Ptr(ended)
	s.IsIdle = idle != 0
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
