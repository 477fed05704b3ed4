package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// TypeStats aggregates state rows of one notification type.
type TypeStats struct {
	Count      int `json:"count"`
	Suppressed int `json:"suppressed"`
}

// Stats summarizes rate limiter state.
type Stats struct {
	TotalSessions   int                  `json:"total_sessions"`
	TotalSuppressed int                  `json:"total_suppressed"`
	ByType          map[string]TypeStats `json:"by_type"`
}

// globalStatsLimit caps the rows scanned when no session is given.
const globalStatsLimit = 100

// Stats aggregates state for one session, or for the 100 most recently
// updated rows when sessionID is empty.
func (l *Limiter) Stats(ctx context.Context, sessionID string) (Stats, error) {
	query := `SELECT session_id, notification_type, suppressed_count
		FROM rate_limit_state WHERE session_id = ?`
	args := []any{sessionID}
	if sessionID == "" {
		query = `SELECT session_id, notification_type, suppressed_count
			FROM rate_limit_state ORDER BY updated_at DESC LIMIT ?`
		args = []any{globalStatsLimit}
	}

	rows, err := l.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("querying rate limit stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := Stats{ByType: make(map[string]TypeStats)}
	sessions := make(map[string]struct{})
	for rows.Next() {
		var sid, ntype string
		var suppressed int
		if err := rows.Scan(&sid, &ntype, &suppressed); err != nil {
			return Stats{}, err
		}
		sessions[sid] = struct{}{}
		stats.TotalSuppressed += suppressed
		ts := stats.ByType[ntype]
		ts.Count++
		ts.Suppressed += suppressed
		stats.ByType[ntype] = ts
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	stats.TotalSessions = len(sessions)
	return stats, nil
}

// CleanupOldState deletes state rows not updated, and dedup entries not
// sent, within maxAgeHours. A zero maxAgeHours uses the configured TTL.
// It returns the number of rows removed from both tables.
func (l *Limiter) CleanupOldState(ctx context.Context, maxAgeHours int) (int64, error) {
	if maxAgeHours <= 0 {
		maxAgeHours = l.cfg.StateTTLHours
	}
	cutoff := l.now().Add(-time.Duration(maxAgeHours) * time.Hour).Unix()

	res, err := l.db.Conn().ExecContext(ctx, "DELETE FROM rate_limit_state WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning rate limit state: %w", err)
	}
	states, _ := res.RowsAffected()

	res, err = l.db.Conn().ExecContext(ctx, "DELETE FROM dedup_history WHERE sent_at < ?", cutoff)
	if err != nil {
		return states, fmt.Errorf("cleaning dedup history: %w", err)
	}
	dedup, _ := res.RowsAffected()

	l.log.Debug().Int64("states", states).Int64("dedup", dedup).Msg("rate limit state cleaned")
	return states + dedup, nil
}

// ResetSession removes all rate limit and dedup state of a session.
func (l *Limiter) ResetSession(ctx context.Context, sessionID string) error {
	if _, err := l.db.Conn().ExecContext(ctx, "DELETE FROM rate_limit_state WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("resetting rate limit state: %w", err)
	}
	if _, err := l.db.Conn().ExecContext(ctx, "DELETE FROM dedup_history WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("resetting dedup history: %w", err)
	}
	return nil
}
