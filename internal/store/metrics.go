package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MetricDispatchLatency is the per-send latency sample recorded by the dispatcher.
const MetricDispatchLatency = "dispatch_latency_ms"

// InsertMetric appends a metric sample.
func (db *DB) InsertMetric(ctx context.Context, name string, value float64, sessionID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO metrics (metric_name, metric_value, session_id, created_at) VALUES (?, ?, ?, ?)",
		name, value, nullStr(sessionID), db.Now(),
	)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("inserting metric: %w", err))
	}
	return result.LastInsertId()
}

// GetMetricsByName returns samples of one metric, newest first.
func (db *DB) GetMetricsByName(ctx context.Context, name string, limit int) ([]Metric, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, metric_name, metric_value, session_id, created_at FROM metrics
		 WHERE metric_name = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, wrapBusy(err)
	}
	defer func() { _ = rows.Close() }()

	var metrics []Metric
	for rows.Next() {
		var m Metric
		var session sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &session, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SessionID = session.String
		metrics = append(metrics, m)
	}
	return metrics, wrapBusy(rows.Err())
}

// GetMetricStats aggregates samples of one metric created at or after
// since. A zero since covers all samples.
func (db *DB) GetMetricStats(ctx context.Context, name string, since int64) (MetricStats, error) {
	var stats MetricStats
	var avg, lo, hi sql.NullFloat64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(metric_value), MIN(metric_value), MAX(metric_value)
		 FROM metrics WHERE metric_name = ? AND created_at >= ?`,
		name, since,
	).Scan(&stats.Count, &avg, &lo, &hi)
	if err != nil {
		return stats, wrapBusy(err)
	}
	stats.Avg = avg.Float64
	stats.Min = lo.Float64
	stats.Max = hi.Float64
	return stats, nil
}
