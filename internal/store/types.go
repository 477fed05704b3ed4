// Package store provides SQLite persistence for hook events, queued
// notifications, sessions, config, audit entries and metrics.
package store

import "encoding/json"

// Notification statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusDeadLetter = "dead_letter"
)

// Event is an immutable record of a raw hook event.
type Event struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   int64           `json:"created_at"`
	ProcessedAt *int64          `json:"processed_at,omitempty"`
}

// Notification is a unit of outbound work. Payload is backend-specific JSON.
type Notification struct {
	ID               int64           `json:"id"`
	EventID          int64           `json:"event_id"`
	SessionID        string          `json:"session_id"`
	NotificationType string          `json:"notification_type"`
	Backend          string          `json:"backend"`
	Status           string          `json:"status"`
	RetryCount       int             `json:"retry_count"`
	Payload          json.RawMessage `json:"payload"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        int64           `json:"created_at"`
	SentAt           *int64          `json:"sent_at,omitempty"`
	NextRetryAt      *int64          `json:"next_retry_at,omitempty"`
}

// Session is metadata about one working session of the developer tool.
type Session struct {
	SessionID      string `json:"session_id"`
	ProjectName    string `json:"project_name,omitempty"`
	Cwd            string `json:"cwd"`
	GitBranch      string `json:"git_branch,omitempty"`
	TerminalType   string `json:"terminal_type,omitempty"`
	TerminalInfo   string `json:"terminal_info,omitempty"`
	StartedAt      int64  `json:"started_at"`
	LastActivityAt int64  `json:"last_activity_at"`
	EndedAt        *int64 `json:"ended_at,omitempty"`
	IsIdle         bool   `json:"is_idle"`
}

// AuditEntry is an append-only record of an action taken.
type AuditEntry struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Metric is an append-only numeric sample.
type Metric struct {
	ID        int64   `json:"id"`
	Name      string  `json:"metric_name"`
	Value     float64 `json:"metric_value"`
	SessionID string  `json:"session_id,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// MetricStats aggregates samples of one metric. Avg, Min and Max are zero
// when Count is zero.
type MetricStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}
