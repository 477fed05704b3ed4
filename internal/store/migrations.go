package store

import "fmt"

// currentSchemaVersion is the latest schema version.
const currentSchemaVersion = 1

// Migrate runs forward migrations to bring the database schema up to date.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return wrapBusy(fmt.Errorf("creating schema_version table: %w", err))
	}

	version := 0
	row := db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&version); err != nil {
		// No rows means version 0 (fresh database).
		version = 0
	}

	if version < 1 {
		if err := db.migrateV1(); err != nil {
			return wrapBusy(fmt.Errorf("migration v1: %w", err))
		}
	}

	return nil
}

// migrateV1 creates all initial tables and indexes.
func (db *DB) migrateV1() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id   TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			hook_payload TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			processed_at INTEGER
		)`,

		// event_id is a weak reference: 0 means "not linked".
		`CREATE TABLE IF NOT EXISTS notifications (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id          INTEGER NOT NULL DEFAULT 0,
			session_id        TEXT NOT NULL,
			notification_type TEXT NOT NULL,
			backend           TEXT NOT NULL DEFAULT 'default',
			status            TEXT NOT NULL DEFAULT 'pending',
			retry_count       INTEGER NOT NULL DEFAULT 0,
			payload           TEXT NOT NULL,
			error             TEXT,
			created_at        INTEGER NOT NULL,
			sent_at           INTEGER,
			next_retry_at     INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			project_name     TEXT,
			cwd              TEXT NOT NULL,
			git_branch       TEXT,
			terminal_type    TEXT,
			terminal_info    TEXT,
			started_at       INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL,
			ended_at         INTEGER,
			is_idle          INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS config (
			key          TEXT PRIMARY KEY,
			value        TEXT NOT NULL,
			is_encrypted INTEGER NOT NULL DEFAULT 0,
			updated_at   INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			action     TEXT NOT NULL,
			details    TEXT,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS metrics (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			metric_name  TEXT NOT NULL,
			metric_value REAL NOT NULL,
			session_id   TEXT,
			created_at   INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS rate_limit_state (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id        TEXT NOT NULL,
			notification_type TEXT NOT NULL,
			last_sent_at      INTEGER NOT NULL,
			suppressed_count  INTEGER NOT NULL DEFAULT 0,
			last_payload_hash TEXT,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,
			UNIQUE(session_id, notification_type)
		)`,

		`CREATE TABLE IF NOT EXISTS dedup_history (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id        TEXT NOT NULL,
			notification_type TEXT NOT NULL,
			payload_hash      TEXT NOT NULL,
			sent_at           INTEGER NOT NULL,
			UNIQUE(session_id, notification_type, payload_hash)
		)`,

		// Indexes.
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_session ON notifications(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_retry ON notifications(next_retry_at) WHERE status = 'failed'`,
		`CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_name_time ON metrics(metric_name, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_session ON rate_limit_state(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_updated ON rate_limit_state(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_session ON dedup_history(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_sent ON dedup_history(sent_at)`,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:40], err)
		}
	}

	// Set schema version.
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
		return err
	}

	return tx.Commit()
}
