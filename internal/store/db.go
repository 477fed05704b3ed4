package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultBusyTimeout is how long a connection waits on a locked database
// before surfacing ErrBusy.
const DefaultBusyTimeout = 30 * time.Second

var (
	// ErrBusy reports that the database stayed locked for longer than the
	// busy timeout. Callers should treat it as transient and retry.
	ErrBusy = errors.New("database is busy")

	// ErrNotFound is returned by lookups that must identify an existing row.
	ErrNotFound = errors.New("not found")
)

// Cipher encrypts config values at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	IsEncrypted(value string) bool
}

// DB wraps a sql.DB connection to the notification database.
type DB struct {
	conn        *sql.DB
	cipher      Cipher
	now         func() time.Time
	busyTimeout time.Duration
}

// Option configures a DB at open time.
type Option func(*DB)

// WithCipher sets the cipher used for encrypted config values.
func WithCipher(c Cipher) Option {
	return func(db *DB) { db.cipher = c }
}

// WithClock overrides the time source used for created_at/updated_at columns.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithBusyTimeout overrides DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(db *DB) { db.busyTimeout = d }
}

// Open opens or creates the SQLite database at the given path.
// It creates the parent directory if it does not exist. The database runs
// in WAL mode so hook processes and dispatchers can share the file.
func Open(dbPath string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db := newDB(opts)
	conn, err := sql.Open("sqlite", fileDSN(dbPath, db.busyTimeout))
	if err != nil {
		return nil, err
	}
	db.conn = conn

	if err := db.Migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

// OpenInMemory opens an in-memory SQLite database, useful for testing.
// The pool is pinned to one connection because every new connection to
// ":memory:" would see an empty database.
func OpenInMemory(opts ...Option) (*DB, error) {
	db := newDB(opts)
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	db.conn = conn

	if err := db.Migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func newDB(opts []Option) *DB {
	db := &DB{now: time.Now, busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// fileDSN builds a modernc DSN whose pragmas are applied to every pooled
// connection, not just the first one.
func fileDSN(path string, busy time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for advanced queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Now returns the store clock as unix seconds.
func (db *DB) Now() int64 {
	return db.now().Unix()
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithImmediateTx runs fn inside a BEGIN IMMEDIATE transaction on a
// dedicated connection. The write lock is taken up front, so two callers
// selecting and updating the same rows are serialized instead of racing.
func (db *DB) WithImmediateTx(ctx context.Context, fn func(q Querier) error) (err error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return wrapBusy(err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return wrapBusy(fmt.Errorf("begin immediate: %w", err))
	}

	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	if err = fn(conn); err != nil {
		return wrapBusy(err)
	}

	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapBusy(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// IsBusy reports whether err is a SQLite BUSY or LOCKED condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// wrapBusy tags lock contention errors with ErrBusy, leaving others as-is.
func wrapBusy(err error) error {
	if err == nil || errors.Is(err, ErrBusy) || !IsBusy(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBusy, err)
}

// encodeJSON marshals v, storing raw JSON values verbatim.
func encodeJSON(v any) (string, error) {
	switch b := v.(type) {
	case json.RawMessage:
		if len(b) > 0 {
			return string(b), nil
		}
	case []byte:
		if json.Valid(b) {
			return string(b), nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
