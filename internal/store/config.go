package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ConfigEntry is one persisted key/value setting.
type ConfigEntry struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	IsEncrypted bool   `json:"is_encrypted"`
	UpdatedAt   int64  `json:"updated_at"`
}

// SetConfig upserts a config value. When encrypted is true the value is
// passed through the store cipher before it is written.
func (db *DB) SetConfig(ctx context.Context, key, value string, encrypted bool) error {
	stored := value
	if encrypted {
		if db.cipher == nil {
			return fmt.Errorf("setting %s: encryption requested but no cipher configured", key)
		}
		enc, err := db.cipher.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", key, err)
		}
		stored = enc
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO config (key, value, is_encrypted, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			is_encrypted = excluded.is_encrypted,
			updated_at = excluded.updated_at`,
		key, stored, boolToInt(encrypted), db.Now(),
	)
	if err != nil {
		return wrapBusy(fmt.Errorf("setting config %s: %w", key, err))
	}
	return nil
}

// GetConfig returns the value for key and whether it exists. Encrypted
// values are decrypted; if decryption fails the raw stored value is returned.
func (db *DB) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var e ConfigEntry
	var enc int
	err := db.conn.QueryRowContext(ctx,
		"SELECT key, value, is_encrypted, updated_at FROM config WHERE key = ?", key,
	).Scan(&e.Key, &e.Value, &enc, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapBusy(err)
	}
	e.IsEncrypted = enc != 0
	return db.plaintext(e), true, nil
}

// GetAllConfig returns every config entry ordered by key, with values
// decrypted the same way GetConfig does.
func (db *DB) GetAllConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT key, value, is_encrypted, updated_at FROM config ORDER BY key")
	if err != nil {
		return nil, wrapBusy(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		var enc int
		if err := rows.Scan(&e.Key, &e.Value, &enc, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.IsEncrypted = enc != 0
		e.Value = db.plaintext(e)
		entries = append(entries, e)
	}
	return entries, wrapBusy(rows.Err())
}

// DeleteConfig removes a key. It reports whether a row was deleted.
func (db *DB) DeleteConfig(ctx context.Context, key string) (bool, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM config WHERE key = ?", key)
	if err != nil {
		return false, wrapBusy(err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (db *DB) plaintext(e ConfigEntry) string {
	if !e.IsEncrypted || db.cipher == nil || !db.cipher.IsEncrypted(e.Value) {
		return e.Value
	}
	plain, err := db.cipher.Decrypt(e.Value)
	if err != nil {
		return e.Value
	}
	return plain
}
