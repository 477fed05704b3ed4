// Package ratelimit gates notification admission per session and type with
// a cooldown window and a content-hash dedup window, and counts what it
// suppressed since the last send.
//
// All state lives in the store's rate_limit_state and dedup_history tables
// so that every hook process sees the same view.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/hooknotify/internal/payload"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

// Decision reasons.
const (
	ReasonDisabled       = "rate_limiting_disabled"
	ReasonNoCooldown     = "no_cooldown"
	ReasonFirst          = "first_notification"
	ReasonCooldownActive = "cooldown_active"
	ReasonDuplicate      = "duplicate_suppressed"
	ReasonCooldownExpire = "cooldown_expired"
)

// Result is the outcome of ShouldSend.
type Result struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason"`
	SuppressedCount   int    `json:"suppressed_count"`
	LastSentAt        *int64 `json:"last_sent_at,omitempty"`
	CooldownRemaining int    `json:"cooldown_remaining"`
}

// Limiter decides whether a notification may be sent.
type Limiter struct {
	db  *store.DB
	cfg Config
	now func() time.Time
	log zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// New creates a Limiter over db.
func New(db *store.DB, cfg Config, opts ...Option) *Limiter {
	l := &Limiter{db: db, cfg: cfg, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// ShouldSend decides whether a notification of notificationType may be
// sent for sessionID. Rejections increment the suppressed count. p may be
// nil, in which case deduplication is skipped.
func (l *Limiter) ShouldSend(ctx context.Context, sessionID, notificationType string, p payload.Payload) (Result, error) {
	if !l.cfg.Enabled {
		return Result{Allowed: true, Reason: ReasonDisabled}, nil
	}

	cooldown := l.cfg.Cooldown(notificationType)
	if cooldown == 0 {
		return Result{Allowed: true, Reason: ReasonNoCooldown}, nil
	}

	var res Result
	err := l.db.WithImmediateTx(ctx, func(q store.Querier) error {
		var lastSent int64
		var suppressed int
		err := q.QueryRowContext(ctx,
			`SELECT last_sent_at, suppressed_count FROM rate_limit_state
			 WHERE session_id = ? AND notification_type = ?`,
			sessionID, notificationType,
		).Scan(&lastSent, &suppressed)
		if errors.Is(err, sql.ErrNoRows) {
			res = Result{Allowed: true, Reason: ReasonFirst}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading rate limit state: %w", err)
		}

		now := l.now().Unix()
		elapsed := now - lastSent
		res.LastSentAt = &lastSent

		if elapsed < int64(cooldown) {
			count, err := incrementSuppressed(ctx, q, sessionID, notificationType, now)
			if err != nil {
				return err
			}
			res.Reason = ReasonCooldownActive
			res.SuppressedCount = count
			res.CooldownRemaining = cooldown - int(elapsed)
			return nil
		}

		if l.cfg.DedupEnabled && p != nil {
			dup, err := l.isDuplicate(ctx, q, sessionID, notificationType, HashPayload(p), now)
			if err != nil {
				return err
			}
			if dup {
				count, err := incrementSuppressed(ctx, q, sessionID, notificationType, now)
				if err != nil {
					return err
				}
				res.Reason = ReasonDuplicate
				res.SuppressedCount = count
				return nil
			}
		}

		res.Allowed = true
		res.Reason = ReasonCooldownExpire
		res.SuppressedCount = suppressed
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if !res.Allowed {
		l.log.Debug().
			Str("session_id", sessionID).
			Str("type", notificationType).
			Str("reason", res.Reason).
			Int("suppressed", res.SuppressedCount).
			Msg("notification suppressed")
	}
	return res, nil
}

func (l *Limiter) isDuplicate(ctx context.Context, q store.Querier, sessionID, notificationType, hash string, now int64) (bool, error) {
	window := int64(l.cfg.DedupWindowSeconds)
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM dedup_history
		 WHERE session_id = ? AND notification_type = ? AND payload_hash = ? AND sent_at >= ?`,
		sessionID, notificationType, hash, now-window,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking dedup history: %w", err)
	}
	return true, nil
}

// incrementSuppressed bumps suppressed_count in place and returns the
// value the row holds after the update.
func incrementSuppressed(ctx context.Context, q store.Querier, sessionID, notificationType string, now int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`UPDATE rate_limit_state
		 SET suppressed_count = suppressed_count + 1, updated_at = ?
		 WHERE session_id = ? AND notification_type = ?
		 RETURNING suppressed_count`,
		now, sessionID, notificationType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing suppressed count: %w", err)
	}
	return count, nil
}

// RecordSent marks a send for (sessionID, notificationType): last_sent_at
// becomes now and the suppressed count resets to 0. When p is non-nil its
// hash is recorded in the dedup history. It returns the suppressed count
// as it was just before the reset.
func (l *Limiter) RecordSent(ctx context.Context, sessionID, notificationType string, p payload.Payload) (int, error) {
	now := l.now().Unix()
	var prior int

	err := l.db.WithImmediateTx(ctx, func(q store.Querier) error {
		var count sql.NullInt64
		err := q.QueryRowContext(ctx,
			`SELECT suppressed_count FROM rate_limit_state
			 WHERE session_id = ? AND notification_type = ?`,
			sessionID, notificationType,
		).Scan(&count)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reading suppressed count: %w", err)
		}
		prior = int(count.Int64)

		var hash any
		if p != nil {
			hash = HashPayload(p)
		}

		if _, err := q.ExecContext(ctx,
			`INSERT INTO rate_limit_state
			 (session_id, notification_type, last_sent_at, suppressed_count, last_payload_hash, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT(session_id, notification_type) DO UPDATE SET
				last_sent_at = excluded.last_sent_at,
				suppressed_count = 0,
				last_payload_hash = excluded.last_payload_hash,
				updated_at = excluded.updated_at`,
			sessionID, notificationType, now, hash, now, now,
		); err != nil {
			return fmt.Errorf("upserting rate limit state: %w", err)
		}

		if hash != nil {
			if _, err := q.ExecContext(ctx,
				`INSERT OR REPLACE INTO dedup_history (session_id, notification_type, payload_hash, sent_at)
				 VALUES (?, ?, ?, ?)`,
				sessionID, notificationType, hash, now,
			); err != nil {
				return fmt.Errorf("recording dedup history: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return prior, nil
}

// SuppressedCount returns the current suppressed count, 0 if no state exists.
func (l *Limiter) SuppressedCount(ctx context.Context, sessionID, notificationType string) (int, error) {
	var count int
	err := l.db.Conn().QueryRowContext(ctx,
		`SELECT suppressed_count FROM rate_limit_state
		 WHERE session_id = ? AND notification_type = ?`,
		sessionID, notificationType,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// HashPayload returns the first 16 hex characters of the SHA-256 of the
// payload's dedup fields encoded as compact JSON with sorted keys. Hashes
// are only compared against rows this package wrote; rows written with a
// different JSON spacing will not match.
func HashPayload(p payload.Payload) string {
	// encoding/json writes map keys in sorted order at every depth.
	raw, err := json.Marshal(p.DedupFields())
	if err != nil {
		raw = []byte(p.Kind())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}
