// Package dispatch drives queued notifications to their senders. A
// Dispatcher claims a batch from the queue, delivers each notification and
// reports the outcome back, so the queue can apply its retry policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/hooknotify/internal/queue"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 10 * time.Second

// DefaultMaxRetries is the retry ceiling used by Run.
const DefaultMaxRetries = 3

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n *queue.Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n *queue.Notification) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, n *queue.Notification) error { return f(ctx, n) }

// Dispatcher moves notifications from the queue to a Sender.
type Dispatcher struct {
	db          *store.DB
	queue       *queue.Queue
	sender      Sender
	sendTimeout time.Duration
	maxRetries  int
	log         zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSendTimeout overrides DefaultSendTimeout.
func WithSendTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.sendTimeout = d }
}

// WithMaxRetries overrides DefaultMaxRetries for Run.
func WithMaxRetries(n int) Option {
	return func(disp *Dispatcher) { disp.maxRetries = n }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(disp *Dispatcher) { disp.log = log }
}

// New creates a Dispatcher. db receives latency metrics and audit entries.
func New(db *store.DB, q *queue.Queue, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		db:          db,
		queue:       q,
		sender:      sender,
		sendTimeout: DefaultSendTimeout,
		maxRetries:  DefaultMaxRetries,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProcessQueue claims up to batch notifications that are pending, or failed
// with fewer than maxRetries attempts regardless of their backoff time, and
// delivers each one. A failed delivery is recorded and the batch continues.
// It returns the number of notifications attempted; the error is non-nil
// only when the claim itself fails.
func (d *Dispatcher) ProcessQueue(ctx context.Context, batch, maxRetries int) (int, error) {
	claimed, err := d.queue.DequeueIgnoringBackoff(ctx, batch, maxRetries)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range claimed {
		d.deliver(ctx, &claimed[i])
		processed++
	}
	return processed, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *queue.Notification) {
	log := d.log.With().Int64("id", n.ID).Str("backend", n.Backend).Str("session_id", n.SessionID).Logger()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	start := time.Now()
	err := d.send(sendCtx, n)
	cancel()
	latency := time.Since(start)

	// Outcomes are recorded even if ctx was cancelled mid-send.
	bg := context.WithoutCancel(ctx)

	if err != nil {
		log.Warn().Err(err).Int("retry_count", n.RetryCount).Msg("delivery failed")
		if markErr := d.queue.MarkFailed(bg, n.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("recording failure")
		}
		d.audit(bg, store.ActionNotificationFailed, n, map[string]any{"error": err.Error()})
		return
	}

	if markErr := d.queue.MarkSent(bg, n.ID); markErr != nil {
		log.Error().Err(markErr).Msg("recording delivery")
	}
	if _, mErr := d.db.InsertMetric(bg, store.MetricDispatchLatency, float64(latency.Milliseconds()), n.SessionID); mErr != nil {
		log.Debug().Err(mErr).Msg("recording latency")
	}
	d.audit(bg, store.ActionNotificationSent, n, map[string]any{"latency_ms": latency.Milliseconds()})
	log.Debug().Dur("latency", latency).Msg("delivered")
}

// send calls the sender, converting a panic into an error so one bad
// notification cannot take down the batch.
func (d *Dispatcher) send(ctx context.Context, n *queue.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	if d.sender == nil {
		return errors.New("no sender configured")
	}
	return d.sender.Send(ctx, n)
}

func (d *Dispatcher) audit(ctx context.Context, action string, n *queue.Notification, details map[string]any) {
	details["notification_id"] = n.ID
	details["backend"] = n.Backend
	if _, err := d.db.InsertAuditLog(ctx, action, n.SessionID, details); err != nil {
		d.log.Debug().Err(err).Str("action", action).Msg("writing audit log")
	}
}

// Run processes the queue once per interval until ctx is cancelled. A
// failed iteration is logged and the loop continues. It returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, batch int) error {
	runID := uuid.NewString()
	log := d.log.With().Str("run_id", runID).Logger()
	log.Info().Dur("interval", interval).Int("batch", batch).Msg("dispatcher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.tick(ctx, log, batch)

		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, log zerolog.Logger, batch int) {
	if ctx.Err() != nil {
		return
	}
	n, err := d.ProcessQueue(ctx, batch, d.maxRetries)
	if err != nil {
		log.Error().Err(err).Msg("processing queue")
		return
	}
	if n > 0 {
		log.Info().Int("processed", n).Msg("batch delivered")
	}
}
