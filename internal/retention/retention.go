// Package retention periodically deletes finished notifications and stale
// rate limit state.
package retention

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/hooknotify/internal/queue"
	"github.com/blackwell-systems/hooknotify/internal/ratelimit"
)

// DefaultSchedule runs the sweep once a day at midnight.
const DefaultSchedule = "@daily"

// cronParser accepts standard 5-field expressions, an optional seconds
// field and descriptors such as @daily or @every 6h.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Result reports what one sweep removed.
type Result struct {
	Notifications int64 `json:"notifications"`
	RateLimitRows int64 `json:"rate_limit_rows"`
}

// Job deletes sent and dead-lettered notifications older than Days and
// rate limit state older than the limiter's TTL.
type Job struct {
	queue   *queue.Queue
	limiter *ratelimit.Limiter
	days    int
	log     zerolog.Logger
}

// New creates a Job. days <= 0 keeps notifications forever.
func New(q *queue.Queue, limiter *ratelimit.Limiter, days int, log zerolog.Logger) *Job {
	return &Job{queue: q, limiter: limiter, days: days, log: log}
}

// Sweep runs one cleanup pass.
func (j *Job) Sweep(ctx context.Context) (Result, error) {
	var res Result
	if j.days > 0 {
		n, err := j.queue.CleanupOld(ctx, j.days)
		if err != nil {
			return res, fmt.Errorf("cleaning notifications: %w", err)
		}
		res.Notifications = n
	}
	n, err := j.limiter.CleanupOldState(ctx, 0)
	if err != nil {
		return res, fmt.Errorf("cleaning rate limit state: %w", err)
	}
	res.RateLimitRows = n
	return res, nil
}

// Run schedules Sweep on schedule and blocks until ctx is cancelled. A
// failed sweep is logged and the schedule continues.
func (j *Job) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(schedule, func() { j.sweepAndLog(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	j.log.Info().Str("schedule", schedule).Int("retention_days", j.days).Msg("retention job scheduled")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (j *Job) sweepAndLog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := j.Sweep(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	j.log.Info().
		Int64("notifications", res.Notifications).
		Int64("rate_limit_rows", res.RateLimitRows).
		Msg("retention sweep complete")
}

// ValidateSchedule reports whether schedule parses.
func ValidateSchedule(schedule string) error {
	_, err := cronParser.Parse(schedule)
	return err
}
