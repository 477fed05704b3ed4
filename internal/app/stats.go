package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/enrich"
	"github.com/blackwell-systems/hooknotify/internal/output"
	"github.com/blackwell-systems/hooknotify/internal/queue"
	"github.com/blackwell-systems/hooknotify/internal/ratelimit"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

var statsSession string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue, rate limit and delivery statistics",
	Long: `Show notification counts by status, notifications waiting for a retry,
rate limiter suppression counts and delivery latency over the last 24 hours.

Examples:
  hooknotify stats                       # all sessions
  hooknotify stats --session 9f2c...     # one session
  hooknotify stats --json                # machine-readable`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := collectStats(cmd.Context(), rt, statsSession, time.Now())
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		renderStats(cmd.OutOrStdout(), report, time.Now())
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsSession, "session", "", "Limit to one session ID")
	rootCmd.AddCommand(statsCmd)
}

type statsReport struct {
	Queue       queue.Stats          `json:"queue"`
	ReadyToSend int                  `json:"ready_to_send"`
	Retrying    []store.Notification `json:"retrying"`
	RateLimit   ratelimit.Stats      `json:"rate_limit"`
	Latency     store.MetricStats    `json:"dispatch_latency_ms_24h"`
}

func collectStats(ctx context.Context, rt *env, sessionID string, now time.Time) (*statsReport, error) {
	var (
		r   statsReport
		err error
	)
	if r.Queue, err = rt.queue.Stats(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	if r.ReadyToSend, err = rt.queue.PendingCount(ctx, sessionID); err != nil {
		return nil, err
	}
	failed, err := rt.db.GetFailedNotificationsForRetry(ctx, queue.MaxRetries+1)
	if err != nil {
		return nil, fmt.Errorf("listing failed notifications: %w", err)
	}
	for _, n := range failed {
		if sessionID == "" || n.SessionID == sessionID {
			r.Retrying = append(r.Retrying, n)
		}
	}
	if r.RateLimit, err = rt.limiter.Stats(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("rate limit stats: %w", err)
	}
	if r.Latency, err = rt.db.GetMetricStats(ctx, store.MetricDispatchLatency, now.Add(-24*time.Hour).Unix()); err != nil {
		return nil, fmt.Errorf("latency stats: %w", err)
	}
	return &r, nil
}

func renderStats(w io.Writer, r *statsReport, now time.Time) {
	q := r.Queue
	fmt.Fprint(w, output.Section("Queue"))
	fmt.Fprint(w, output.KV("Pending", q.Pending))
	fmt.Fprint(w, output.KV("Processing", q.Processing))
	fmt.Fprint(w, output.KV("Sent", q.Sent))
	fmt.Fprint(w, output.KV("Failed", q.Failed))
	fmt.Fprint(w, output.KV("Dead letter", q.DeadLetter))
	fmt.Fprint(w, output.KV("Total", q.Total))
	fmt.Fprint(w, output.KV("Ready to send", r.ReadyToSend))
	fmt.Fprintf(w, "%s%s\n", output.StyleLabel.Render("Delivered"), output.RatioBar(q.Sent, q.Sent+q.DeadLetter, 20))

	if len(r.Retrying) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, output.Section("Waiting for retry"))
		tbl := output.NewTable("ID", "Type", "Session", "Attempts", "Next retry", "Error")
		for _, n := range r.Retrying {
			next := "now"
			if n.NextRetryAt != nil {
				next = queue.FormatRetryTime(*n.NextRetryAt, now)
			}
			tbl.AddRow(
				strconv.FormatInt(n.ID, 10),
				n.NotificationType,
				enrich.SessionSerial(n.SessionID),
				fmt.Sprintf("%d/%d", n.RetryCount, queue.MaxRetries),
				next,
				output.Truncate(n.Error, 40),
			)
		}
		_ = tbl.Fprint(w)
	}

	rl := r.RateLimit
	fmt.Fprintln(w)
	fmt.Fprint(w, output.Section("Rate limiting"))
	fmt.Fprint(w, output.KV("Sessions", rl.TotalSessions))
	fmt.Fprint(w, output.KV("Suppressed", rl.TotalSuppressed))
	if len(rl.ByType) > 0 {
		types := make([]string, 0, len(rl.ByType))
		for t := range rl.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		tbl := output.NewTable("Type", "Sessions", "Suppressed")
		for _, t := range types {
			s := rl.ByType[t]
			tbl.AddRow(t, strconv.Itoa(s.Count), strconv.Itoa(s.Suppressed))
		}
		_ = tbl.Fprint(w)
	}

	lat := r.Latency
	fmt.Fprintln(w)
	fmt.Fprint(w, output.Section("Delivery latency (24h)"))
	if lat.Count == 0 {
		fmt.Fprintln(w, output.StyleMuted.Render("No deliveries recorded."))
		return
	}
	fmt.Fprint(w, output.KV("Deliveries", lat.Count))
	fmt.Fprint(w, output.KV("Avg", fmt.Sprintf("%.0f ms", lat.Avg)))
	fmt.Fprint(w, output.KV("Min / Max", fmt.Sprintf("%.0f / %.0f ms", lat.Min, lat.Max)))
}
