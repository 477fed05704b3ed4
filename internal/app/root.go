// Package app contains the Cobra command tree for hooknotify.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/config"
	"github.com/blackwell-systems/hooknotify/internal/enrich"
	"github.com/blackwell-systems/hooknotify/internal/hook"
	"github.com/blackwell-systems/hooknotify/internal/output"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

// maxEventSize bounds how much of stdin is read as one hook event.
const maxEventSize = 4 << 20

var (
	flagNoColor      bool
	flagJSON         bool
	flagVerbose      bool
	flagConfig       string
	flagDB           string
	flagProcessQueue bool
	flagDaemon       bool
	flagInterval     int
	flagBatchSize    int
)

var rootCmd = &cobra.Command{
	Use:   "hooknotify",
	Short: "Durable notifications for developer-tool hook events",
	Long: `hooknotify receives hook events from an AI coding assistant on stdin,
records them in a local SQLite database, rate-limits and deduplicates
notifications per session, and delivers them through a durable queue with
retries and a dead-letter state.

Examples:
  echo '{"hook_event_name":"Stop",...}' | hooknotify   # handle one hook event
  hooknotify --process-queue                          # deliver pending notifications once
  hooknotify --daemon --interval 60                   # run the dispatcher loop
  hooknotify stats                                    # queue and rate limit summary`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		colorPref := true
		// Config errors surface from the command itself.
		if cfg, err := config.Load(flagConfig); err == nil {
			colorPref = cfg.Output.Color
		}
		output.SetNoColor(noColor(flagNoColor, colorPref, isatty.IsTerminal(os.Stdout.Fd())))
	},
	RunE: runRoot,
}

// noColor reports whether styling is disabled by the --no-color flag, the
// output.color setting, or a non-terminal stdout.
func noColor(flag, colorPref, tty bool) bool {
	return flag || !colorPref || !tty
}

// Execute is the entry point called from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/hooknotify/config.yaml)")
	pf.StringVar(&flagDB, "db", "", "Database path (default: ~/.config/hooknotify/hooknotify.db)")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&flagJSON, "json", false, "Output as JSON")
	pf.BoolVar(&flagVerbose, "verbose", false, "Log to stderr at debug level")

	rootCmd.Flags().BoolVar(&flagProcessQueue, "process-queue", false, "Deliver queued notifications once and exit")
	rootCmd.Flags().BoolVar(&flagDaemon, "daemon", false, "Run the dispatcher loop in the foreground")
	rootCmd.Flags().IntVar(&flagInterval, "interval", 0, "Dispatcher interval in seconds (default from config, 60)")
	rootCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "Notifications per batch (default from config, 10)")
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagDaemon {
		return runDaemon(cmd.Context(), cmd.OutOrStdout())
	}

	in := cmd.InOrStdin()
	if !flagProcessQueue {
		if f, ok := in.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			_ = cmd.Usage()
			return errors.New("expected a hook event as JSON on stdin")
		}
	}

	rt, err := openEnv("hook")
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.cfg.Enabled {
		rt.log.Info().Msg("notifications disabled")
		return nil
	}

	if flagProcessQueue {
		return runProcessQueue(cmd.Context(), rt, cmd.OutOrStdout())
	}
	return runHook(cmd.Context(), rt, in, cmd.OutOrStdout())
}

// runHook handles one event from in. A queued notification triggers one
// immediate delivery attempt so it does not wait for the dispatcher.
func runHook(ctx context.Context, rt *env, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(io.LimitReader(in, maxEventSize))
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	e, err := hook.ParseEvent(data)
	if err != nil {
		rt.log.Error().Err(err).Msg("invalid hook event")
		return err
	}

	start := time.Now()
	h := hook.NewHandler(rt.db, rt.queue, rt.limiter, enrich.NewEnv(), rt.cfg.HookSettings(), rt.log)
	res, err := h.Handle(ctx, e)
	if err != nil {
		return err
	}

	if res.Status == hook.StatusQueued {
		if _, err := rt.dispatcher.ProcessQueue(ctx, 1, 1); err != nil {
			rt.log.Warn().Err(err).Msg("immediate queue processing failed")
		}
	}
	rt.log.Debug().Dur("elapsed", time.Since(start)).Str("status", res.Status).Msg("hook complete")

	if flagJSON {
		return writeJSON(out, res)
	}
	return nil
}

func runProcessQueue(ctx context.Context, rt *env, out io.Writer) error {
	n, err := rt.dispatcher.ProcessQueue(ctx, batchSize(rt), rt.cfg.Dispatcher.MaxRetries)
	if err != nil {
		return fmt.Errorf("processing queue: %w", err)
	}
	rt.log.Info().Int("processed", n).Msg("queue processed")
	return writeJSON(out, map[string]int{"processed": n})
}

func batchSize(rt *env) int {
	if flagBatchSize > 0 {
		return flagBatchSize
	}
	return rt.cfg.Dispatcher.BatchSize
}

func dispatchInterval(rt *env) time.Duration {
	if flagInterval > 0 {
		return time.Duration(flagInterval) * time.Second
	}
	return rt.cfg.Dispatcher.Interval
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
