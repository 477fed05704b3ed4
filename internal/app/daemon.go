package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/hooknotify/internal/config"
	"github.com/blackwell-systems/hooknotify/internal/retention"
)

var daemonStop bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the dispatcher loop and the retention job",
	Long: `Run the queue dispatcher in the foreground. Every interval it delivers
up to batch-size pending or failed notifications; on the cleanup schedule it
removes old sent and dead-lettered notifications and stale rate limit state.

The process writes a PID file next to the database so a second daemon
refuses to start. Background it with nohup, systemd or launchd.

Examples:
  hooknotify daemon                    # run until interrupted
  hooknotify daemon --interval 30      # poll every 30 seconds
  hooknotify daemon --stop             # stop a running daemon`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if daemonStop {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if flagDB != "" {
				cfg.DBPath = flagDB
			}
			return stopDaemon(cfg.PIDPath(), cmd.OutOrStdout())
		}
		return runDaemon(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonStop, "stop", false, "Stop a running daemon")
	daemonCmd.Flags().IntVar(&flagInterval, "interval", 0, "Dispatcher interval in seconds (default from config, 60)")
	daemonCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "Notifications per batch (default from config, 10)")
	rootCmd.AddCommand(daemonCmd)
}

// runDaemon runs the dispatcher and the retention job until ctx is
// cancelled or either of them fails.
func runDaemon(ctx context.Context, out io.Writer) error {
	rt, err := openEnv("daemon")
	if err != nil {
		return err
	}
	defer rt.Close()

	pidPath := rt.cfg.PIDPath()
	if err := acquirePID(pidPath); err != nil {
		return err
	}
	defer func() { _ = os.Remove(pidPath) }()

	every := dispatchInterval(rt)
	if every <= 0 {
		return fmt.Errorf("interval must be positive, got %s", every)
	}
	schedule := rt.cfg.Dispatcher.CleanupSchedule
	if err := retention.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid dispatcher.cleanup_schedule %q: %w", schedule, err)
	}

	fmt.Fprintf(out, "hooknotify daemon started (PID %d, interval %s, batch %d)\n", os.Getpid(), every, batchSize(rt))
	rt.log.Info().Int("pid", os.Getpid()).Dur("interval", every).Msg("daemon started")

	job := retention.New(rt.queue, rt.limiter, rt.cfg.Dispatcher.RetentionDays, rt.log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.dispatcher.Run(gctx, every, batchSize(rt)) })
	g.Go(func() error { return job.Run(gctx, schedule) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		rt.log.Info().Msg("daemon stopped")
		fmt.Fprintln(out, "Stopped.")
		return nil
	}
	return err
}

// acquirePID writes this process's PID to path, refusing when another live
// daemon owns it. A stale file is replaced.
func acquirePID(path string) error {
	if pid, err := readPID(path); err == nil {
		if processExists(pid) {
			return fmt.Errorf("daemon already running (PID %d). Use 'hooknotify daemon --stop' to stop it", pid)
		}
		_ = os.Remove(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating PID dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

// readPID reads the daemon PID from the PID file.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
