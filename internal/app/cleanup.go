package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/retention"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old delivered and dead-lettered notifications",
	Long: `Delete sent and dead-lettered notifications older than --days and rate
limit state older than state_ttl_hours. Pending, processing and failed
notifications are kept at any age.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupDays < 1 {
			return fmt.Errorf("--days must be at least 1, got %d", cleanupDays)
		}
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := retention.New(rt.queue, rt.limiter, cleanupDays, rt.log).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d notification(s) older than %d days and %d rate limit row(s).\n",
			res.Notifications, cleanupDays, res.RateLimitRows)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Delete finished notifications older than this many days")
	rootCmd.AddCommand(cleanupCmd)
}
