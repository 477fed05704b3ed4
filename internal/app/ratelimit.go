package app

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/output"
)

var (
	rateLimitSession  string
	rateLimitMaxHours int
)

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and manage rate limiter state",
}

var rateLimitStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show suppression counts by notification type",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		stats, err := rt.limiter.Stats(cmd.Context(), rateLimitSession)
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), stats)
		}

		w := cmd.OutOrStdout()
		fmt.Fprint(w, output.Section("Rate limiting"))
		fmt.Fprint(w, output.KV("Sessions", stats.TotalSessions))
		fmt.Fprint(w, output.KV("Suppressed", stats.TotalSuppressed))
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		tbl := output.NewTable("Type", "Cooldown", "Sessions", "Suppressed")
		cfg := rt.limiter.Config()
		for _, t := range types {
			s := stats.ByType[t]
			tbl.AddRow(t, fmt.Sprintf("%ds", cfg.Cooldown(t)), strconv.Itoa(s.Count), strconv.Itoa(s.Suppressed))
		}
		if tbl.Len() > 0 {
			fmt.Fprintln(w)
			_ = tbl.Fprint(w)
		}
		return nil
	},
}

var rateLimitCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete rate limit state older than --max-age hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.limiter.CleanupOldState(cmd.Context(), rateLimitMaxHours)
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d rate limit row(s).\n", n)
		return nil
	},
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear cooldowns and dedup history of one session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rateLimitSession == "" {
			return errors.New("--session is required")
		}
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.limiter.ResetSession(cmd.Context(), rateLimitSession); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset rate limit state for session %s.\n", rateLimitSession)
		return nil
	},
}

func init() {
	rateLimitCmd.PersistentFlags().StringVar(&rateLimitSession, "session", "", "Session ID")
	rateLimitCleanupCmd.Flags().IntVar(&rateLimitMaxHours, "max-age", 0, "Maximum age in hours (default: state_ttl_hours)")
	rateLimitCmd.AddCommand(rateLimitStatsCmd, rateLimitCleanupCmd, rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
