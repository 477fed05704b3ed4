package app

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/enrich"
	"github.com/blackwell-systems/hooknotify/internal/output"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

var (
	logSession string
	logAction  string
	logLimit   int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the audit log of queued, suppressed and delivered notifications",
	Long: `Show audit entries, newest first.

Actions: notification_queued, notification_suppressed, notification_sent,
notification_failed, session_ended.

Examples:
  hooknotify log
  hooknotify log --action notification_failed
  hooknotify log --session 4e1f0c52-... --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		var entries []store.AuditEntry
		switch {
		case logSession != "":
			entries, err = rt.db.GetAuditLogsBySession(cmd.Context(), logSession)
		case logAction != "":
			entries, err = rt.db.GetAuditLogsByAction(cmd.Context(), logAction)
		default:
			entries, err = rt.db.GetRecentAuditLogs(cmd.Context(), logLimit)
		}
		if err != nil {
			return err
		}
		if logLimit > 0 && len(entries) > logLimit {
			entries = entries[:logLimit]
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), entries)
		}
		renderAudit(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&logSession, "session", "", "Only entries of this session")
	logCmd.Flags().StringVar(&logAction, "action", "", "Only entries with this action")
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "Maximum entries to show")
	rootCmd.AddCommand(logCmd)
}

func renderAudit(w io.Writer, entries []store.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, output.StyleMuted.Render("No audit entries."))
		return
	}
	tbl := output.NewTable("Time", "Action", "Session", "Details")
	for _, e := range entries {
		tbl.AddRow(
			time.Unix(e.CreatedAt, 0).Format("2006-01-02 15:04:05"),
			e.Action,
			enrich.SessionSerial(e.SessionID),
			output.Truncate(string(e.Details), 60),
		)
	}
	_ = tbl.Fprint(w)
}
