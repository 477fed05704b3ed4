package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/enrich"
	"github.com/blackwell-systems/hooknotify/internal/output"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List active sessions or inspect one",
	Long: `Without arguments, list sessions that have not ended, most recently
active first. With a session ID, show its metadata and notifications.

Examples:
  hooknotify sessions
  hooknotify sessions 4e1f0c52-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		if len(args) == 1 {
			return inspectSession(cmd.Context(), rt, args[0], cmd.OutOrStdout())
		}
		sessions, err := rt.db.GetActiveSessions(cmd.Context())
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), sessions)
		}
		renderSessions(cmd.OutOrStdout(), sessions, time.Now())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func renderSessions(w io.Writer, sessions []store.Session, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, output.StyleMuted.Render("No active sessions."))
		return
	}
	tbl := output.NewTable("Session", "Project", "Terminal", "Idle", "Last activity")
	for _, s := range sessions {
		idle := ""
		if s.IsIdle {
			idle = output.StyleWarning.Render("idle")
		}
		tbl.AddRow(
			enrich.SessionSerial(s.SessionID),
			s.ProjectName,
			s.TerminalType,
			idle,
			ago(now, s.LastActivityAt),
		)
	}
	_ = tbl.Fprint(w)
}

type sessionDetail struct {
	Session       *store.Session       `json:"session"`
	Events        int                  `json:"events"`
	Notifications []store.Notification `json:"notifications"`
}

func inspectSession(ctx context.Context, rt *env, id string, w io.Writer) error {
	s, err := rt.db.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	events, err := rt.db.GetEventsBySession(ctx, id)
	if err != nil {
		return err
	}
	notes, err := rt.db.GetNotificationsBySession(ctx, id)
	if err != nil {
		return err
	}
	if flagJSON {
		return writeJSON(w, sessionDetail{Session: s, Events: len(events), Notifications: notes})
	}

	now := time.Now()
	fmt.Fprint(w, output.Section("Session "+enrich.SessionSerial(s.SessionID)))
	fmt.Fprint(w, output.KV("Project", s.ProjectName))
	fmt.Fprint(w, output.KV("Directory", s.Cwd))
	fmt.Fprint(w, output.KV("Terminal", s.TerminalType))
	fmt.Fprint(w, output.KV("Started", ago(now, s.StartedAt)))
	fmt.Fprint(w, output.KV("Last activity", ago(now, s.LastActivityAt)))
	if s.EndedAt != nil {
		fmt.Fprint(w, output.KV("Ended", ago(now, *s.EndedAt)))
	}
	fmt.Fprint(w, output.KV("Events", len(events)))

	if len(notes) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tbl := output.NewTable("ID", "Type", "Status", "Attempts", "Created")
	for _, n := range notes {
		tbl.AddRow(strconv.FormatInt(n.ID, 10), n.NotificationType, output.Status(n.Status),
			strconv.Itoa(n.RetryCount), ago(now, n.CreatedAt))
	}
	return tbl.Fprint(w)
}

// ago renders a unix timestamp relative to now, e.g. "5m ago".
func ago(now time.Time, ts int64) string {
	d := now.Sub(time.Unix(ts, 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
