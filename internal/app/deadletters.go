package app

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/enrich"
	"github.com/blackwell-systems/hooknotify/internal/output"
	"github.com/blackwell-systems/hooknotify/internal/queue"
)

var deadLettersLimit int

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List notifications that exhausted their retries",
	Long: `List dead-lettered notifications, newest first. Dead letters are never
retried; they are removed by the retention job or 'hooknotify cleanup'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		dead, err := rt.queue.DeadLetters(cmd.Context(), deadLettersLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			rows := make([]any, len(dead))
			for i := range dead {
				rows[i] = dead[i].Notification
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		}
		renderDeadLetters(cmd.OutOrStdout(), dead)
		return nil
	},
}

func init() {
	deadLettersCmd.Flags().IntVar(&deadLettersLimit, "limit", 50, "Maximum rows to show (0 for all)")
	rootCmd.AddCommand(deadLettersCmd)
}

func renderDeadLetters(w io.Writer, dead []queue.Notification) {
	if len(dead) == 0 {
		fmt.Fprintln(w, output.StyleSuccess.Render("No dead letters."))
		return
	}
	tbl := output.NewTable("ID", "Created", "Type", "Backend", "Session", "Attempts", "Summary", "Error")
	for _, n := range dead {
		tbl.AddRow(
			strconv.FormatInt(n.ID, 10),
			time.Unix(n.CreatedAt, 0).Format("2006-01-02 15:04"),
			n.NotificationType,
			n.Backend,
			enrich.SessionSerial(n.SessionID),
			strconv.Itoa(n.RetryCount),
			output.Truncate(n.Body.Text(), 40),
			output.Truncate(n.Error, 50),
		)
	}
	_ = tbl.Fprint(w)
	fmt.Fprintf(w, "\n%s\n", output.StyleMuted.Render(fmt.Sprintf("%d dead-lettered notification(s)", len(dead))))
}
