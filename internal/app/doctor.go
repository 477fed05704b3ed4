package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/output"
	"github.com/blackwell-systems/hooknotify/internal/retention"
	"github.com/blackwell-systems/hooknotify/internal/sender"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check whether the hooknotify setup is healthy",
	Long: `Run a series of health checks against the hooknotify configuration,
database, credentials and delivery backends. Prints a pass/fail line for
each check and a summary of how many checks passed.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck holds the result of a single health check.
type doctorCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// doctorOutput is the JSON-serializable result of the doctor command.
type doctorOutput struct {
	Checks      []doctorCheck `json:"checks"`
	PassedCount int           `json:"passed"`
	TotalCount  int           `json:"total"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	rt, err := openEnv("cli")
	if err != nil {
		return err
	}
	defer rt.Close()

	checks := doctorChecks(cmd.Context(), rt)
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(w, doctorOutput{Checks: checks, PassedCount: passed, TotalCount: len(checks)})
	}

	fmt.Fprint(w, output.Section("Doctor"))
	for _, c := range checks {
		renderDoctorCheck(w, c)
	}
	summary := fmt.Sprintf("%d/%d checks passed", passed, len(checks))
	if passed == len(checks) {
		fmt.Fprintf(w, "\n%s\n", output.StyleSuccess.Render(summary))
	} else {
		fmt.Fprintf(w, "\n%s\n", output.StyleWarning.Render(summary))
	}
	return nil
}

func doctorChecks(ctx context.Context, rt *env) []doctorCheck {
	return []doctorCheck{
		checkDatabase(ctx, rt),
		checkKeyFile(rt.cfg.Credential.KeyPath),
		checkWebhook(ctx, rt),
		checkTelegram(rt),
		checkSchedule(rt.cfg.Dispatcher.CleanupSchedule),
		checkDeadLetters(ctx, rt),
		checkDaemon(rt.cfg.PIDPath()),
	}
}

// renderDoctorCheck prints a single check result line.
func renderDoctorCheck(w io.Writer, c doctorCheck) {
	indicator := output.StyleSuccess.Render("✓")
	if !c.Passed {
		indicator = output.StyleWarning.Render("✗")
	}
	fmt.Fprintf(w, "  %s  %-24s %s\n", indicator, c.Name, output.StyleMuted.Render(c.Message))
}

func checkDatabase(ctx context.Context, rt *env) doctorCheck {
	const name = "Database"
	var mode string
	if err := rt.db.Conn().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return doctorCheck{Name: name, Message: fmt.Sprintf("query failed: %v", err)}
	}
	if mode != "wal" {
		return doctorCheck{Name: name, Message: fmt.Sprintf("journal_mode is %s, want wal", mode)}
	}
	return doctorCheck{Name: name, Passed: true, Message: rt.cfg.DBPath}
}

func checkKeyFile(path string) doctorCheck {
	const name = "Encryption key"
	info, err := os.Stat(path)
	if err != nil {
		return doctorCheck{Name: name, Message: fmt.Sprintf("not found: %s", path)}
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return doctorCheck{Name: name, Message: fmt.Sprintf("%s is readable by others (mode %o)", path, perm)}
	}
	return doctorCheck{Name: name, Passed: true, Message: path}
}

func checkWebhook(ctx context.Context, rt *env) doctorCheck {
	const name = "Webhook URL"
	url, err := rt.webhookURL(ctx)
	if err != nil {
		if rt.cfg.Backend != "" && rt.cfg.Backend != "default" && rt.cfg.Backend != "webhook" {
			return doctorCheck{Name: name, Passed: true, Message: "not used by backend " + rt.cfg.Backend}
		}
		return doctorCheck{Name: name, Message: "not set (hooknotify config set webhook_url URL)"}
	}
	if err := sender.ValidateURL(url, rt.cfg.Sender.AllowedDomains); err != nil {
		return doctorCheck{Name: name, Message: err.Error()}
	}
	return doctorCheck{Name: name, Passed: true, Message: "configured"}
}

func checkTelegram(rt *env) doctorCheck {
	const name = "Telegram backend"
	if rt.cfg.Backend != "telegram" {
		return doctorCheck{Name: name, Passed: true, Message: "not selected"}
	}
	if rt.cfg.Telegram.ChatID == 0 {
		return doctorCheck{Name: name, Message: "telegram.chat_id not set"}
	}
	return doctorCheck{Name: name, Passed: true, Message: fmt.Sprintf("chat %d", rt.cfg.Telegram.ChatID)}
}

func checkSchedule(schedule string) doctorCheck {
	const name = "Cleanup schedule"
	if err := retention.ValidateSchedule(schedule); err != nil {
		return doctorCheck{Name: name, Message: fmt.Sprintf("%q: %v", schedule, err)}
	}
	return doctorCheck{Name: name, Passed: true, Message: schedule}
}

func checkDeadLetters(ctx context.Context, rt *env) doctorCheck {
	const name = "Dead letters"
	stats, err := rt.queue.Stats(ctx, "")
	if err != nil {
		return doctorCheck{Name: name, Message: err.Error()}
	}
	if stats.DeadLetter > 0 {
		return doctorCheck{Name: name, Message: fmt.Sprintf("%d notification(s) gave up (hooknotify dead-letters)", stats.DeadLetter)}
	}
	return doctorCheck{Name: name, Passed: true, Message: "none"}
}

func checkDaemon(pidPath string) doctorCheck {
	const name = "Dispatcher daemon"
	pid, err := readPID(pidPath)
	if err != nil {
		return doctorCheck{Name: name, Message: "not running (failed notifications wait for the next hook)"}
	}
	if !processExists(pid) {
		return doctorCheck{Name: name, Message: fmt.Sprintf("stale PID file (PID %d)", pid)}
	}
	return doctorCheck{Name: name, Passed: true, Message: fmt.Sprintf("running (PID %d)", pid)}
}
