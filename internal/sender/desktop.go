package sender

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/blackwell-systems/hooknotify/internal/queue"
)

// Desktop shows a notification on the local machine. On macOS it uses
// osascript, on Linux notify-send. Without either it writes a line to
// Fallback.
type Desktop struct {
	Fallback io.Writer
	goos     string
	lookPath func(string) (string, error)
}

// NewDesktop creates a desktop sender writing fallback lines to stderr.
func NewDesktop() *Desktop {
	return &Desktop{Fallback: os.Stderr, goos: runtime.GOOS, lookPath: exec.LookPath}
}

// Send shows n. It never fails because a desktop notifier is missing; it
// falls back to the writer instead.
func (d *Desktop) Send(ctx context.Context, n *queue.Notification) error {
	title := "hooknotify: " + n.NotificationType
	message := ""
	if n.Body != nil {
		message = n.Body.Text()
	}

	switch d.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title "hooknotify" subtitle %q`, message, n.NotificationType)
		if err := exec.CommandContext(ctx, "osascript", "-e", script).Run(); err == nil {
			return nil
		}
	case "linux":
		if _, err := d.lookPath("notify-send"); err == nil {
			if err := exec.CommandContext(ctx, "notify-send", title, message).Run(); err == nil {
				return nil
			}
		}
	}
	return d.fallback(title, message)
}

func (d *Desktop) fallback(title, message string) error {
	w := d.Fallback
	if w == nil {
		w = os.Stderr
	}
	_, err := fmt.Fprintf(w, "[%s] %s\n", title, message)
	return err
}
