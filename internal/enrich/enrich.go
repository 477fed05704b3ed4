// Package enrich derives session context (project, terminal, serial) that
// is attached to outgoing notifications.
package enrich

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/blackwell-systems/hooknotify/internal/payload"
)

// Enricher supplies context for a session.
type Enricher interface {
	Enrich(cwd, sessionID string) payload.Context
}

// Env is the default Enricher. It reads only the process environment and
// the cwd path; it runs no commands.
type Env struct {
	Getenv func(string) string
}

// NewEnv returns an Env reading os.Getenv.
func NewEnv() *Env {
	return &Env{Getenv: os.Getenv}
}

// Enrich builds the context for cwd and sessionID.
func (e *Env) Enrich(cwd, sessionID string) payload.Context {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	termType, termInfo := Terminal(getenv)
	return payload.Context{
		ProjectName:   ProjectName(cwd),
		Cwd:           cwd,
		TerminalType:  termType,
		TerminalInfo:  termInfo,
		SessionSerial: SessionSerial(sessionID),
	}
}

// ProjectName returns the last element of cwd, or "unknown".
func ProjectName(cwd string) string {
	cwd = strings.TrimRight(cwd, string(filepath.Separator))
	if cwd == "" {
		return "unknown"
	}
	return filepath.Base(cwd)
}

// Terminal classifies the terminal from environment variables.
func Terminal(getenv func(string) string) (kind, info string) {
	if v := getenv("TMUX"); v != "" {
		return "tmux", getenv("TMUX_PANE")
	}
	switch getenv("TERM_PROGRAM") {
	case "vscode":
		return "vscode", ""
	case "iTerm.app":
		return "iterm", ""
	}
	if getenv("SSH_CONNECTION") != "" {
		return "ssh", ""
	}
	return "terminal", ""
}

// SessionSerial is the last four characters of a session ID.
func SessionSerial(sessionID string) string {
	if len(sessionID) <= 4 {
		return sessionID
	}
	return sessionID[len(sessionID)-4:]
}
