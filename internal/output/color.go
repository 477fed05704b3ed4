// Package output provides styled terminal rendering for hooknotify reports.
package output

import "github.com/charmbracelet/lipgloss"

// Palette shared by every report.
var (
	ColorPrimary = lipgloss.Color("#64b5f6")
	ColorSuccess = lipgloss.Color("#66bb6a")
	ColorError   = lipgloss.Color("#ef5350")
	ColorWarning = lipgloss.Color("#fff59d")
	ColorMuted   = lipgloss.Color("#888888")
)

// Styles provides reusable lipgloss styles.
var (
	StyleHeader  = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleBold    = lipgloss.NewStyle().Bold(true)

	// StyleLabel and StyleValue lay out "label   value" lines.
	StyleLabel = lipgloss.NewStyle().Width(22)
	StyleValue = lipgloss.NewStyle().Bold(true)
)

var noColor bool

// SetNoColor disables or enables color output globally. Disabling swaps
// every package-level style for an unstyled one; enabling restores them.
func SetNoColor(disabled bool) {
	noColor = disabled
	if disabled {
		plain := lipgloss.NewStyle()
		StyleHeader = plain
		StyleSuccess = plain
		StyleError = plain
		StyleWarning = plain
		StyleMuted = plain
		StyleBold = plain
		StyleLabel = plain.Width(22)
		StyleValue = plain
		return
	}
	StyleHeader = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleMuted = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleBold = lipgloss.NewStyle().Bold(true)
	StyleLabel = lipgloss.NewStyle().Width(22)
	StyleValue = lipgloss.NewStyle().Bold(true)
}

// IsNoColor returns whether color output is currently disabled.
func IsNoColor() bool {
	return noColor
}

// Status renders a notification status in its conventional color.
func Status(status string) string {
	switch status {
	case "sent":
		return StyleSuccess.Render(status)
	case "failed", "processing":
		return StyleWarning.Render(status)
	case "dead_letter":
		return StyleError.Render(status)
	default:
		return StyleMuted.Render(status)
	}
}
