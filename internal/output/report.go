package output

import (
	"fmt"
	"strings"
)

// Section renders a section header followed by a horizontal rule.
func Section(title string) string {
	header := StyleHeader.Render(title)
	rule := StyleMuted.Render(strings.Repeat("─", 48))
	return fmt.Sprintf("%s\n%s\n", header, rule)
}

// KV renders one aligned "label  value" line.
func KV(label string, value any) string {
	return StyleLabel.Render(label) + StyleValue.Render(fmt.Sprint(value)) + "\n"
}

// RatioBar renders part/total as a bar, e.g. "████████░░ 80%". Colors
// follow the ratio: green from 90%, yellow from 50%, red below.
func RatioBar(part, total, width int) string {
	if width <= 0 {
		width = 20
	}
	if total <= 0 {
		return StyleMuted.Render(strings.Repeat("░", width) + "  n/a")
	}
	ratio := float64(part) / float64(total)
	filled := min(max(int(ratio*float64(width)), 0), width)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	style := StyleError
	switch {
	case ratio >= 0.9:
		style = StyleSuccess
	case ratio >= 0.5:
		style = StyleWarning
	}
	return fmt.Sprintf("%s %s", style.Render(bar), StyleMuted.Render(fmt.Sprintf("%.0f%%", ratio*100)))
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
