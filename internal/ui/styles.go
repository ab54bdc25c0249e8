// Package ui renders styled terminal output for the sbasync CLI.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette colors.
const (
	colorAccent = "#5FAFFF"
	colorPass   = "#5FD75F"
	colorWarn   = "#FFAF00"
	colorFail   = "#FF5F5F"
	colorMuted  = "#8A8A8A"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPass)).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarn))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorFail)).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).
			BorderForeground(lipgloss.Color(colorMuted))
)

func init() {
	ConfigureOutput(os.Stdout)
}

// ConfigureOutput picks the color profile for w. Color is disabled when w
// is not a terminal or NO_COLOR is set.
func ConfigureOutput(w io.Writer) {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderHeader renders an underlined section title.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// RenderStatus colors a sync status word.
func RenderStatus(status string) string {
	switch status {
	case "saved", "refreshed", "nothing":
		return RenderPass(status)
	case "queued", "postponed", "skipped":
		return RenderWarn(status)
	case "failed":
		return RenderFail(status)
	default:
		return status
	}
}

// KeyValues renders aligned "key: value" rows.
func KeyValues(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r[0]))
	}
	key := mutedStyle.Width(width + 2)
	var b strings.Builder
	for _, r := range rows {
		b.WriteString("  ")
		b.WriteString(key.Render(r[0] + ":"))
		b.WriteString(r[1])
		b.WriteByte('\n')
	}
	return b.String()
}

// Table renders rows under a header with columns padded to their widest
// cell.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(r[i]))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = style.Width(widths[i]).Render(cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	var b strings.Builder
	b.WriteString(line(header, boldStyle))
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(line(r, lipgloss.NewStyle()))
		b.WriteByte('\n')
	}
	return b.String()
}
