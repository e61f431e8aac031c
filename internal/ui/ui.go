// Package ui holds the terminal styling helpers shared by the CLI
// commands. Styling degrades to plain text when stdout is not a
// terminal, so command output stays pipeable.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// colorEnabled gates all styling: a non-terminal stdout or a colorless
// terminal profile turns it off.
func colorEnabled() bool {
	if !IsTerminal() {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// RenderPass renders s as a success.
func RenderPass(s string) string { return render(okStyle, s) }

// RenderWarn renders s as a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders s as a failure.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent renders s highlighted.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim renders s de-emphasized.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderHeader renders s as a section header.
func RenderHeader(s string) string { return render(headerStyle, s) }

// StatusBadge renders a sync session status in its conventional color.
func StatusBadge(status string) string {
	switch status {
	case "completed":
		return RenderPass(status)
	case "failed":
		return RenderFail(status)
	case "cancelled":
		return RenderWarn(status)
	case "running":
		return RenderAccent(status)
	default:
		return status
	}
}
