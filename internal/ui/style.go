// Package ui provides styled terminal output helpers for the CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Render functions for building styled strings.
var (
	Bold       = lipgloss.NewStyle().Bold(true).Render
	Dim        = lipgloss.NewStyle().Faint(true).Render
	Cyan       = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Render
	Green      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render
	Red        = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render
	Yellow     = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render
	BoldCyan   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Render
	BoldGreen  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")).Render
	BoldRed    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")).Render
	BoldYellow = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")).Render
)

// AgentStateIcon returns a colored status icon for compact table display.
func AgentStateIcon(state string) string {
	switch state {
	case "completed":
		return Green("✓")
	case "running":
		return Cyan("●")
	case "failed":
		return Red("✗")
	case "pending":
		return Dim("◌")
	default:
		return Dim("?")
	}
}

// BatchState returns a colored batch state string.
func BatchState(state string) string {
	switch state {
	case "complete":
		return BoldGreen(state)
	case "failed":
		return BoldRed(state)
	case "cancelled":
		return BoldYellow(state)
	case "pending":
		return Dim(state)
	default:
		return BoldCyan(state)
	}
}

// MergeResolution returns a colored resolution method string.
func MergeResolution(method string) string {
	switch method {
	case "clean", "noop":
		return Green(method)
	case "rebase":
		return Yellow(method)
	case "rebase_failed":
		return Red(method)
	default:
		return Dim(method)
	}
}
