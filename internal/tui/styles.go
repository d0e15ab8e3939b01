package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/marcin-skalski/prwatch/internal/status"
)

var (
	// Status colors
	colorConflict         = lipgloss.Color("220") // yellow
	colorFailure          = lipgloss.Color("196") // red
	colorError            = lipgloss.Color("160") // dark red
	colorChangesRequested = lipgloss.Color("208") // orange
	colorPending          = lipgloss.Color("33")  // blue
	colorInactive         = lipgloss.Color("240") // gray
	colorSuccess          = lipgloss.Color("46")  // green

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			PaddingLeft(1).
			PaddingRight(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginTop(1)

	repoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan"))

	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Background(lipgloss.Color("237"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFailure)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func statusIcon(s status.BuildStatus) string {
	switch s {
	case status.Conflict:
		return "⚠"
	case status.Failure:
		return "✗"
	case status.Error:
		return "!"
	case status.ChangesRequested:
		return "✎"
	case status.Pending:
		return "●"
	case status.Inactive:
		return "◌"
	case status.Success:
		return "✓"
	default:
		return "?"
	}
}

func statusColor(s status.BuildStatus) lipgloss.Color {
	switch s {
	case status.Conflict:
		return colorConflict
	case status.Failure:
		return colorFailure
	case status.Error:
		return colorError
	case status.ChangesRequested:
		return colorChangesRequested
	case status.Pending:
		return colorPending
	case status.Inactive:
		return colorInactive
	case status.Success:
		return colorSuccess
	default:
		return lipgloss.Color("252")
	}
}
