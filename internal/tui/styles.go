// Package tui provides a live terminal dashboard for version benchmark runs.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for
// styling. It shows overall progress, the version under test with the
// server's live request rates, and a table of per-version results.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-minio-version-bench/internal/orchestrator"
)

// statePending marks a version the loop has not reached yet.
const statePending orchestrator.State = -1

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorBrand  = lipgloss.Color("#C72C48")
	colorAccent = lipgloss.Color("#38BDF8")

	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#EAB308")
	colorError   = lipgloss.Color("#F43F5E")
	colorInfo    = lipgloss.Color("#818CF8")

	colorText      = lipgloss.Color("#F1F5F9")
	colorTextMuted = lipgloss.Color("#94A3B8")
	colorTextDim   = lipgloss.Color("#64748B")
	colorBorder    = lipgloss.Color("#334155")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// =============================================================================
// Styles
// =============================================================================

var (
	mutedStyle = fg(colorTextMuted)
	dimStyle   = fg(colorTextDim)
	valueStyle = fg(colorText).Bold(true)
	labelStyle = fg(colorTextMuted).Width(20)

	statusOK      = fg(colorSuccess).Bold(true)
	statusWarning = fg(colorWarning).Bold(true)
	statusError   = fg(colorError).Bold(true)
	statusInfo    = fg(colorInfo).Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = fg(colorText).
			Background(colorBrand).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	// Section titles and the table header share the underlined accent look.
	sectionHeaderStyle = fg(colorAccent).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)
	tableHeaderStyle = sectionHeaderStyle.MarginTop(0)

	tableRowEvenStyle = fg(colorText)
	tableRowOddStyle  = fg(colorTextMuted)

	footerStyle = fg(colorTextMuted).MarginTop(1)

	progressFilledStyle  = fg(colorBrand)
	progressEmptyStyle   = fg(colorBorder)
	progressPercentStyle = valueStyle
)

// statusStyles maps a finished version's status to its colour.
// Anything not listed is a failure.
var statusStyles = map[orchestrator.Status]lipgloss.Style{
	"":                             statusInfo,
	orchestrator.StatusOK:          statusOK,
	orchestrator.StatusSkipped:     statusWarning,
	orchestrator.StatusInterrupted: statusWarning,
}

// =============================================================================
// Indicators
// =============================================================================

// GetStatusStyle returns the style for a version outcome.
func GetStatusStyle(status orchestrator.Status) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return statusError
}

// GetStatusLabel returns a styled label for a table row: the outcome once
// the version is done, otherwise the state it is in.
func GetStatusLabel(r Row) string {
	switch {
	case r.Status != "":
		return GetStatusStyle(r.Status).Render("● " + string(r.Status))
	case r.State == statePending:
		return dimStyle.Render("○ pending")
	default:
		return statusInfo.Render("◐ " + r.State.String())
	}
}

// GetErrorRateStyle colours the server's error rate: green at zero, amber
// below 1% of requests, red above.
func GetErrorRateStyle(errorRate, requestRate float64) lipgloss.Style {
	switch {
	case errorRate == 0:
		return statusOK
	case requestRate > 0 && errorRate/requestRate < 0.01:
		return statusWarning
	default:
		return statusError
	}
}

// =============================================================================
// Helpers
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label, value string) string {
	return labelStyle.Render(label+":") + valueStyle.Render(value)
}

// RenderProgressBar renders a bar of at least 10 cells followed by the
// percentage. progress is clamped to [0, 1] for the bar only.
func RenderProgressBar(progress float64, width int) string {
	width = max(width, 10)
	filled := min(max(int(progress*float64(width)), 0), width)

	return progressFilledStyle.Render(strings.Repeat("█", filled)) +
		progressEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}
