package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
	}
	if m.current != "" && !m.finished {
		sections = append(sections, m.renderCurrent())
	}
	sections = append(sections, m.renderVersionTable(), m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" minio-version-bench │ %s │ Versions: %d/%d │ Elapsed: %s ",
		m.operation,
		m.Completed(),
		len(m.rows),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := max(m.width-30, 20)
	bar := RenderProgressBar(m.Progress(), barWidth)

	var status string
	switch {
	case m.finished:
		status = statusOK.Render("✓ Run complete")
	case m.current == "":
		status = statusInfo.Render("Starting...")
	default:
		status = statusInfo.Render(fmt.Sprintf("Benchmarking %d of %d", m.Completed()+1, len(m.rows)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Progress"),
		bar,
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Version Under Test
// =============================================================================

func (m Model) renderCurrent() string {
	r := m.rows[m.index[m.current]]
	rows := []string{
		RenderKeyValue("Version", r.Version),
		RenderKeyValue("State", GetStatusLabel(r)),
		RenderKeyValue("In State For", formatDuration(time.Since(m.versionStart))),
		RenderKeyValue("Server", m.serverAddr),
	}
	if s := m.server; s != nil {
		health := statusOK.Render("● scraping")
		if !s.Healthy {
			health = statusWarning.Render("● scrape failing")
		}
		rows = append(rows,
			RenderKeyValue("Server Metrics", health),
			renderStatRow("Requests", formatRate(s.RequestRate), "p50 "+formatRate(s.RequestP50)),
			renderStatRow("Received", humanize.IBytes(uint64(s.RxRate))+"/s", "p50 "+humanize.IBytes(uint64(s.RxP50))+"/s"),
			renderStatRow("Sent", humanize.IBytes(uint64(s.TxRate))+"/s", "p50 "+humanize.IBytes(uint64(s.TxP50))+"/s"),
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Errors:"),
				GetErrorRateStyle(s.ErrorRate, s.RequestRate).Render(formatRate(s.ErrorRate)),
			),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Version Under Test")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func renderStatRow(label, value, detail string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Width(14).Render(value),
		mutedStyle.Render(" ("),
		valueStyle.Render(detail),
		mutedStyle.Render(")"),
	)
}

// =============================================================================
// Versions Table
// =============================================================================

func (m Model) renderVersionTable() string {
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-32s %-18s %10s %10s", "Version", "Status", "MiB/s", "Duration"),
	)

	// Keep the table on screen; show the tail once it overflows.
	maxRows := max(m.height-18, 5)
	start := 0
	if len(m.rows) > maxRows {
		start = len(m.rows) - maxRows
	}

	var rows []string
	if start > 0 {
		rows = append(rows, dimStyle.Render(fmt.Sprintf("... %d earlier versions", start)))
	}
	for i, r := range m.rows[start:] {
		rowStyle := tableRowEvenStyle
		if (start+i)%2 == 1 {
			rowStyle = tableRowOddStyle
		}
		duration := "-"
		if r.Duration > 0 {
			duration = r.Duration.Round(time.Second).String()
		}
		// The status label carries its own colour; pad it by visible width.
		status := GetStatusLabel(r)
		status += strings.Repeat(" ", max(18-lipgloss.Width(status), 0))

		line := rowStyle.Render(fmt.Sprintf("%-32s ", truncate(r.Version, 32))) +
			status +
			rowStyle.Render(fmt.Sprintf(" %10s %10s", formatMiBps(r.MiBps), duration))
		rows = append(rows, line)
		if r.Err != "" && r.Status != "" {
			rows = append(rows, dimStyle.Render("  ↳ "+truncate(r.Err, max(m.width-8, 20))))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Versions"), header}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func truncate(s string, n int) string {
	if len(s) <= n || n < 4 {
		return s
	}
	return s[:n-3] + "..."
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	left := dimStyle.Render("q: quit (stops the server under test)")
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
