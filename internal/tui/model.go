package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-minio-version-bench/internal/metrics"
	"github.com/randomizedcoder/go-minio-version-bench/internal/orchestrator"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// EventMsg carries a progress event from the version loop.
type EventMsg orchestrator.Event

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Row is one line of the versions table.
type Row struct {
	Version  string
	State    orchestrator.State
	Status   orchestrator.Status
	MiBps    float64
	Duration time.Duration
	Err      string
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	serverAddr  string
	metricsAddr string
	operation   string
	onQuit      func()

	// Current state
	rows         []Row
	index        map[string]int
	current      string
	versionStart time.Time
	server       *metrics.ServerMetrics
	startTime    time.Time
	lastUpdate   time.Time
	finished     bool

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	// Versions pre-populates the table in run order.
	Versions    []string
	ServerAddr  string
	MetricsAddr string
	Operation   string
	// OnQuit is called when the operator quits; it should cancel the run.
	OnQuit func()
}

// New creates a new TUI model.
func New(cfg Config) Model {
	m := Model{
		serverAddr:  cfg.ServerAddr,
		metricsAddr: cfg.MetricsAddr,
		operation:   cfg.Operation,
		onQuit:      cfg.OnQuit,
		index:       make(map[string]int, len(cfg.Versions)),
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
	for _, v := range cfg.Versions {
		m.row(v)
	}
	return m
}

// row returns the table index for version, appending a row when unseen.
func (m *Model) row(version string) int {
	if i, ok := m.index[version]; ok {
		return i
	}
	m.rows = append(m.rows, Row{Version: version, State: statePending})
	m.index[version] = len(m.rows) - 1
	return len(m.rows) - 1
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case EventMsg:
		m.apply(orchestrator.Event(msg))
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// apply folds one loop event into the model. Rows are copied on write
// because Bubble Tea models are values.
func (m *Model) apply(e orchestrator.Event) {
	m.rows = append([]Row(nil), m.rows...)
	i := m.row(e.Version)
	r := &m.rows[i]

	if e.Server != nil {
		m.server = e.Server
		return
	}
	if e.Version != m.current {
		m.current = e.Version
		m.versionStart = time.Now()
		m.server = nil
	}

	r.State = e.State
	if e.Outcome != nil {
		r.Status = e.Outcome.Status
		r.MiBps = e.Outcome.MiBps
		r.Duration = e.Outcome.Duration
		if e.Outcome.Err != nil {
			r.Err = e.Outcome.Err.Error()
		}
		if e.Index == e.Total-1 || r.Status == orchestrator.StatusInterrupted {
			m.finished = true
		}
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the run started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Rows returns the versions table.
func (m Model) Rows() []Row {
	return append([]Row(nil), m.rows...)
}

// Current returns the version under test, if any.
func (m Model) Current() string {
	return m.current
}

// Completed returns how many versions have finished.
func (m Model) Completed() int {
	n := 0
	for _, r := range m.rows {
		if r.Status != "" {
			n++
		}
	}
	return n
}

// Progress returns the fraction of versions finished (0.0 to 1.0).
func (m Model) Progress() float64 {
	if len(m.rows) == 0 {
		return 0
	}
	return float64(m.Completed()) / float64(len(m.rows))
}

// Finished reports whether the last version has completed.
func (m Model) Finished() bool {
	return m.finished
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendEvent forwards a loop event to the TUI.
func SendEvent(p *tea.Program, e orchestrator.Event) {
	if p != nil {
		p.Send(EventMsg(e))
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatMiBps formats a throughput, "-" when unknown.
func formatMiBps(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}
