// ABOUTME: Bubbletea model for the gateway client TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/discordgw/discordgw-go/internal/latency"
	"github.com/discordgw/discordgw-go/internal/version"
)

// Model represents the TUI state
type Model struct {
	// Connection
	state    string
	endpoint string

	// Session
	sessionID string
	seq       int64
	hasSeq    bool

	// Heartbeat
	heartbeatRTT time.Duration
	heartbeatAvg time.Duration
	quality      latency.Quality

	// Dispatch
	events    int64
	lastEvent string

	// Reconnect
	attempts int

	// Runtime stats
	goroutines int
	heapAlloc  uint64
	heapSys    uint64
	rss        uint64
	cpuPercent float64

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int

	ctrl *Controls
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderSession()
	s += m.renderHeartbeat()
	s += m.renderEvents()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders connection status
func (m Model) renderHeader() string {
	status := m.state
	if status == "" {
		status = "disconnected"
	}

	return fmt.Sprintf(`┌─ %s ─────────────────────────────────┐
│ Status:   %-42s │
│ Endpoint: %-42s │
├──────────────────────────────────────────────────────┤
`, version.Product, status, truncate(m.endpoint, 42))
}

// renderSession renders session identity
func (m Model) renderSession() string {
	session := m.sessionID
	if session == "" {
		session = "(none)"
	}
	seq := "null"
	if m.hasSeq {
		seq = fmt.Sprintf("%d", m.seq)
	}

	return fmt.Sprintf("│ Session:  %-42s │\n│ Sequence: %-42s │\n", session, seq)
}

// renderHeartbeat renders heartbeat latency and link quality
func (m Model) renderHeartbeat() string {
	icon := "✗"
	text := "no acks yet"
	switch m.quality {
	case latency.QualityGood:
		icon = "✓"
		text = fmt.Sprintf("%.1fms (avg %.1fms)",
			float64(m.heartbeatRTT.Microseconds())/1000.0,
			float64(m.heartbeatAvg.Microseconds())/1000.0)
	case latency.QualityDegraded:
		icon = "⚠"
		text = fmt.Sprintf("degraded, avg %.1fms",
			float64(m.heartbeatAvg.Microseconds())/1000.0)
	}

	return fmt.Sprintf("│ Heartbeat: %s %-40s │\n", icon, text)
}

// renderEvents renders dispatch statistics
func (m Model) renderEvents() string {
	last := m.lastEvent
	if last == "" {
		last = "(none)"
	}

	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Events: %-8d Last: %-26s │
│ Reconnect attempts: %-32d │
`, m.events, truncate(last, 26), m.attempts)
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ r:Reconnect  d:Debug  q:Quit                        │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders process statistics
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Goroutines: %-38d │
│   Heap: %s alloc / %s sys%-21s │
│   RSS: %s  CPU: %.1f%%%-26s │
`, m.goroutines,
		formatBytes(m.heapAlloc), formatBytes(m.heapSys), "",
		formatBytes(m.rss), m.cpuPercent, "")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.ctrl != nil {
			select {
			case m.ctrl.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "r":
		if m.ctrl != nil {
			select {
			case m.ctrl.Reconnect <- struct{}{}:
			default:
			}
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.Endpoint != "" {
		m.endpoint = msg.Endpoint
	}
	if msg.SessionID != "" {
		m.sessionID = msg.SessionID
	}
	if msg.Seq != nil {
		m.seq = *msg.Seq
		m.hasSeq = true
	}
	if msg.LastEvent != "" {
		m.lastEvent = msg.LastEvent
	}
	if msg.Events != nil {
		m.events = *msg.Events
	}
	if msg.HeartbeatRTT != 0 {
		m.heartbeatRTT = msg.HeartbeatRTT
		m.heartbeatAvg = msg.HeartbeatAvg
		m.quality = msg.Quality
	}
	if msg.Attempts != nil {
		m.attempts = *msg.Attempts
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.heapAlloc = msg.HeapAlloc
		m.heapSys = msg.HeapSys
		m.rss = msg.RSS
		m.cpuPercent = msg.CPUPercent
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	State        string
	Endpoint     string
	SessionID    string
	Seq          *int64
	LastEvent    string
	Events       *int64
	HeartbeatRTT time.Duration
	HeartbeatAvg time.Duration
	Quality      latency.Quality
	Attempts     *int
	Goroutines   int
	HeapAlloc    uint64
	HeapSys      uint64
	RSS          uint64
	CPUPercent   float64
}

// Utility functions
func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(b)/float64(div), "KMGTPE"[exp])
}
