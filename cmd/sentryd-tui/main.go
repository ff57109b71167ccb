// Command sentryd-tui is a terminal dashboard that polls a running
// sentryd instance's control API and renders its status snapshot.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// stats mirrors pipeline.Stats, decoded from the JSON response rather
// than imported directly since the TUI talks to sentryd over HTTP
// only, never touching the Orchestrator in-process.
type stats struct {
	TotalPackets      uint64 `json:"TotalPackets"`
	SuspiciousPackets uint64 `json:"SuspiciousPackets"`
	BlockedCount      int    `json:"BlockedCount"`
	ActiveSources     int    `json:"ActiveSources"`
	DecodeErrors      uint64 `json:"DecodeErrors"`
	Dropped           uint64 `json:"Dropped"`
}

type anomalyStatus struct {
	BaselineEstablished     bool    `json:"BaselineEstablished"`
	BaselineProgressPercent float64 `json:"BaselineProgressPercent"`
	RecentAnomalyCount      int     `json:"RecentAnomalyCount"`
}

type alertEntry struct {
	Severity   string `json:"Severity"`
	Title      string `json:"Title"`
	SourceAddr string `json:"SourceAddr"`
}

type blockEntry struct {
	Addr   string `json:"Addr"`
	Reason string `json:"Reason"`
}

type statusSnapshot struct {
	Stats            stats         `json:"Stats"`
	RecentAlerts     []alertEntry  `json:"RecentAlerts"`
	MonitoringActive bool          `json:"MonitoringActive"`
	AnomalyStatus    anomalyStatus `json:"AnomalyStatus"`
	Blocklist        []blockEntry  `json:"Blocklist"`
}

type statusMsg struct {
	snapshot *statusSnapshot
	err      error
}

type model struct {
	addr     string
	client   *http.Client
	snapshot *statusSnapshot
	err      error
}

func initialModel(addr string) model {
	return model{
		addr:   addr,
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

func (m model) Init() tea.Cmd {
	return m.poll()
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Get(m.addr + "/api/v1/status")
		if err != nil {
			return statusMsg{err: err}
		}
		defer resp.Body.Close()

		var snap statusSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{snapshot: &snap}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type tickMsg time.Time

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, m.poll()
	case statusMsg:
		m.snapshot = msg.snapshot
		m.err = msg.err
		return m, tick()
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)

	rowStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E05050"))
)

func (m model) View() string {
	s := titleStyle.Render("sentryd — live dashboard") + "\n\n"

	if m.err != nil {
		s += rowStyle.Render(warnStyle.Render(fmt.Sprintf("poll failed: %v", m.err))) + "\n"
	}
	if m.snapshot == nil {
		s += rowStyle.Render("waiting for first snapshot...") + "\n\n"
		s += "\nPress 'q' to quit.\n"
		return s
	}

	st := m.snapshot.Stats
	s += rowStyle.Render(fmt.Sprintf("%-22s : %d", "Total packets", st.TotalPackets)) + "\n"
	s += rowStyle.Render(fmt.Sprintf("%-22s : %d", "Suspicious packets", st.SuspiciousPackets)) + "\n"
	s += rowStyle.Render(fmt.Sprintf("%-22s : %d", "Active sources", st.ActiveSources)) + "\n"
	s += rowStyle.Render(fmt.Sprintf("%-22s : %d", "Blocked sources", st.BlockedCount)) + "\n"
	s += rowStyle.Render(fmt.Sprintf("%-22s : %d", "Decode errors", st.DecodeErrors)) + "\n"

	as := m.snapshot.AnomalyStatus
	baseline := "building"
	if as.BaselineEstablished {
		baseline = "established"
	}
	s += rowStyle.Render(fmt.Sprintf("%-22s : %s (%.0f%%)", "Anomaly baseline", baseline, as.BaselineProgressPercent)) + "\n"

	s += "\n" + titleStyle.Render("Recent alerts") + "\n"
	if len(m.snapshot.RecentAlerts) == 0 {
		s += rowStyle.Render("none") + "\n"
	}
	for _, a := range m.snapshot.RecentAlerts {
		s += rowStyle.Render(fmt.Sprintf("%-8s %-28s %s", a.Severity, a.Title, a.SourceAddr)) + "\n"
	}

	s += "\n" + titleStyle.Render("Blocklist") + "\n"
	if len(m.snapshot.Blocklist) == 0 {
		s += rowStyle.Render("empty") + "\n"
	}
	for _, b := range m.snapshot.Blocklist {
		s += rowStyle.Render(fmt.Sprintf("%-18s %s", b.Addr, b.Reason)) + "\n"
	}

	s += "\nPress 'q' to quit.\n"
	return s
}

func main() {
	addr := flag.String("addr", "http://localhost:8686", "sentryd control API base URL")
	flag.Parse()

	p := tea.NewProgram(initialModel(*addr))
	if _, err := p.Run(); err != nil {
		fmt.Printf("sentryd-tui: %v\n", err)
		os.Exit(1)
	}
}
