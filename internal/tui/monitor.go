// Package tui implements the switchboard system watch terminal UI. It is a
// read-only client of the gateway's /healthz and /events endpoints.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
)

const (
	maxDispatches = 100
	maxEvents     = 50
)

// DispatchRow is one finished dispatch as reported on the event stream.
type DispatchRow struct {
	ID         string  `json:"dispatch_id"`
	Action     string  `json:"action"`
	Target     *string `json:"target"`
	Source     string  `json:"source"`
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	DurationMS int64   `json:"duration_ms"`
}

type HealthState struct {
	Connected     bool
	Status        string
	UptimeSeconds int64
	Actions       int
	Generation    uint64
}

// Model is the BubbleTea model for the monitor.
type Model struct {
	stream *stream
	theme  Theme

	width  int
	height int

	health     HealthState
	dispatches []DispatchRow
	counts     map[string]int
	eventLog   []events.Event
	lastError  string

	table    table.Model
	viewport viewport.Model
}

// NewMonitor creates a monitor for the gateway at apiURL.
func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Action", Width: 20},
			{Title: "Target", Width: 20},
			{Title: "Source", Width: 12},
			{Title: "Duration", Width: 10},
			{Title: "ID", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		stream:   newStream(strings.TrimRight(apiURL, "/"), apiKey),
		theme:    NewDefaultTheme(),
		counts:   make(map[string]int),
		table:    t,
		viewport: viewport.New(0, 0),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.stream.subscribe(),
		m.stream.next(),
		m.stream.fetchHealth,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = m.height / 3
		m.viewport.SetContent(m.renderEvents())

	case eventMsg:
		m.handleEvent(events.Event(msg))
		return m, m.stream.next()

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Actions = msg.ActionsLoaded
		m.health.Generation = msg.RegistryGeneration
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		return m, m.stream.fetchHealth

	case sseDisconnectedMsg:
		m.health.Connected = false
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.stream.subscribe()

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.health.Connected = true

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEvents {
		m.eventLog = m.eventLog[:maxEvents]
	}
	m.viewport.SetContent(m.renderEvents())

	switch e.Type {
	case events.DispatchCompleted:
		var row DispatchRow
		if err := json.Unmarshal(e.Data, &row); err != nil || row.ID == "" {
			return
		}
		m.counts[row.Status]++
		m.dispatches = append([]DispatchRow{row}, m.dispatches...)
		if len(m.dispatches) > maxDispatches {
			m.dispatches = m.dispatches[:maxDispatches]
		}
		m.updateTable()

	case events.RegistryReloaded:
		var data struct {
			Generation uint64 `json:"generation"`
			Actions    int    `json:"actions"`
		}
		if json.Unmarshal(e.Data, &data) == nil {
			m.health.Generation = data.Generation
			m.health.Actions = data.Actions
		}
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.dispatches))
	for _, d := range m.dispatches {
		rows = append(rows, m.dispatchToRow(d))
	}
	m.table.SetRows(rows)
}

func (m Model) dispatchToRow(d DispatchRow) table.Row {
	sym := m.theme.StatusIgnored.Render("○")
	switch d.Status {
	case "success":
		sym = m.theme.StatusOK.Render("●")
	case "error":
		sym = m.theme.StatusFailed.Render("∅")
	}

	target := "-"
	if d.Target != nil {
		target = *d.Target
	}
	source := d.Source
	if source == "" {
		source = "-"
	}
	id := d.ID
	if len(id) > 8 {
		id = id[:8]
	}

	return table.Row{
		sym,
		d.Action,
		target,
		source,
		(time.Duration(d.DurationMS) * time.Millisecond).String(),
		id,
	}
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	dispatches := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Dispatches"),
			m.table.View(),
		),
	)
	eventsView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Event Stream"),
			m.viewport.View(),
		),
	)

	footer := " [q] Quit • [↑/↓] Scroll Dispatches"
	if m.lastError != "" {
		footer += " • " + m.theme.StatusFailed.Render(m.lastError)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		dispatches,
		eventsView,
		m.theme.Dim.Render(footer),
	)
}

func (m Model) renderHeader() string {
	status := m.theme.StatusOK.Render("RUNNING")
	switch {
	case !m.health.Connected:
		status = m.theme.StatusFailed.Render("DISCONNECTED")
	case m.health.Status != "" && m.health.Status != "ok":
		status = m.theme.StatusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Actions: %d (gen %d)", m.health.Actions, m.health.Generation),
		fmt.Sprintf("OK %d  ERR %d  IGN %d", m.counts["success"], m.counts["error"], m.counts["ignored"]),
	}

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, 0, len(items))
	for _, it := range items {
		cells = append(cells, cell.Render(it))
	}
	return m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	if len(m.eventLog) == 0 {
		return "  No events yet..."
	}
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		lines = append(lines, fmt.Sprintf("%s | %-22s | %s", e.At.Local().Format("15:04:05"), e.Type, string(e.Data)))
	}
	return strings.Join(lines, "\n")
}
