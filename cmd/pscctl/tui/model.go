// Package tui is the pscctl status viewer: a single-screen bubbletea table
// of every registered engine, polling pkg/engine's registry on a timer.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mdavidsaver/pscdrv/pkg/engine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			PaddingRight(2)

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			PaddingRight(2)

	altRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Background(lipgloss.Color("236")).
			PaddingRight(2)

	connectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	downStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)
)

const refreshInterval = time.Second

// row is one rendered line of the table: an engine's name, its connection
// state, and its own Report(1) detail string.
type row struct {
	name      string
	connected bool
	detail    string
}

type tickMsg time.Time

type snapshotMsg []row

// Model is the bubbletea model for `pscctl status`.
type Model struct {
	rows     []row
	width    int
	height   int
	lastPoll time.Time
	quitting bool
}

// New returns a Model that polls the process-wide engine registry.
func New() Model {
	return Model{}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), poll())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// poll snapshots the registry and sorts it by name, so the table order is
// stable between refreshes.
func poll() tea.Cmd {
	return func() tea.Msg {
		snap := engine.Snapshot()
		rows := make([]row, 0, len(snap))
		for name, e := range snap {
			rows = append(rows, row{name: name, connected: e.IsConnected(), detail: e.Report(1)})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
		return snapshotMsg(rows)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, poll()
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(tick(), poll())

	case snapshotMsg:
		m.rows = []row(msg)
		m.lastPoll = time.Now()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading…"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("  pscctl status  "))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")

	if len(m.rows) == 0 {
		sb.WriteString(dimStyle.Render("no engines registered"))
		sb.WriteString("\n")
	} else {
		sb.WriteString(headerCellStyle.Render("ENGINE"))
		sb.WriteString(headerCellStyle.Render("STATE"))
		sb.WriteString(headerCellStyle.Render("DETAIL"))
		sb.WriteString("\n")
		for i, r := range m.rows {
			style := rowStyle
			if i%2 == 1 {
				style = altRowStyle
			}
			state := connectedStyle.Render("up")
			if !r.connected {
				state = downStyle.Render("down")
			}
			sb.WriteString(style.Render(r.name))
			sb.WriteString(style.Render(state))
			sb.WriteString(style.Render(r.detail))
			sb.WriteString("\n")
		}
	}

	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(statusBarStyle.Render(m.renderStatus()))
	return sb.String()
}

func (m Model) renderStatus() string {
	parts := []string{fmt.Sprintf("engines: %d", len(m.rows))}
	if !m.lastPoll.IsZero() {
		parts = append(parts, fmt.Sprintf("last poll: %s", m.lastPoll.Format("15:04:05")))
	}
	parts = append(parts, "q: quit  r: refresh")
	return strings.Join(parts, "  |  ")
}
