// Package tui renders the pull request list in the terminal.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcin-skalski/prwatch/internal/daemon"
)

// Controller is what the view needs from the poll controller.
type Controller interface {
	Snapshot() daemon.Snapshot
	Refresh() bool
	ToggleWatch(id string) bool
	SetSettledLast(v bool)
}

type Model struct {
	ctrl            Controller
	snapshot        daemon.Snapshot
	refreshInterval time.Duration
	selected        int    // index into snapshot.Items, -1 = none
	selectedID      string // keeps the cursor on the same item across re-sorts
	notice          string
	width           int
}

type tickMsg time.Time

func NewModel(ctrl Controller, refreshInterval time.Duration) Model {
	m := Model{
		ctrl:            ctrl,
		refreshInterval: refreshInterval,
		selected:        -1,
	}
	m.sync()
	return m
}

// Run blocks until the user quits.
func Run(ctrl Controller, refreshInterval time.Duration) error {
	_, err := tea.NewProgram(NewModel(ctrl, refreshInterval), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tickCmd(m.refreshInterval)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.ctrl.Refresh() {
				m.notice = "refreshing"
			} else {
				m.notice = "refresh already running"
			}
			m.sync()
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.selectedID = m.snapshot.Items[m.selected].ID()
			}
		case "down", "j":
			if m.selected < len(m.snapshot.Items)-1 {
				m.selected++
				m.selectedID = m.snapshot.Items[m.selected].ID()
			}
		case "w":
			if m.selected >= 0 {
				id := m.snapshot.Items[m.selected].ID()
				if m.ctrl.ToggleWatch(id) {
					m.notice = "watching " + id
				} else {
					m.notice = "stopped watching " + id
				}
				m.sync()
			}
		case "s":
			m.ctrl.SetSettledLast(!m.snapshot.SettledLast)
			m.notice = ""
			m.sync()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.sync()
		return m, tickCmd(m.refreshInterval)
	}

	return m, nil
}

// sync pulls a fresh snapshot and re-anchors the cursor on the
// previously selected item.
func (m *Model) sync() {
	m.snapshot = m.ctrl.Snapshot()
	items := m.snapshot.Items
	if len(items) == 0 {
		m.selected = -1
		m.selectedID = ""
		return
	}
	for i, it := range items {
		if it.ID() == m.selectedID {
			m.selected = i
			return
		}
	}
	if m.selected < 0 {
		m.selected = 0
	}
	if m.selected >= len(items) {
		m.selected = len(items) - 1
	}
	m.selectedID = items[m.selected].ID()
}

func (m Model) View() string {
	return renderView(m.snapshot, m.selected, m.notice, m.width)
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
