package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/fleet/internal/queue"
	"github.com/aristath/fleet/internal/reputation"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneBoard PaneID = iota
	PaneScores
)

const refreshEvery = time.Second

// snapshot is one consistent read of the shared state files.
type snapshot struct {
	tasks   []*queue.Task
	entries map[string]*reputation.Entry
	trends  map[string]reputation.Trend
	err     error
}

type tickMsg time.Time

// Model is the root Bubble Tea model for the live board. It polls the
// shared state files instead of subscribing to a bus, so it can watch a
// fleet running in other processes.
type Model struct {
	queue   *queue.Queue
	tracker *reputation.Tracker

	boardPane  BoardPaneModel
	scoresPane ScoresPaneModel

	spin        spinner.Model
	focusedPane PaneID
	width       int
	height      int
	loaded      bool
	quitting    bool
	lastErr     error
}

// New creates the board model over the shared state handles.
func New(q *queue.Queue, tracker *reputation.Tracker) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))

	return Model{
		queue:       q,
		tracker:     tracker,
		boardPane:   NewBoardPaneModel(),
		scoresPane:  NewScoresPaneModel(),
		spin:        sp,
		focusedPane: PaneBoard,
	}
}

// Init starts the spinner, the refresh loop, and an immediate load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh reads the queue and reputation files off the UI goroutine.
func (m Model) refresh() tea.Cmd {
	q, tracker := m.queue, m.tracker
	return func() tea.Msg {
		snap := snapshot{
			trends: make(map[string]reputation.Trend),
		}
		tasks, err := q.List()
		if err != nil {
			snap.err = err
			return snap
		}
		snap.tasks = tasks

		entries, err := tracker.GetAll()
		if err != nil {
			snap.err = err
			return snap
		}
		snap.entries = entries
		for id := range entries {
			if trend, err := tracker.TrendOf(id); err == nil {
				snap.trends[id] = trend
			}
		}
		return snap
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()
		case KeyPane1:
			m.focusedPane = PaneBoard
			m.updateFocusStates()
		case KeyPane2:
			m.focusedPane = PaneScores
			m.updateFocusStates()
		case KeyReload:
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case snapshot:
		m.loaded = true
		m.lastErr = msg.err
		if msg.err == nil {
			m.boardPane.SetTasks(msg.tasks)
			m.scoresPane.SetScores(msg.entries, msg.trends)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if !m.loaded {
		return m.spin.View() + " loading board..."
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.boardPane.View(), m.scoresPane.View())

	status := ""
	if m.lastErr != nil {
		status = StyleFailed.Render("read error: " + m.lastErr.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, status, HelpView())
}

// computeLayout calculates pane dimensions and updates the child models.
func (m *Model) computeLayout() {
	boardWidth := (m.width * 65) / 100
	scoresWidth := m.width - boardWidth
	availableHeight := m.height - 2 // status line and help bar

	m.boardPane.SetSize(boardWidth, availableHeight)
	m.scoresPane.SetSize(scoresWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.boardPane.SetFocused(m.focusedPane == PaneBoard)
	m.scoresPane.SetFocused(m.focusedPane == PaneScores)
}
