package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/fleet/internal/queue"
)

// boardColumns fixes the kanban column order. Blocked and paused tasks
// share the pending column so the board stays readable on narrow terminals.
var boardColumns = []queue.Status{
	queue.StatusPending,
	queue.StatusClaimed,
	queue.StatusReview,
	queue.StatusCompleted,
	queue.StatusFailed,
}

var columnTitles = map[queue.Status]string{
	queue.StatusPending:   "PENDING",
	queue.StatusClaimed:   "IN PROGRESS",
	queue.StatusReview:    "REVIEW",
	queue.StatusCompleted: "DONE",
	queue.StatusFailed:    "FAILED",
}

// BoardPaneModel renders the task board as kanban columns.
type BoardPaneModel struct {
	tasks   []*queue.Task
	width   int
	height  int
	focused bool
}

func NewBoardPaneModel() BoardPaneModel {
	return BoardPaneModel{}
}

// SetTasks replaces the rendered snapshot.
func (m *BoardPaneModel) SetTasks(tasks []*queue.Task) {
	m.tasks = tasks
}

func (m *BoardPaneModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *BoardPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func (m BoardPaneModel) View() string {
	border := StyleUnfocusedBorder
	if m.focused {
		border = StyleFocusedBorder
	}

	innerWidth := m.width - 2
	innerHeight := m.height - 2
	if innerWidth < 10 || innerHeight < 4 {
		return border.Width(max(0, innerWidth)).Render("...")
	}

	grouped := make(map[queue.Status][]*queue.Task, len(boardColumns))
	for _, t := range m.tasks {
		col := columnStatus(t.Status)
		grouped[col] = append(grouped[col], t)
	}
	for _, ts := range grouped {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Seq < ts[j].Seq })
	}

	colWidth := innerWidth/len(boardColumns) - 1
	if colWidth < 8 {
		colWidth = 8
	}
	maxRows := innerHeight - 2 // column header and count line

	cols := make([]string, 0, len(boardColumns))
	for _, status := range boardColumns {
		cols = append(cols, m.renderColumn(status, grouped[status], colWidth, maxRows))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, cols...)
	content := lipgloss.JoinVertical(lipgloss.Left, StyleTitle.Render("Task Board"), body)
	return border.Width(innerWidth).Height(innerHeight).Render(content)
}

func (m BoardPaneModel) renderColumn(status queue.Status, tasks []*queue.Task, width, maxRows int) string {
	style := statusStyle(status)
	lines := []string{
		style.Render(truncate(fmt.Sprintf("%s (%d)", columnTitles[status], len(tasks)), width)),
	}

	shown := tasks
	overflow := 0
	if len(shown) > maxRows {
		overflow = len(shown) - maxRows + 1
		shown = shown[:maxRows-1]
	}
	for _, t := range shown {
		lines = append(lines, truncate(taskLine(t), width))
	}
	if overflow > 0 {
		lines = append(lines, StyleDim.Render(fmt.Sprintf("+%d more", overflow)))
	}

	return lipgloss.NewStyle().Width(width).MarginRight(1).Render(strings.Join(lines, "\n"))
}

// taskLine is one board card: short id, owner when claimed, first line of
// the description.
func taskLine(t *queue.Task) string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	desc := t.Description
	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		desc = desc[:i]
	}
	switch t.Status {
	case queue.StatusClaimed, queue.StatusReview:
		return fmt.Sprintf("%s [%s] %s", id, t.AgentID, desc)
	case queue.StatusBlocked:
		return fmt.Sprintf("%s (blocked) %s", id, desc)
	case queue.StatusPaused:
		return fmt.Sprintf("%s (paused) %s", id, desc)
	default:
		return fmt.Sprintf("%s %s", id, desc)
	}
}

// columnStatus maps a task status to the column it is displayed under.
func columnStatus(s queue.Status) queue.Status {
	switch s {
	case queue.StatusBlocked, queue.StatusPaused:
		return queue.StatusPending
	case queue.StatusCancelled:
		return queue.StatusFailed
	default:
		return s
	}
}

func statusStyle(s queue.Status) lipgloss.Style {
	switch s {
	case queue.StatusClaimed:
		return StyleClaimed
	case queue.StatusReview:
		return StyleReview
	case queue.StatusCompleted:
		return StyleCompleted
	case queue.StatusFailed:
		return StyleFailed
	default:
		return StylePending
	}
}

func truncate(s string, width int) string {
	if width <= 3 {
		return s
	}
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
