package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/fleet/internal/reputation"
)

// ScoresPaneModel renders the worker reputation table.
type ScoresPaneModel struct {
	entries map[string]*reputation.Entry
	trends  map[string]reputation.Trend
	width   int
	height  int
	focused bool
}

func NewScoresPaneModel() ScoresPaneModel {
	return ScoresPaneModel{}
}

// SetScores replaces the rendered snapshot.
func (m *ScoresPaneModel) SetScores(entries map[string]*reputation.Entry, trends map[string]reputation.Trend) {
	m.entries = entries
	m.trends = trends
}

func (m *ScoresPaneModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *ScoresPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func (m ScoresPaneModel) View() string {
	border := StyleUnfocusedBorder
	if m.focused {
		border = StyleFocusedBorder
	}

	innerWidth := m.width - 2
	innerHeight := m.height - 2
	if innerWidth < 10 || innerHeight < 4 {
		return border.Render("...")
	}

	lines := []string{StyleTitle.Render("Reputation")}

	if len(m.entries) == 0 {
		lines = append(lines, StyleDim.Render("no scores yet"))
	} else {
		ids := make([]string, 0, len(m.entries))
		for id := range m.entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		maxRows := innerHeight - 1
		if len(ids) > maxRows {
			ids = ids[:maxRows]
		}
		for _, id := range ids {
			lines = append(lines, truncate(m.scoreLine(id, m.entries[id]), innerWidth))
		}
	}

	content := strings.Join(lines, "\n")
	return border.Width(innerWidth).Height(innerHeight).Render(content)
}

func (m ScoresPaneModel) scoreLine(id string, e *reputation.Entry) string {
	status := reputation.Classify(e.Composite)
	line := fmt.Sprintf("%-12s %5.1f %-8s %s", id, e.Composite, status, trendArrow(m.trends[id]))
	return bandStyle(status).Render(line)
}

func trendArrow(t reputation.Trend) string {
	switch t {
	case reputation.TrendImproving:
		return "↑"
	case reputation.TrendDeclining:
		return "↓"
	default:
		return "→"
	}
}

func bandStyle(s reputation.ThresholdStatus) lipgloss.Style {
	switch s {
	case reputation.StatusHealthy:
		return StyleHealthy
	case reputation.StatusWatch:
		return StyleWatch
	case reputation.StatusWarning:
		return StyleWarning
	default:
		return StyleEvolve
	}
}
