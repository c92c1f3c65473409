package cli

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aristath/fleet/internal/reputation"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker reputation and queue summary",
	RunE:  runStatus,
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	watchStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	evolveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func statusStyle(s reputation.ThresholdStatus) lipgloss.Style {
	switch s {
	case reputation.StatusHealthy:
		return healthyStyle
	case reputation.StatusWatch:
		return watchStyle
	case reputation.StatusWarning:
		return warnStyle
	default:
		return evolveStyle
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	entries, err := svc.tracker.GetAll()
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Workers"))
	if len(svc.cfg.Workers) == 0 {
		fmt.Println(dimStyle.Render("  none configured"))
	}

	ids := make([]string, 0, len(svc.cfg.Workers))
	for id := range svc.cfg.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := entries[id]
		if entry == nil {
			fmt.Printf("  %-14s %s\n", id, dimStyle.Render("unscored"))
			continue
		}
		status, _ := svc.tracker.ThresholdOf(id)
		trend, _ := svc.tracker.TrendOf(id)
		line := fmt.Sprintf("  %-14s %6.1f  %-8s %s", id, entry.Composite, status, trend)
		fmt.Println(statusStyle(status).Render(line))
	}

	// Surface in-flight corrections alongside the scores.
	plans, err := svc.engine.PendingAll()
	if err == nil && len(plans) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Render("Corrections"))
		for _, p := range plans {
			fmt.Printf("  %-14s %-6s %s\n", p.AgentID, p.Path, p.State)
		}
	}

	tasks, err := svc.queue.List()
	if err != nil {
		return err
	}

	counts := map[string]int{}
	for _, t := range tasks {
		counts[string(t.Status)]++
	}

	fmt.Println()
	fmt.Println(headerStyle.Render(fmt.Sprintf("Tasks: %d total", len(tasks))))
	for _, s := range []string{"pending", "blocked", "claimed", "review", "completed", "failed", "paused", "cancelled"} {
		if counts[s] == 0 {
			continue
		}
		fmt.Printf("  %-12s %d\n", s+":", counts[s])
	}
	return nil
}
