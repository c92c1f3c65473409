package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/fleet/internal/tui"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the live task board",
	Long: `Opens a terminal UI showing the task board and worker reputation
scores. The view polls the shared state files, so it can watch a fleet
running in other processes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}

		p := tea.NewProgram(tui.New(svc.queue, svc.tracker), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("running board: %w", err)
		}
		return nil
	},
}
