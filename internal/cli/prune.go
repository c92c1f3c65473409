package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/fleet/internal/persistence"
	"github.com/aristath/fleet/internal/queue"
)

var pruneList bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Archive finished tasks out of the live board",
	Long: `Moves completed, failed, and cancelled tasks from the board file
into the SQLite archive so the board stays small. Archived history
remains available via --list.`,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneList, "list", false, "List archived tasks instead of pruning")
}

func runPrune(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := persistence.NewSQLiteStore(ctx, svc.cfg.ArchivePath())
	if err != nil {
		return err
	}
	defer store.Close()

	if pruneList {
		archived, err := store.ListArchived(ctx, 0)
		if err != nil {
			return err
		}
		if len(archived) == 0 {
			fmt.Println("Archive is empty.")
			return nil
		}
		for _, t := range archived {
			fmt.Printf("%-10s %-10s %s\n", t.ID, t.Status, t.Description)
		}
		return nil
	}

	// Archive before removing so a failed write never loses history.
	tasks, err := svc.queue.List()
	if err != nil {
		return err
	}
	var terminal []*queue.Task
	for _, t := range tasks {
		if t.Status.Terminal() {
			terminal = append(terminal, t)
		}
	}
	if len(terminal) == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}

	if err := store.ArchiveTasks(ctx, terminal); err != nil {
		return fmt.Errorf("archiving finished tasks: %w", err)
	}

	pruned, err := svc.queue.Prune()
	if err != nil {
		return err
	}

	fmt.Printf("Archived %d finished tasks to %s\n", len(pruned), svc.cfg.ArchivePath())
	return nil
}
