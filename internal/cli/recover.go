package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reset tasks whose claim lease has expired",
	Long: `Sweeps the queue for tasks still marked claimed or in review whose
lease expired, returning them to pending. The running fleet does this
automatically; this command covers crashed or offline fleets.`,
	RunE: runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	recovered, err := svc.queue.RecoverStale()
	if err != nil {
		return err
	}

	if len(recovered) == 0 {
		fmt.Println("No stale tasks.")
		return nil
	}
	for _, t := range recovered {
		fmt.Printf("Recovered %s: %s\n", t.ID, t.Description)
	}
	return nil
}
