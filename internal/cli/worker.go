package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/fleet/internal/runtime"
)

var workerID string

// workerCmd is the entry point the process runtime spawns children
// into. Hidden because operators use "fleet run" instead.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single worker (used internally by process mode)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerID, "id", "", "Worker id from the config roster")
	workerCmd.MarkFlagRequired("id")
}

func runWorker(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	wcfg, ok := svc.cfg.Workers[workerID]
	if !ok {
		return fmt.Errorf("worker %q not in config", workerID)
	}

	loop, err := newWorkerLoop(svc, svc.bus, runtime.WorkerDef{
		ID:     workerID,
		Role:   wcfg.Role,
		Model:  wcfg.Model,
		Prompt: wcfg.Prompt,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
