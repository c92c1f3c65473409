package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/fleet/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a fleet project in the current directory",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := projectConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("already initialized: %s exists", path)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = fleetDirName + "/state"
	cfg.Workers = map[string]config.Worker{
		"coder-1": {
			Role:   "coder",
			Prompt: "You implement tasks in code. Be direct and complete.",
		},
		"reviewer-1": {
			Role:   "reviewer",
			Prompt: "You review other workers' results critically.",
		},
	}

	if err := config.Save(cfg, path); err != nil {
		return err
	}
	if err := ensureDataDirs(cfg); err != nil {
		return err
	}

	fmt.Printf("Initialized fleet project.\n")
	fmt.Printf("  Config: %s\n", path)
	fmt.Printf("  State:  %s\n", cfg.DataDir)
	fmt.Printf("Edit the worker roster in the config, then: fleet task add \"description\"\n")
	return nil
}
