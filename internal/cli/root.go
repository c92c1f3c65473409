package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Self-correcting multi-agent task fleet",
	Long: "fleet is a task queue shared by a team of AI workers.\n" +
		"Workers claim tasks, review each other's results, and accumulate\n" +
		"reputation scores that drive automatic correction of weak workers.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the project config file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Override the shared state directory")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(evolveCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(boardCmd)
}
