package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomhq/fathom/cmd/fathom/commands"
	"github.com/fathomhq/fathom/logger"
)

var rootCmd = &cobra.Command{
	Use:   "fathom",
	Short: "Fathom - report generation job daemon",
	Long: `Fathom - background job orchestration for report generation.

Available commands:
  daemon   - Run the job daemon (executor + worker pool + scheduler)
  schedule - Manage recurring report schedules
  status   - Show job queue and schedule status
  version  - Show version information

Examples:
  fathom daemon                                       # Run daemon in foreground
  fathom schedule create weekly-sales \
    --template tpl_1 --connection conn_1 --interval 10080
  fathom status                                       # Show queue and schedules`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
