package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/cmd/cadence/commands"
	"github.com/teranos/cadence/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - clustered cron scheduler",
	Long: `cadence - clustered cron scheduler.

Every node registers the same cron job definitions against a shared
database; lease locks make each trigger fire on exactly one node per tick.

Available commands:
  run        - Run a scheduler node
  status     - Summarize schedule, lock and host state
  schedules  - Inspect schedule records
  executions - Inspect execution history
  locks      - Inspect trigger and registration locks
  jobs       - Manage configured job definitions
  next       - Preview the fire times of a cron expression
  validate   - Validate configuration and job definitions
  am         - Manage cadence configuration ("I am")

Examples:
  cadence run                        # Start a node with ./am.toml
  cadence run --config prod.toml     # Start a node with an explicit config
  cadence schedules ls               # Show every trigger and its next fire time
  cadence next "0/10 * * * * ?"      # Preview an expression`,
	SilenceUsage:      true,
	PersistentPreRunE: commands.InitLogger,
}

func init() {
	commands.AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.SchedulesCmd)
	rootCmd.AddCommand(commands.ExecutionsCmd)
	rootCmd.AddCommand(commands.LocksCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.NextCmd)
	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
