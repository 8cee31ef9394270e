package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/vigil/cmd/vigil/commands"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/logger"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "vigil - lifecycle manager for remotely executed automation jobs",
	Long: `vigil - lifecycle manager for remotely executed automation jobs.

vigil starts jobs on a remote automation runner, polls their status on an
adaptive schedule, decides when an unresponsive job is done, and survives
its own restarts without losing track of work in flight.

Available commands:
  serve   - Run the vigil daemon (poll loop + dashboard API)
  job     - Start, cancel, inspect, and watch automation jobs
  db      - Manage the vigil database
  config  - Manage vigil configuration
  version - Show version information

Examples:
  vigil serve                                   # Run the daemon
  vigil job start --target https://portal.example.com/depot/7
  vigil job ls                                  # List tracked jobs
  vigil job watch                               # Live job feed
  vigil db stats                                # Database statistics`,
	PersistentPreRunE: setupLogging,
}

// setupLogging brings the global logger up before any command body runs.
// `config show` is exempt: it emits TOML on stdout for piping, and log
// lines share that stream.
func setupLogging(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "show" {
		return nil
	}
	verbosity, _ := cmd.Flags().GetCount("verbose")
	return errors.Wrap(logger.Initialize(false, verbosity), "initialize logger")
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v",
		"Raise log detail (-v info, -vv debug, -vvv trace)")

	rootCmd.AddCommand(
		commands.ServeCmd,
		commands.JobCmd,
		commands.DbCmd,
		commands.ConfigCmd,
		commands.VersionCmd,
	)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
