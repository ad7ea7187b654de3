// Package main implements the actcore CLI: secrets administration, audit
// verification and one-shot action dispatch against the local stores.
package main

import (
	"fmt"
	"os"

	"actcore/internal/config"
	"actcore/internal/logging"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "actcore",
	Short: "actcore - action execution and governance core",
	Long: `actcore executes the actions selected by a reasoning agent.

Every action runs through a handler that records an audit trail, updates the
task and thought it belongs to, and creates the follow-up thought that keeps
reasoning going. Identity and environment memory are gated behind Wise
Authority approval; deferrals escalate to a human.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			loaded.Logging.DebugMode = true
		}
		if err := logging.Initialize(loaded.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "actcore.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(secretsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(tasksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
