package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowplane",
		Short: "FlowPlane - Workflow and Policy Rule Engine",
		Long: `FlowPlane executes metadata-driven workflows: finite state machines
with guarded, role-authorized transitions, a portable rule DSL compiled
to SQL, Flink SQL, and Rego, SLA timers with escalation, and a
tamper-evident hash-chained event journal.

Features:
  - Closed-whitelist expression and action DSL
  - Multi-target rule compilation with artifact caching
  - Optimistic-concurrency workflow transitions
  - SLA timers with warn/breach sweep and de-duplicated escalation
  - Append-only, hash-chained audit journal`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newTransitionCommand())
	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newTimersCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newEscalationsCommand())
	rootCmd.AddCommand(newDefinitionsCommand())

	return rootCmd
}
