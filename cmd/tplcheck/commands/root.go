package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrInvalid is returned when a checked value has violations. The
// violations have already been printed.
var ErrInvalid = errors.New("configuration is invalid")

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tplcheck",
		Short: "tplcheck - configuration type checker",
		Long: `tplcheck checks configuration values against named types declared in
type documents, the way a deployment template checks its parameters.

Features:
  - Structs, unions, arrays, tuples and nullable types
  - Constraints such as @minLength, @maxValue and @discriminator
  - Values from JSON, YAML, CUE and Starlark files
  - Overlay composition with per-overlay diagnostics
  - Rego policies on top of structural validation
  - Report history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "project file path (default: tplcheck.yaml in the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newTypesCommand())
	rootCmd.AddCommand(newComposeCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
