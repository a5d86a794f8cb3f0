package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	orgID   int64
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "valor",
	Short: "Valor - portfolio valuation and risk exposure pipeline",
	Long: `Valor Unified CLI

Deterministic, auditable valuation pipeline: canonicalize market data,
value portfolio snapshots, aggregate risk exposures, and manage the
official valuation run per portfolio and date.

Usage:
  go run ./cmd/valor [command]

Examples:
  go run ./cmd/valor canonicalize price --date 2026-03-31
  go run ./cmd/valor run create --portfolio 7 --date 2026-03-31 --policy use_snapshot_mv
  go run ./cmd/valor daily-close --date 2026-03-31
  go run ./cmd/valor api`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&orgID, "org", 1, "organization id")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
