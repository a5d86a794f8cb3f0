package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ekwalla/valor/internal/canonical"
	"github.com/ekwalla/valor/internal/contracts"
)

// canonicalizeCmd represents the canonicalize command
var canonicalizeCmd = &cobra.Command{
	Use:   "canonicalize [data_type]",
	Short: "Resolve observations into canonical records",
	Long: `Runs a canonicalization pass for one data type and date.

Every entity with observations gets at most one canonical record,
selected by source priority, then revision, then observation time.
Manually selected records are preserved unless --force is set.

Data types: price, fx_rate, yield_curve, index_value

Example:
  go run ./cmd/valor canonicalize price --date 2026-03-31
  go run ./cmd/valor canonicalize fx_rate --date 2026-03-31 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runCanonicalize,
}

var (
	canonicalizeDate  string
	canonicalizeForce bool
)

func init() {
	rootCmd.AddCommand(canonicalizeCmd)

	canonicalizeCmd.Flags().StringVar(&canonicalizeDate, "date", "", "as-of date (YYYY-MM-DD, required)")
	canonicalizeCmd.Flags().BoolVar(&canonicalizeForce, "force", false, "replace manually selected records")
	canonicalizeCmd.MarkFlagRequired("date")
}

func runCanonicalize(cmd *cobra.Command, args []string) error {
	date, err := time.Parse("2006-01-02", canonicalizeDate)
	if err != nil {
		return fmt.Errorf("invalid --date, expected YYYY-MM-DD: %w", err)
	}
	dataType := contracts.DataType(args[0])

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	summary, err := application.engine.CanonicalizeDay(context.Background(),
		contracts.OrgID(orgID), dataType, date, canonical.Options{Force: canonicalizeForce})
	if err != nil {
		return fmt.Errorf("canonicalize %s: %w", dataType, err)
	}

	fmt.Printf("Canonicalization complete for %s on %s\n", dataType, canonicalizeDate)
	fmt.Printf("  created: %d\n", summary.Created)
	fmt.Printf("  updated: %d\n", summary.Updated)
	fmt.Printf("  skipped: %d\n", summary.Skipped)
	fmt.Printf("  errors:  %d\n", summary.Errors)

	if summary.Errors > 0 {
		return fmt.Errorf("%d entities failed to canonicalize", summary.Errors)
	}
	return nil
}
