package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ekwalla/valor/internal/contracts"
)

// dailyCloseCmd represents the daily-close command
var dailyCloseCmd = &cobra.Command{
	Use:   "daily-close",
	Short: "Run the daily close pipeline",
	Long: `Runs the end-of-day pipeline for one date:

1. Canonicalize fx rates and prices
2. Create and execute one valuation run per portfolio with snapshots
3. Persist position results and exposure breakdowns

Safe to re-run: portfolios whose run already exists are skipped.

Example:
  go run ./cmd/valor daily-close --date 2026-03-31`,
	RunE: runDailyClose,
}

var dailyCloseDate string

func init() {
	rootCmd.AddCommand(dailyCloseCmd)

	dailyCloseCmd.Flags().StringVar(&dailyCloseDate, "date", "", "as-of date (YYYY-MM-DD, required)")
	dailyCloseCmd.MarkFlagRequired("date")
}

func runDailyClose(cmd *cobra.Command, args []string) error {
	date, err := time.Parse("2006-01-02", dailyCloseDate)
	if err != nil {
		return fmt.Errorf("invalid --date, expected YYYY-MM-DD: %w", err)
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	result, err := application.dailyClose.Run(context.Background(), contracts.OrgID(orgID), date)
	if err != nil {
		return fmt.Errorf("daily close: %w", err)
	}

	fmt.Printf("Daily close complete for %s\n", dailyCloseDate)
	fmt.Printf("  portfolios: %d\n", result.Portfolios)
	fmt.Printf("  executed:   %d\n", result.Executed)
	fmt.Printf("  skipped:    %d\n", result.Skipped)
	fmt.Printf("  failed:     %d\n", result.Failed)

	if result.Failed > 0 {
		return fmt.Errorf("%d portfolios failed", result.Failed)
	}
	return nil
}
