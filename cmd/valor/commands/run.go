package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ekwalla/valor/internal/contracts"
)

// runCmd groups valuation run operations.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage valuation runs",
	Long: `Create, execute and inspect valuation runs.

Subcommands:
  create          - Register a new PENDING run
  execute         - Execute a pending run
  show            - Show a run with its execution log
  mark-official   - Designate a successful run as official
  unmark-official - Remove the official designation

Example:
  go run ./cmd/valor run create --portfolio 7 --date 2026-03-31 --policy use_snapshot_mv
  go run ./cmd/valor run execute <run-id>
  go run ./cmd/valor run mark-official <run-id> --actor alice --reason "month-end close"`,
}

var (
	runPortfolio int64
	runDate      string
	runPolicy    string
	runContext   string
	runCreatedBy string
	runActor     string
	runReason    string
)

var runCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new PENDING run",
	RunE:  runCreate,
}

var runExecuteCmd = &cobra.Command{
	Use:   "execute [run_id]",
	Short: "Execute a pending run",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

var runShowCmd = &cobra.Command{
	Use:   "show [run_id]",
	Short: "Show a run with its execution log",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var runMarkOfficialCmd = &cobra.Command{
	Use:   "mark-official [run_id]",
	Short: "Designate a successful run as official",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarkOfficial,
}

var runUnmarkOfficialCmd = &cobra.Command{
	Use:   "unmark-official [run_id]",
	Short: "Remove the official designation",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnmarkOfficial,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runCreateCmd, runExecuteCmd, runShowCmd, runMarkOfficialCmd, runUnmarkOfficialCmd)

	runCreateCmd.Flags().Int64Var(&runPortfolio, "portfolio", 0, "portfolio id (required)")
	runCreateCmd.Flags().StringVar(&runDate, "date", "", "as-of date (YYYY-MM-DD, required)")
	runCreateCmd.Flags().StringVar(&runPolicy, "policy", "use_snapshot_mv", "valuation policy (use_snapshot_mv|revalue_from_marketdata)")
	runCreateCmd.Flags().StringVar(&runContext, "context", "", "run context id grouping related runs")
	runCreateCmd.Flags().StringVar(&runCreatedBy, "created-by", "cli", "creator label")
	runCreateCmd.MarkFlagRequired("portfolio")
	runCreateCmd.MarkFlagRequired("date")

	for _, c := range []*cobra.Command{runMarkOfficialCmd, runUnmarkOfficialCmd} {
		c.Flags().StringVar(&runActor, "actor", "", "acting user (required)")
		c.Flags().StringVar(&runReason, "reason", "", "reason recorded in the audit trail")
		c.MarkFlagRequired("actor")
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	date, err := time.Parse("2006-01-02", runDate)
	if err != nil {
		return fmt.Errorf("invalid --date, expected YYYY-MM-DD: %w", err)
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	created, err := application.manager.CreateRun(context.Background(), contracts.OrgID(orgID),
		runPortfolio, date, contracts.ValuationPolicy(runPolicy), runContext, runCreatedBy)
	if err != nil {
		var dup *contracts.DuplicateRunError
		if errors.As(err, &dup) {
			fmt.Printf("Run with identical inputs already exists (fingerprint %s)\n", dup.Fingerprint)
			return err
		}
		return err
	}

	fmt.Printf("Run created: %s\n", created.ID)
	fmt.Printf("  status:      %s\n", created.Status)
	fmt.Printf("  fingerprint: %s\n", created.InputsFingerprint)
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	executed, err := application.manager.Execute(context.Background(), contracts.OrgID(orgID), id)
	if err != nil {
		if executed != nil {
			fmt.Printf("Run %s FAILED: %v\n", id, err)
			printRunSummary(executed)
		}
		return err
	}

	fmt.Printf("Run %s %s\n", id, executed.Status)
	printRunSummary(executed)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	found, err := application.runRepo.GetRun(context.Background(), contracts.OrgID(orgID), id)
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("run %s not found", id)
	}

	fmt.Printf("Run %s\n", found.ID)
	fmt.Printf("  portfolio:   %d\n", found.PortfolioID)
	fmt.Printf("  as-of date:  %s\n", found.AsOfDate.Format("2006-01-02"))
	fmt.Printf("  policy:      %s\n", found.Policy)
	fmt.Printf("  status:      %s\n", found.Status)
	fmt.Printf("  official:    %t\n", found.IsOfficial)
	fmt.Printf("  fingerprint: %s\n", found.InputsFingerprint)
	printRunSummary(found)

	if len(found.Log) > 0 {
		fmt.Println("  log:")
		for _, line := range found.Log {
			fmt.Printf("    %s\n", line)
		}
	}
	return nil
}

func runMarkOfficial(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	demoted, err := application.manager.MarkOfficial(context.Background(), contracts.OrgID(orgID), id, runActor, runReason)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s is now official\n", id)
	if demoted != nil {
		fmt.Printf("Previously official run %s was demoted\n", demoted.ID)
	}
	return nil
}

func runUnmarkOfficial(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	if err := application.manager.UnmarkOfficial(context.Background(), contracts.OrgID(orgID), id, runActor, runReason); err != nil {
		return err
	}

	fmt.Printf("Run %s is no longer official\n", id)
	return nil
}

func printRunSummary(r *contracts.ValuationRun) {
	fmt.Printf("  total value: %s\n", r.TotalMarketValue.String())
	fmt.Printf("  positions:   %d (%d with issues, %d missing fx)\n",
		r.PositionCount, r.PositionsWithIssues, r.MissingFXCount)
}
