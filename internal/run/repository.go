package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekwalla/valor/internal/contracts"
)

const uniqueViolation = "23505"

// Repository persists valuation runs and position results in the analytics
// schema.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRun(ctx context.Context, run *contracts.ValuationRun) error {
	query := `
		INSERT INTO analytics.valuation_runs (
			id, org_id, portfolio_id, as_of_date, policy, status,
			inputs_fingerprint, run_context_id, is_official, created_by, created_at,
			total_market_value, position_count, positions_with_issues, missing_fx_count, log
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.Exec(ctx, query,
		run.ID,
		run.OrgID,
		run.PortfolioID,
		run.AsOfDate,
		run.Policy,
		run.Status,
		run.InputsFingerprint,
		run.RunContextID,
		run.IsOfficial,
		run.CreatedBy,
		run.CreatedAt,
		run.TotalMarketValue,
		run.PositionCount,
		run.PositionsWithIssues,
		run.MissingFXCount,
		strings.Join(run.Log, "\n"),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &contracts.DuplicateRunError{
				PortfolioID: run.PortfolioID,
				AsOfDate:    run.AsOfDate,
				Fingerprint: run.InputsFingerprint,
			}
		}
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

const runColumns = `
	id, org_id, portfolio_id, as_of_date, policy, status,
	inputs_fingerprint, run_context_id, is_official, created_by, created_at,
	total_market_value, position_count, positions_with_issues, missing_fx_count, log
`

func scanRun(row pgx.Row) (*contracts.ValuationRun, error) {
	run := &contracts.ValuationRun{}
	var logText string
	err := row.Scan(
		&run.ID,
		&run.OrgID,
		&run.PortfolioID,
		&run.AsOfDate,
		&run.Policy,
		&run.Status,
		&run.InputsFingerprint,
		&run.RunContextID,
		&run.IsOfficial,
		&run.CreatedBy,
		&run.CreatedAt,
		&run.TotalMarketValue,
		&run.PositionCount,
		&run.PositionsWithIssues,
		&run.MissingFXCount,
		&logText,
	)
	if err != nil {
		return nil, err
	}
	if logText != "" {
		run.Log = strings.Split(logText, "\n")
	}
	return run, nil
}

func (r *Repository) GetRun(ctx context.Context, org contracts.OrgID, id uuid.UUID) (*contracts.ValuationRun, error) {
	query := `SELECT ` + runColumns + ` FROM analytics.valuation_runs WHERE org_id = $1 AND id = $2`

	run, err := scanRun(r.db.QueryRow(ctx, query, org, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	return run, nil
}

func (r *Repository) UpdateRun(ctx context.Context, run *contracts.ValuationRun) error {
	query := `
		UPDATE analytics.valuation_runs SET
			status = $3,
			total_market_value = $4,
			position_count = $5,
			positions_with_issues = $6,
			missing_fx_count = $7,
			log = $8
		WHERE org_id = $1 AND id = $2
	`

	tag, err := r.db.Exec(ctx, query,
		run.OrgID,
		run.ID,
		run.Status,
		run.TotalMarketValue,
		run.PositionCount,
		run.PositionsWithIssues,
		run.MissingFXCount,
		strings.Join(run.Log, "\n"),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}

	return nil
}

func (r *Repository) ListRuns(ctx context.Context, org contracts.OrgID, portfolioID int64, asOfDate time.Time) ([]contracts.ValuationRun, error) {
	query := `SELECT ` + runColumns + `
		FROM analytics.valuation_runs
		WHERE org_id = $1 AND portfolio_id = $2 AND as_of_date = $3
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, org, portfolioID, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]contracts.ValuationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

func (r *Repository) ReplaceResults(ctx context.Context, org contracts.OrgID, runID uuid.UUID, results []contracts.PositionResult) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM analytics.position_results WHERE org_id = $1 AND run_id = $2`, org, runID)
	if err != nil {
		return fmt.Errorf("delete position results: %w", err)
	}

	query := `
		INSERT INTO analytics.position_results (
			org_id, run_id, snapshot_id, instrument_id,
			value, value_currency, base_value, fx_rate_used, fx_rate_source, flags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, res := range results {
		flags := make([]string, 0, len(res.Flags))
		for _, f := range res.Flags {
			flags = append(flags, string(f))
		}
		_, err = tx.Exec(ctx, query,
			org,
			res.RunID,
			res.SnapshotID,
			res.InstrumentID,
			res.Value,
			res.ValueCurrency,
			res.BaseValue,
			res.FXRateUsed,
			res.FXRateSource,
			flags,
		)
		if err != nil {
			return fmt.Errorf("insert position result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (r *Repository) ListResults(ctx context.Context, org contracts.OrgID, runID uuid.UUID) ([]contracts.PositionResult, error) {
	query := `
		SELECT run_id, snapshot_id, instrument_id,
		       value, value_currency, base_value, fx_rate_used, fx_rate_source, flags
		FROM analytics.position_results
		WHERE org_id = $1 AND run_id = $2
		ORDER BY instrument_id
	`

	rows, err := r.db.Query(ctx, query, org, runID)
	if err != nil {
		return nil, fmt.Errorf("query position results: %w", err)
	}
	defer rows.Close()

	results := make([]contracts.PositionResult, 0)
	for rows.Next() {
		var res contracts.PositionResult
		var flags []string
		err := rows.Scan(
			&res.RunID,
			&res.SnapshotID,
			&res.InstrumentID,
			&res.Value,
			&res.ValueCurrency,
			&res.BaseValue,
			&res.FXRateUsed,
			&res.FXRateSource,
			&flags,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position result: %w", err)
		}
		res.Flags = make([]contracts.QualityFlag, 0, len(flags))
		for _, f := range flags {
			res.Flags = append(res.Flags, contracts.QualityFlag(f))
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position results: %w", err)
	}

	return results, nil
}

// MarkOfficial demotes the current official run for the same portfolio and
// date and promotes the given run, both inside one transaction. Readers
// never see two official runs or none where one existed.
func (r *Repository) MarkOfficial(ctx context.Context, org contracts.OrgID, runID uuid.UUID) (*contracts.ValuationRun, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := scanRun(tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM analytics.valuation_runs WHERE org_id = $1 AND id = $2 FOR UPDATE`,
		org, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock run: %w", err)
	}

	demoted, err := scanRun(tx.QueryRow(ctx, `
		UPDATE analytics.valuation_runs SET is_official = FALSE
		WHERE org_id = $1 AND portfolio_id = $2 AND as_of_date = $3 AND is_official = TRUE AND id <> $4
		RETURNING `+runColumns,
		org, target.PortfolioID, target.AsOfDate, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		demoted = nil
	} else if err != nil {
		return nil, fmt.Errorf("demote official run: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE analytics.valuation_runs SET is_official = TRUE WHERE org_id = $1 AND id = $2`,
		org, runID)
	if err != nil {
		return nil, fmt.Errorf("promote run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return demoted, nil
}

func (r *Repository) UnmarkOfficial(ctx context.Context, org contracts.OrgID, runID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE analytics.valuation_runs SET is_official = FALSE WHERE org_id = $1 AND id = $2`,
		org, runID)
	if err != nil {
		return fmt.Errorf("unmark official: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	return nil
}
