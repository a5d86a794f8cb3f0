package exposure

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekwalla/valor/internal/contracts"
)

// Repository persists exposure breakdowns in analytics.exposures.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ReplaceExposures swaps the run's exposures in one transaction so readers
// never see a partial breakdown.
func (r *Repository) ReplaceExposures(ctx context.Context, org contracts.OrgID, runID uuid.UUID, exposures []contracts.ExposureResult) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM analytics.exposures WHERE org_id = $1 AND run_id = $2`, org, runID)
	if err != nil {
		return fmt.Errorf("delete exposures: %w", err)
	}

	rows := make([][]interface{}, 0, len(exposures))
	for _, e := range exposures {
		rows = append(rows, []interface{}{org, e.RunID, string(e.Dimension), e.Key, e.Label, e.Value, e.PctTotal})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"analytics", "exposures"},
		[]string{"org_id", "run_id", "dimension", "group_key", "group_label", "value", "pct_total"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy exposures: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ListExposures returns the persisted breakdowns of a run in reporting
// order.
func (r *Repository) ListExposures(ctx context.Context, org contracts.OrgID, runID uuid.UUID) ([]contracts.ExposureResult, error) {
	query := `
		SELECT run_id, dimension, group_key, group_label, value, pct_total
		FROM analytics.exposures
		WHERE org_id = $1 AND run_id = $2
		ORDER BY dimension, value DESC, group_key
	`

	rows, err := r.db.Query(ctx, query, org, runID)
	if err != nil {
		return nil, fmt.Errorf("query exposures: %w", err)
	}
	defer rows.Close()

	exposures := make([]contracts.ExposureResult, 0)
	for rows.Next() {
		var e contracts.ExposureResult
		err := rows.Scan(&e.RunID, &e.Dimension, &e.Key, &e.Label, &e.Value, &e.PctTotal)
		if err != nil {
			return nil, fmt.Errorf("scan exposure: %w", err)
		}
		exposures = append(exposures, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exposures: %w", err)
	}

	return exposures, nil
}
