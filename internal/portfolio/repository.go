package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekwalla/valor/internal/contracts"
)

// Repository reads portfolios and their immutable position snapshots.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetPortfolio(ctx context.Context, org contracts.OrgID, id int64) (*contracts.Portfolio, error) {
	query := `
		SELECT id, org_id, name, base_currency
		FROM portfolios.portfolios
		WHERE org_id = $1 AND id = $2
	`

	p := &contracts.Portfolio{}
	err := r.db.QueryRow(ctx, query, org, id).Scan(&p.ID, &p.OrgID, &p.Name, &p.BaseCurrency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}

	return p, nil
}

func (r *Repository) ListWithSnapshots(ctx context.Context, org contracts.OrgID, asOfDate time.Time) ([]contracts.Portfolio, error) {
	query := `
		SELECT DISTINCT p.id, p.org_id, p.name, p.base_currency
		FROM portfolios.portfolios p
		JOIN portfolios.position_snapshots s
		  ON s.org_id = p.org_id AND s.portfolio_id = p.id
		WHERE p.org_id = $1 AND s.as_of_date = $2
		ORDER BY p.id
	`

	rows, err := r.db.Query(ctx, query, org, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("query portfolios: %w", err)
	}
	defer rows.Close()

	portfolios := make([]contracts.Portfolio, 0)
	for rows.Next() {
		var p contracts.Portfolio
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.BaseCurrency); err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolios: %w", err)
	}

	return portfolios, nil
}

func (r *Repository) ListSnapshots(ctx context.Context, org contracts.OrgID, portfolioID int64, asOfDate time.Time) ([]contracts.PositionSnapshot, error) {
	query := `
		SELECT id, org_id, portfolio_id, instrument_id, as_of_date,
		       quantity, currency, price, market_value,
		       valuation_method, valuation_source, last_valuation_date, stale_after_days
		FROM portfolios.position_snapshots
		WHERE org_id = $1 AND portfolio_id = $2 AND as_of_date = $3
		ORDER BY instrument_id
	`

	rows, err := r.db.Query(ctx, query, org, portfolioID, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]contracts.PositionSnapshot, 0)
	for rows.Next() {
		var s contracts.PositionSnapshot
		err := rows.Scan(
			&s.ID,
			&s.OrgID,
			&s.PortfolioID,
			&s.InstrumentID,
			&s.AsOfDate,
			&s.Quantity,
			&s.Currency,
			&s.Price,
			&s.MarketValue,
			&s.ValuationMethod,
			&s.ValuationSource,
			&s.LastValuationDate,
			&s.StaleAfterDays,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	return snapshots, nil
}

// InstrumentRepository resolves reference data for exposure dimensioning.
type InstrumentRepository struct {
	db *pgxpool.Pool
}

func NewInstrumentRepository(db *pgxpool.Pool) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

const instrumentColumns = `
	instrument_id, name, issuer_id, issuer_name, country, currency, instrument_group, instrument_type
`

func (r *InstrumentRepository) ResolveInstrument(ctx context.Context, org contracts.OrgID, instrumentID string) (*contracts.InstrumentRef, error) {
	query := `SELECT ` + instrumentColumns + ` FROM refdata.instruments WHERE org_id = $1 AND instrument_id = $2`

	ref := &contracts.InstrumentRef{}
	err := r.db.QueryRow(ctx, query, org, instrumentID).Scan(
		&ref.InstrumentID,
		&ref.Name,
		&ref.IssuerID,
		&ref.IssuerName,
		&ref.Country,
		&ref.Currency,
		&ref.InstrumentGroup,
		&ref.InstrumentType,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query instrument: %w", err)
	}

	return ref, nil
}

func (r *InstrumentRepository) ResolveInstruments(ctx context.Context, org contracts.OrgID, instrumentIDs []string) (map[string]contracts.InstrumentRef, error) {
	if len(instrumentIDs) == 0 {
		return map[string]contracts.InstrumentRef{}, nil
	}

	query := `SELECT ` + instrumentColumns + ` FROM refdata.instruments WHERE org_id = $1 AND instrument_id = ANY($2)`

	rows, err := r.db.Query(ctx, query, org, instrumentIDs)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]contracts.InstrumentRef, len(instrumentIDs))
	for rows.Next() {
		var ref contracts.InstrumentRef
		err := rows.Scan(
			&ref.InstrumentID,
			&ref.Name,
			&ref.IssuerID,
			&ref.IssuerName,
			&ref.Country,
			&ref.Currency,
			&ref.InstrumentGroup,
			&ref.InstrumentType,
		)
		if err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		refs[ref.InstrumentID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruments: %w", err)
	}

	return refs, nil
}
