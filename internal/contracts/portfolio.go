package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Portfolio is the unit of valuation. Read-only for this pipeline.
type Portfolio struct {
	ID           int64  `json:"id"`
	OrgID        OrgID  `json:"org_id"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

// PositionSnapshot is an immutable per (portfolio, instrument, as-of date)
// record produced by the ingestion collaborator. Never mutated here.
type PositionSnapshot struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        OrgID           `json:"org_id"`
	PortfolioID  int64           `json:"portfolio_id"`
	InstrumentID string          `json:"instrument_id"`
	AsOfDate     time.Time       `json:"as_of_date"`
	Quantity     decimal.Decimal `json:"quantity"`
	Currency     string          `json:"currency"`
	// Price and MarketValue may be absent in messy custodian data; the
	// valuation policy decides what absence means.
	Price       *decimal.Decimal `json:"price,omitempty"`
	MarketValue *decimal.Decimal `json:"market_value,omitempty"`
	// Provenance
	ValuationMethod string `json:"valuation_method,omitempty"`
	ValuationSource string `json:"valuation_source,omitempty"`
	// Staleness horizon
	LastValuationDate *time.Time `json:"last_valuation_date,omitempty"`
	StaleAfterDays    int        `json:"stale_after_days,omitempty"`
}

// IsStale reports whether the snapshot's last valuation is older than its
// staleness horizon at the given as-of date. Snapshots without a horizon or
// without a last valuation date are never considered stale.
func (s PositionSnapshot) IsStale(asOf time.Time) bool {
	if s.StaleAfterDays <= 0 || s.LastValuationDate == nil {
		return false
	}
	cutoff := s.LastValuationDate.AddDate(0, 0, s.StaleAfterDays)
	return asOf.After(cutoff)
}

// InstrumentRef carries the reference attributes used for exposure
// dimensioning. Resolved from the reference data collaborator, never mutated.
type InstrumentRef struct {
	InstrumentID    string `json:"instrument_id"`
	Name            string `json:"name"`
	IssuerID        string `json:"issuer_id"`
	IssuerName      string `json:"issuer_name"`
	Country         string `json:"country"`
	Currency        string `json:"currency"`
	InstrumentGroup string `json:"instrument_group"`
	InstrumentType  string `json:"instrument_type"`
}
