package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValuationPolicy is the closed set of methods for turning a position
// snapshot into a monetary value. Adding a policy is a compile-time change;
// every switch over policies must handle all members and reject unknowns.
type ValuationPolicy string

const (
	// PolicyUseSnapshotMV trusts the snapshot's own market value, falling
	// back to quantity x snapshot price in the snapshot currency.
	PolicyUseSnapshotMV ValuationPolicy = "use_snapshot_mv"
	// PolicyRevalueFromMarketData computes quantity x canonical price and
	// converts with the canonical FX rate.
	PolicyRevalueFromMarketData ValuationPolicy = "revalue_from_marketdata"
)

// Valid reports whether p is a member of the closed policy set.
func (p ValuationPolicy) Valid() bool {
	switch p {
	case PolicyUseSnapshotMV, PolicyRevalueFromMarketData:
		return true
	}
	return false
}

// RunStatus is the valuation run state machine:
// PENDING -> RUNNING -> SUCCESS | FAILED. Terminal states have no exits.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether the status permits no further transition.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning
	case RunRunning:
		return next == RunSuccess || next == RunFailed
	}
	return false
}

// ValuationRun is one computation attempt for (portfolio, as-of date,
// policy, inputs fingerprint).
type ValuationRun struct {
	ID          uuid.UUID       `json:"id"`
	OrgID       OrgID           `json:"org_id"`
	PortfolioID int64           `json:"portfolio_id"`
	AsOfDate    time.Time       `json:"as_of_date"`
	Policy      ValuationPolicy `json:"policy"`
	Status      RunStatus       `json:"status"`
	// InputsFingerprint identifies exactly which inputs the run was computed
	// from. Unique per (portfolio, as-of date) when set.
	InputsFingerprint string `json:"inputs_fingerprint"`
	// RunContextID is a caller-supplied label grouping runs executed
	// together. Orthogonal to the fingerprint, no uniqueness constraint.
	RunContextID string    `json:"run_context_id,omitempty"`
	IsOfficial   bool      `json:"is_official"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`

	// Stored aggregates, written once by execute.
	TotalMarketValue    decimal.Decimal `json:"total_market_value"`
	PositionCount       int             `json:"position_count"`
	PositionsWithIssues int             `json:"positions_with_issues"`
	MissingFXCount      int             `json:"missing_fx_count"`

	// Execution log lines, newline-joined in storage.
	Log []string `json:"log,omitempty"`
}

// AppendLog adds a line to the run's execution log.
func (r *ValuationRun) AppendLog(line string) {
	r.Log = append(r.Log, line)
}

// QualityFlag marks a data quality issue on a position result.
type QualityFlag string

const (
	FlagMissingPrice QualityFlag = "missing_price"
	FlagMissingFX    QualityFlag = "missing_fx"
	FlagInvalidFX    QualityFlag = "invalid_fx"
	FlagStaleData    QualityFlag = "stale_data"
)

// PositionResult is the per-position output of a valuation run.
type PositionResult struct {
	RunID        uuid.UUID `json:"run_id"`
	SnapshotID   uuid.UUID `json:"snapshot_id"`
	InstrumentID string    `json:"instrument_id"`
	// Value is the market value in ValueCurrency; nil when unresolvable.
	Value         *decimal.Decimal `json:"value,omitempty"`
	ValueCurrency string           `json:"value_currency,omitempty"`
	// BaseValue is the value converted to portfolio base currency. Zero for
	// unresolvable positions, which still count in quality counters.
	BaseValue    decimal.Decimal  `json:"base_value"`
	FXRateUsed   *decimal.Decimal `json:"fx_rate_used,omitempty"`
	FXRateSource string           `json:"fx_rate_source,omitempty"`
	Flags        []QualityFlag    `json:"flags,omitempty"`
}

// HasFlag reports whether the result carries the given quality flag.
func (r PositionResult) HasFlag(flag QualityFlag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Resolvable reports whether the position produced a usable base value.
// Stale data is a warning, not an unresolvable condition.
func (r PositionResult) Resolvable() bool {
	return !r.HasFlag(FlagMissingPrice) && !r.HasFlag(FlagMissingFX) && !r.HasFlag(FlagInvalidFX)
}

// RunSummary holds the aggregates stored on a successful run.
type RunSummary struct {
	TotalMarketValue    decimal.Decimal `json:"total_market_value"`
	BaseCurrency        string          `json:"base_currency"`
	PositionCount       int             `json:"position_count"`
	PositionsWithIssues int             `json:"positions_with_issues"`
	MissingFXCount      int             `json:"missing_fx_count"`
}
