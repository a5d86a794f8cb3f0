package contracts

import (
	"fmt"
	"time"
)

// ConfigurationError reports that no active market data source is registered
// for a data type. Canonicalization cannot select a winner without a ranking.
type ConfigurationError struct {
	DataType DataType
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no active source registered for data type %q", e.DataType)
}

// MissingMarketData reports an absent canonical price, FX rate or curve point.
// It degrades a single position result; it never aborts a run.
type MissingMarketData struct {
	DataType  DataType
	EntityKey string
	Date      time.Time
}

func (e *MissingMarketData) Error() string {
	return fmt.Sprintf("no canonical %s for %q on %s", e.DataType, e.EntityKey, e.Date.Format("2006-01-02"))
}

// DuplicateRunError reports an idempotency violation: a run with the same
// inputs fingerprint already exists for the portfolio and date.
type DuplicateRunError struct {
	PortfolioID int64
	AsOfDate    time.Time
	Fingerprint string
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("valuation run already exists for portfolio %d on %s (fingerprint %.12s)",
		e.PortfolioID, e.AsOfDate.Format("2006-01-02"), e.Fingerprint)
}

// InvariantViolation reports a state that must never occur, such as two
// official runs for one portfolio/date or duplicate observations at the same
// source and revision. It is surfaced loudly, never repaired silently.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return e.Msg
}

// DependencyFailure wraps a read/write dependency error. It is propagated
// unchanged; retry policy belongs to the orchestration layer.
type DependencyFailure struct {
	Op  string
	Err error
}

func (e *DependencyFailure) Error() string {
	return fmt.Sprintf("dependency failure in %s: %v", e.Op, e.Err)
}

func (e *DependencyFailure) Unwrap() error {
	return e.Err
}
