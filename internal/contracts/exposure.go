package contracts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dimension is an exposure breakdown axis.
type Dimension string

const (
	DimensionCurrency        Dimension = "currency"
	DimensionIssuer          Dimension = "issuer"
	DimensionCountry         Dimension = "country"
	DimensionInstrumentGroup Dimension = "instrument_group"
	DimensionInstrumentType  Dimension = "instrument_type"
)

// Dimensions lists every exposure axis in reporting order.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionCurrency,
		DimensionIssuer,
		DimensionCountry,
		DimensionInstrumentGroup,
		DimensionInstrumentType,
	}
}

// ExposureResult is a per (run, dimension, dimension value) aggregate.
// Persisted for fast re-read; always recomputable from position results.
type ExposureResult struct {
	RunID     uuid.UUID       `json:"run_id"`
	Dimension Dimension       `json:"dimension"`
	Key       string          `json:"key"`   // dimension value key, e.g. currency code or issuer ID
	Label     string          `json:"label"` // human-readable label
	Value     decimal.Decimal `json:"value"`
	PctTotal  decimal.Decimal `json:"pct_total"`
}

// Concentration is one entry of a top-N ranking by absolute value.
type Concentration struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Value    decimal.Decimal `json:"value"`
	PctTotal decimal.Decimal `json:"pct_total"`
}
