package exposure

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ekwalla/valor/internal/contracts"
)

// unknownKey buckets positions whose reference data lacks the dimension
// attribute. They stay visible in every breakdown instead of vanishing.
const unknownKey = "UNKNOWN"

var hundred = decimal.NewFromInt(100)

// Aggregator computes exposure breakdowns from position results. Pure
// computation, deterministic output order.
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate builds the run summary and every dimensional breakdown.
// Unresolvable positions are excluded from the groups but counted in the
// summary's quality counters.
func (a *Aggregator) Aggregate(runID uuid.UUID, results []contracts.PositionResult, refs map[string]contracts.InstrumentRef, baseCurrency string) (contracts.RunSummary, []contracts.ExposureResult) {
	summary := contracts.RunSummary{
		BaseCurrency:     baseCurrency,
		TotalMarketValue: decimal.Zero,
		PositionCount:    len(results),
	}

	resolvable := make([]contracts.PositionResult, 0, len(results))
	for _, r := range results {
		if len(r.Flags) > 0 {
			summary.PositionsWithIssues++
		}
		if r.HasFlag(contracts.FlagMissingFX) {
			summary.MissingFXCount++
		}
		if !r.Resolvable() {
			continue
		}
		resolvable = append(resolvable, r)
		summary.TotalMarketValue = summary.TotalMarketValue.Add(r.BaseValue)
	}

	exposures := make([]contracts.ExposureResult, 0)
	for _, dim := range contracts.Dimensions() {
		exposures = append(exposures, a.breakdown(runID, dim, resolvable, refs, summary.TotalMarketValue)...)
	}

	return summary, exposures
}

// breakdown groups resolvable results along one dimension and computes each
// group's share of the total. Output is ordered by value descending, then
// key ascending for deterministic ties.
func (a *Aggregator) breakdown(runID uuid.UUID, dim contracts.Dimension, results []contracts.PositionResult, refs map[string]contracts.InstrumentRef, total decimal.Decimal) []contracts.ExposureResult {
	type group struct {
		label string
		value decimal.Decimal
	}
	groups := make(map[string]*group)

	for _, r := range results {
		key, label := dimensionKey(dim, r, refs)
		g, ok := groups[key]
		if !ok {
			g = &group{label: label, value: decimal.Zero}
			groups[key] = g
		}
		g.value = g.value.Add(r.BaseValue)
	}

	out := make([]contracts.ExposureResult, 0, len(groups))
	for key, g := range groups {
		pct := decimal.Zero
		if !total.IsZero() {
			pct = g.value.Div(total).Mul(hundred)
		}
		out = append(out, contracts.ExposureResult{
			RunID:     runID,
			Dimension: dim,
			Key:       key,
			Label:     g.label,
			Value:     g.value,
			PctTotal:  pct,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Value.Equal(out[j].Value) {
			return out[i].Value.GreaterThan(out[j].Value)
		}
		return out[i].Key < out[j].Key
	})

	return out
}

// dimensionKey extracts the grouping key and display label for a position
// along one dimension.
func dimensionKey(dim contracts.Dimension, r contracts.PositionResult, refs map[string]contracts.InstrumentRef) (string, string) {
	ref, hasRef := refs[r.InstrumentID]

	switch dim {
	case contracts.DimensionCurrency:
		if r.ValueCurrency != "" {
			return r.ValueCurrency, r.ValueCurrency
		}
	case contracts.DimensionIssuer:
		if hasRef && ref.IssuerID != "" {
			return ref.IssuerID, ref.IssuerName
		}
	case contracts.DimensionCountry:
		if hasRef && ref.Country != "" {
			return ref.Country, ref.Country
		}
	case contracts.DimensionInstrumentGroup:
		if hasRef && ref.InstrumentGroup != "" {
			return ref.InstrumentGroup, ref.InstrumentGroup
		}
	case contracts.DimensionInstrumentType:
		if hasRef && ref.InstrumentType != "" {
			return ref.InstrumentType, ref.InstrumentType
		}
	}

	return unknownKey, unknownKey
}

// TopConcentrations returns the n largest groups of one dimension by
// absolute value. Used for concentration reporting on top of a persisted
// breakdown.
func TopConcentrations(exposures []contracts.ExposureResult, dim contracts.Dimension, n int) []contracts.Concentration {
	filtered := make([]contracts.ExposureResult, 0)
	for _, e := range exposures {
		if e.Dimension == dim {
			filtered = append(filtered, e)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		ai, aj := filtered[i].Value.Abs(), filtered[j].Value.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return filtered[i].Key < filtered[j].Key
	})

	if n > 0 && len(filtered) > n {
		filtered = filtered[:n]
	}

	out := make([]contracts.Concentration, 0, len(filtered))
	for _, e := range filtered {
		out = append(out, contracts.Concentration{
			Key:      e.Key,
			Label:    e.Label,
			Value:    e.Value,
			PctTotal: e.PctTotal,
		})
	}

	return out
}
