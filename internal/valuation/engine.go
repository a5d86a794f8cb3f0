package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/pkg/logger"
)

// Engine values position snapshots under a valuation policy. Pure with
// respect to storage: it reads market data and returns results, it never
// writes.
type Engine struct {
	marketData MarketDataReader
	log        *logger.Logger
}

func NewEngine(marketData MarketDataReader, log *logger.Logger) *Engine {
	return &Engine{marketData: marketData, log: log}
}

// ValuePositions values every snapshot under the policy and converts to the
// portfolio base currency. Unresolvable positions are returned with quality
// flags and a zero base value, never dropped.
func (e *Engine) ValuePositions(ctx context.Context, org contracts.OrgID, snapshots []contracts.PositionSnapshot, policy contracts.ValuationPolicy, baseCurrency string, asOfDate time.Time) ([]contracts.PositionResult, error) {
	if !policy.Valid() {
		return nil, &contracts.InvariantViolation{Msg: fmt.Sprintf("unknown valuation policy %q", policy)}
	}

	results := make([]contracts.PositionResult, 0, len(snapshots))
	for _, snap := range snapshots {
		result, err := e.ValuePosition(ctx, org, snap, policy, baseCurrency, asOfDate)
		if err != nil {
			return nil, fmt.Errorf("value position %s: %w", snap.InstrumentID, err)
		}
		results = append(results, result)
	}

	return results, nil
}

// ValuePosition values a single snapshot. Errors are reserved for dependency
// failures; data quality problems come back as flags on the result.
func (e *Engine) ValuePosition(ctx context.Context, org contracts.OrgID, snap contracts.PositionSnapshot, policy contracts.ValuationPolicy, baseCurrency string, asOfDate time.Time) (contracts.PositionResult, error) {
	result := contracts.PositionResult{
		SnapshotID:   snap.ID,
		InstrumentID: snap.InstrumentID,
		BaseValue:    decimal.Zero,
	}

	if snap.IsStale(asOfDate) {
		result.Flags = append(result.Flags, contracts.FlagStaleData)
	}

	var value decimal.Decimal
	var currency string
	var err error

	switch policy {
	case contracts.PolicyUseSnapshotMV:
		value, currency, err = e.snapshotValue(snap)
	case contracts.PolicyRevalueFromMarketData:
		value, currency, err = e.revalue(ctx, org, snap, asOfDate)
	default:
		return result, &contracts.InvariantViolation{Msg: fmt.Sprintf("unknown valuation policy %q", policy)}
	}
	if err != nil {
		var missing *contracts.MissingMarketData
		if errors.As(err, &missing) {
			e.log.WithFields(map[string]interface{}{
				"instrument_id": snap.InstrumentID,
				"date":          asOfDate.Format("2006-01-02"),
			}).Debug("No price available for position")
			result.Flags = append(result.Flags, contracts.FlagMissingPrice)
			return result, nil
		}
		return result, err
	}

	result.Value = &value
	result.ValueCurrency = currency

	if currency == baseCurrency {
		result.BaseValue = value
		return result, nil
	}

	rate, source, found, err := e.marketData.FXRate(ctx, org, currency, baseCurrency, asOfDate)
	if err != nil {
		var iv *contracts.InvariantViolation
		if errors.As(err, &iv) {
			result.Flags = append(result.Flags, contracts.FlagInvalidFX)
			return result, nil
		}
		return result, err
	}
	if !found {
		e.log.WithFields(map[string]interface{}{
			"instrument_id": snap.InstrumentID,
			"pair":          currency + "/" + baseCurrency,
			"date":          asOfDate.Format("2006-01-02"),
		}).Debug("No fx rate available for position")
		result.Flags = append(result.Flags, contracts.FlagMissingFX)
		return result, nil
	}
	if rate.Sign() <= 0 {
		result.Flags = append(result.Flags, contracts.FlagInvalidFX)
		return result, nil
	}

	result.FXRateUsed = &rate
	result.FXRateSource = source
	result.BaseValue = value.Mul(rate)

	return result, nil
}

// snapshotValue trusts the snapshot's own market value, falling back to
// quantity x snapshot price.
func (e *Engine) snapshotValue(snap contracts.PositionSnapshot) (decimal.Decimal, string, error) {
	if snap.MarketValue != nil {
		return *snap.MarketValue, snap.Currency, nil
	}
	if snap.Price != nil {
		return snap.Quantity.Mul(*snap.Price), snap.Currency, nil
	}
	return decimal.Zero, "", &contracts.MissingMarketData{
		DataType:  contracts.DataTypePrice,
		EntityKey: snap.InstrumentID,
		Date:      snap.AsOfDate,
	}
}

// revalue computes quantity x canonical price for the as-of date.
func (e *Engine) revalue(ctx context.Context, org contracts.OrgID, snap contracts.PositionSnapshot, asOfDate time.Time) (decimal.Decimal, string, error) {
	rec, err := e.marketData.Price(ctx, org, snap.InstrumentID, asOfDate)
	if err != nil {
		return decimal.Zero, "", err
	}
	if rec == nil {
		return decimal.Zero, "", &contracts.MissingMarketData{
			DataType:  contracts.DataTypePrice,
			EntityKey: snap.InstrumentID,
			Date:      asOfDate,
		}
	}
	return snap.Quantity.Mul(rec.Value), snap.Currency, nil
}
