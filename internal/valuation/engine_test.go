package valuation

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/pkg/logger"
)

type fakeMarketData struct {
	prices map[string]decimal.Decimal // instrumentID -> price
	fx     map[string]decimal.Decimal // "FROM/TO" -> rate
}

func (f *fakeMarketData) Price(_ context.Context, _ contracts.OrgID, instrumentID string, date time.Time) (*contracts.CanonicalRecord, error) {
	p, ok := f.prices[instrumentID]
	if !ok {
		return nil, nil
	}
	return &contracts.CanonicalRecord{
		DataType:     contracts.DataTypePrice,
		EntityKey:    instrumentID,
		Date:         date,
		Value:        p,
		ChosenSource: "BLOOMBERG",
	}, nil
}

func (f *fakeMarketData) FXRate(_ context.Context, _ contracts.OrgID, from, to string, _ time.Time) (decimal.Decimal, string, bool, error) {
	if from == to {
		return decimal.NewFromInt(1), "", true, nil
	}
	if rate, ok := f.fx[from+"/"+to]; ok {
		return rate, "ECB", true, nil
	}
	if rate, ok := f.fx[to+"/"+from]; ok {
		if rate.IsZero() {
			return decimal.Zero, "", false, &contracts.InvariantViolation{Msg: "zero rate"}
		}
		return decimal.NewFromInt(1).DivRound(rate, 12), "ECB", true, nil
	}
	return decimal.Zero, "", false, nil
}

var asOf = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapshot(instrumentID, currency string, qty string) contracts.PositionSnapshot {
	return contracts.PositionSnapshot{
		ID:           uuid.New(),
		OrgID:        1,
		PortfolioID:  7,
		InstrumentID: instrumentID,
		AsOfDate:     asOf,
		Quantity:     dec(qty),
		Currency:     currency,
	}
}

func newTestEngine(md *fakeMarketData) *Engine {
	return NewEngine(md, logger.NewWithWriter(io.Discard, "error"))
}

func TestSnapshotPolicyUsesMarketValue(t *testing.T) {
	mv := dec("600")
	snap := snapshot("BOND-001", "EUR", "100")
	snap.MarketValue = &mv

	engine := newTestEngine(&fakeMarketData{})
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyUseSnapshotMV, "EUR", asOf)
	require.NoError(t, err)

	require.NotNil(t, result.Value)
	assert.True(t, result.Value.Equal(dec("600")))
	assert.True(t, result.BaseValue.Equal(dec("600")))
	assert.Nil(t, result.FXRateUsed, "same-currency position needs no fx")
	assert.True(t, result.Resolvable())
}

func TestSnapshotPolicyFallsBackToQuantityTimesPrice(t *testing.T) {
	price := dec("3")
	snap := snapshot("BOND-001", "EUR", "100")
	snap.Price = &price

	engine := newTestEngine(&fakeMarketData{})
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyUseSnapshotMV, "EUR", asOf)
	require.NoError(t, err)

	require.NotNil(t, result.Value)
	assert.True(t, result.Value.Equal(dec("300")))
}

func TestSnapshotPolicyNoValueNoPriceFlagsMissingPrice(t *testing.T) {
	snap := snapshot("BOND-001", "EUR", "100")

	engine := newTestEngine(&fakeMarketData{})
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyUseSnapshotMV, "EUR", asOf)
	require.NoError(t, err)

	assert.True(t, result.HasFlag(contracts.FlagMissingPrice))
	assert.False(t, result.Resolvable())
	assert.True(t, result.BaseValue.IsZero())
}

func TestRevaluePolicyUsesCanonicalPrice(t *testing.T) {
	snap := snapshot("BOND-001", "USD", "50")
	md := &fakeMarketData{
		prices: map[string]decimal.Decimal{"BOND-001": dec("2")},
		fx:     map[string]decimal.Decimal{"USD/EUR": dec("0.9")},
	}

	engine := newTestEngine(md)
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyRevalueFromMarketData, "EUR", asOf)
	require.NoError(t, err)

	require.NotNil(t, result.Value)
	assert.True(t, result.Value.Equal(dec("100")), "50 x 2 in USD")
	assert.True(t, result.BaseValue.Equal(dec("90")), "converted at 0.9")
	require.NotNil(t, result.FXRateUsed)
	assert.Equal(t, "ECB", result.FXRateSource)
}

func TestRevaluePolicyMissingCanonicalPrice(t *testing.T) {
	snap := snapshot("BOND-404", "USD", "50")

	engine := newTestEngine(&fakeMarketData{})
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyRevalueFromMarketData, "EUR", asOf)
	require.NoError(t, err)

	assert.True(t, result.HasFlag(contracts.FlagMissingPrice))
	assert.False(t, result.Resolvable())
}

func TestMissingFXRate(t *testing.T) {
	mv := dec("1000")
	snap := snapshot("BOND-001", "XAF", "10")
	snap.MarketValue = &mv

	engine := newTestEngine(&fakeMarketData{})
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyUseSnapshotMV, "EUR", asOf)
	require.NoError(t, err)

	assert.True(t, result.HasFlag(contracts.FlagMissingFX))
	require.NotNil(t, result.Value, "value in position currency is still known")
	assert.True(t, result.BaseValue.IsZero())
}

func TestInvertedFXRate(t *testing.T) {
	mv := dec("100")
	snap := snapshot("BOND-001", "USD", "1")
	snap.MarketValue = &mv

	// Only EUR/USD quoted; USD -> EUR must invert.
	md := &fakeMarketData{fx: map[string]decimal.Decimal{"EUR/USD": dec("1.25")}}
	engine := newTestEngine(md)
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyUseSnapshotMV, "EUR", asOf)
	require.NoError(t, err)

	assert.True(t, result.BaseValue.Equal(dec("80")), "100 / 1.25")
}

func TestInvalidFXRate(t *testing.T) {
	mv := dec("100")
	snap := snapshot("BOND-001", "USD", "1")
	snap.MarketValue = &mv

	md := &fakeMarketData{fx: map[string]decimal.Decimal{"USD/EUR": dec("-1")}}
	engine := newTestEngine(md)
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyUseSnapshotMV, "EUR", asOf)
	require.NoError(t, err)

	assert.True(t, result.HasFlag(contracts.FlagInvalidFX))
	assert.False(t, result.Resolvable())
}

func TestStaleDataIsWarningOnly(t *testing.T) {
	mv := dec("100")
	old := asOf.AddDate(0, -6, 0)
	snap := snapshot("BOND-001", "EUR", "1")
	snap.MarketValue = &mv
	snap.LastValuationDate = &old
	snap.StaleAfterDays = 30

	engine := newTestEngine(&fakeMarketData{})
	result, err := engine.ValuePosition(context.Background(), 1, snap, contracts.PolicyUseSnapshotMV, "EUR", asOf)
	require.NoError(t, err)

	assert.True(t, result.HasFlag(contracts.FlagStaleData))
	assert.True(t, result.Resolvable())
	assert.True(t, result.BaseValue.Equal(dec("100")))
}

func TestUnknownPolicyRejected(t *testing.T) {
	engine := newTestEngine(&fakeMarketData{})
	_, err := engine.ValuePositions(context.Background(), 1, []contracts.PositionSnapshot{snapshot("BOND-001", "EUR", "1")}, contracts.ValuationPolicy("black_scholes"), "EUR", asOf)
	require.Error(t, err)
}
