package contracts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRunStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from RunStatus
		to   RunStatus
		want bool
	}{
		{"pending to running", RunPending, RunRunning, true},
		{"running to success", RunRunning, RunSuccess, true},
		{"running to failed", RunRunning, RunFailed, true},
		{"pending to success skips running", RunPending, RunSuccess, false},
		{"success is terminal", RunSuccess, RunRunning, false},
		{"failed is terminal", RunFailed, RunRunning, false},
		{"failed cannot flip to success", RunFailed, RunSuccess, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunSuccess.Terminal())
	assert.True(t, RunFailed.Terminal())
}

func TestValuationPolicyValid(t *testing.T) {
	assert.True(t, PolicyUseSnapshotMV.Valid())
	assert.True(t, PolicyRevalueFromMarketData.Valid())
	assert.False(t, ValuationPolicy("mark_to_fantasy").Valid())
	assert.False(t, ValuationPolicy("").Valid())
}

func TestPositionResultResolvable(t *testing.T) {
	v := decimal.NewFromInt(100)

	resolved := PositionResult{Value: &v, BaseValue: v}
	assert.True(t, resolved.Resolvable())

	stale := PositionResult{Value: &v, BaseValue: v, Flags: []QualityFlag{FlagStaleData}}
	assert.True(t, stale.Resolvable(), "stale data is a warning, not unresolvable")

	missingFX := PositionResult{Flags: []QualityFlag{FlagMissingFX}}
	assert.False(t, missingFX.Resolvable())

	missingPrice := PositionResult{Flags: []QualityFlag{FlagMissingPrice}}
	assert.False(t, missingPrice.Resolvable())
}

func TestSnapshotIsStale(t *testing.T) {
	asOf := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	old := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		snap PositionSnapshot
		want bool
	}{
		{"no horizon", PositionSnapshot{LastValuationDate: &old}, false},
		{"no last valuation date", PositionSnapshot{StaleAfterDays: 30}, false},
		{"within horizon", PositionSnapshot{LastValuationDate: &recent, StaleAfterDays: 30}, false},
		{"beyond horizon", PositionSnapshot{LastValuationDate: &old, StaleAfterDays: 30}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.snap.IsStale(asOf))
		})
	}
}
