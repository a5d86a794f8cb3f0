package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/internal/valuation"
	"github.com/ekwalla/valor/pkg/logger"
)

type fakeRunStore struct {
	runs    map[uuid.UUID]*contracts.ValuationRun
	results map[uuid.UUID][]contracts.PositionResult
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:    make(map[uuid.UUID]*contracts.ValuationRun),
		results: make(map[uuid.UUID][]contracts.PositionResult),
	}
}

func (f *fakeRunStore) CreateRun(_ context.Context, run *contracts.ValuationRun) error {
	for _, existing := range f.runs {
		if existing.OrgID == run.OrgID &&
			existing.PortfolioID == run.PortfolioID &&
			existing.AsOfDate.Equal(run.AsOfDate) &&
			existing.InputsFingerprint == run.InputsFingerprint {
			return &contracts.DuplicateRunError{
				PortfolioID: run.PortfolioID,
				AsOfDate:    run.AsOfDate,
				Fingerprint: run.InputsFingerprint,
			}
		}
	}
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeRunStore) GetRun(_ context.Context, _ contracts.OrgID, id uuid.UUID) (*contracts.ValuationRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRunStore) UpdateRun(_ context.Context, run *contracts.ValuationRun) error {
	if _, ok := f.runs[run.ID]; !ok {
		return fmt.Errorf("run %s not found", run.ID)
	}
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeRunStore) ListRuns(_ context.Context, org contracts.OrgID, portfolioID int64, asOfDate time.Time) ([]contracts.ValuationRun, error) {
	out := make([]contracts.ValuationRun, 0)
	for _, run := range f.runs {
		if run.OrgID == org && run.PortfolioID == portfolioID && run.AsOfDate.Equal(asOfDate) {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (f *fakeRunStore) ReplaceResults(_ context.Context, _ contracts.OrgID, runID uuid.UUID, results []contracts.PositionResult) error {
	f.results[runID] = append([]contracts.PositionResult(nil), results...)
	return nil
}

func (f *fakeRunStore) ListResults(_ context.Context, _ contracts.OrgID, runID uuid.UUID) ([]contracts.PositionResult, error) {
	return f.results[runID], nil
}

func (f *fakeRunStore) MarkOfficial(_ context.Context, org contracts.OrgID, runID uuid.UUID) (*contracts.ValuationRun, error) {
	target, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	var demoted *contracts.ValuationRun
	for _, run := range f.runs {
		if run.OrgID == org && run.PortfolioID == target.PortfolioID &&
			run.AsOfDate.Equal(target.AsOfDate) && run.IsOfficial && run.ID != runID {
			run.IsOfficial = false
			cp := *run
			demoted = &cp
		}
	}
	target.IsOfficial = true
	return demoted, nil
}

func (f *fakeRunStore) UnmarkOfficial(_ context.Context, _ contracts.OrgID, runID uuid.UUID) error {
	run, ok := f.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.IsOfficial = false
	return nil
}

type fakePortfolioStore struct {
	portfolios map[int64]contracts.Portfolio
}

func (f *fakePortfolioStore) GetPortfolio(_ context.Context, _ contracts.OrgID, id int64) (*contracts.Portfolio, error) {
	p, ok := f.portfolios[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakePortfolioStore) ListWithSnapshots(_ context.Context, _ contracts.OrgID, _ time.Time) ([]contracts.Portfolio, error) {
	out := make([]contracts.Portfolio, 0, len(f.portfolios))
	for _, p := range f.portfolios {
		out = append(out, p)
	}
	return out, nil
}

type fakeSnapshotStore struct {
	snapshots []contracts.PositionSnapshot
}

func (f *fakeSnapshotStore) ListSnapshots(_ context.Context, org contracts.OrgID, portfolioID int64, asOfDate time.Time) ([]contracts.PositionSnapshot, error) {
	out := make([]contracts.PositionSnapshot, 0)
	for _, s := range f.snapshots {
		if s.OrgID == org && s.PortfolioID == portfolioID && s.AsOfDate.Equal(asOfDate) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeInstrumentStore struct {
	refs map[string]contracts.InstrumentRef
}

func (f *fakeInstrumentStore) ResolveInstrument(_ context.Context, _ contracts.OrgID, id string) (*contracts.InstrumentRef, error) {
	ref, ok := f.refs[id]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

func (f *fakeInstrumentStore) ResolveInstruments(_ context.Context, _ contracts.OrgID, ids []string) (map[string]contracts.InstrumentRef, error) {
	out := make(map[string]contracts.InstrumentRef)
	for _, id := range ids {
		if ref, ok := f.refs[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

type fakeExposureStore struct {
	exposures map[uuid.UUID][]contracts.ExposureResult
}

func newFakeExposureStore() *fakeExposureStore {
	return &fakeExposureStore{exposures: make(map[uuid.UUID][]contracts.ExposureResult)}
}

func (f *fakeExposureStore) ReplaceExposures(_ context.Context, _ contracts.OrgID, runID uuid.UUID, exposures []contracts.ExposureResult) error {
	f.exposures[runID] = append([]contracts.ExposureResult(nil), exposures...)
	return nil
}

func (f *fakeExposureStore) ListExposures(_ context.Context, _ contracts.OrgID, runID uuid.UUID) ([]contracts.ExposureResult, error) {
	return f.exposures[runID], nil
}

type fakeAudit struct {
	events []contracts.AuditEvent
}

func (f *fakeAudit) Record(_ context.Context, event contracts.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeMarketData struct {
	prices map[string]decimal.Decimal
	fx     map[string]decimal.Decimal
}

func (f *fakeMarketData) Price(_ context.Context, _ contracts.OrgID, instrumentID string, date time.Time) (*contracts.CanonicalRecord, error) {
	p, ok := f.prices[instrumentID]
	if !ok {
		return nil, nil
	}
	return &contracts.CanonicalRecord{EntityKey: instrumentID, Date: date, Value: p, ChosenSource: "BLOOMBERG"}, nil
}

func (f *fakeMarketData) FXRate(_ context.Context, _ contracts.OrgID, from, to string, _ time.Time) (decimal.Decimal, string, bool, error) {
	if from == to {
		return decimal.NewFromInt(1), "", true, nil
	}
	if rate, ok := f.fx[from+"/"+to]; ok {
		return rate, "ECB", true, nil
	}
	return decimal.Zero, "", false, nil
}

type fixture struct {
	manager   *Manager
	runs      *fakeRunStore
	exposures *fakeExposureStore
	audit     *fakeAudit
	snapshots *fakeSnapshotStore
}

var asOf = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mv(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newFixture(md *fakeMarketData, snapshots ...contracts.PositionSnapshot) *fixture {
	log := logger.NewWithWriter(io.Discard, "error")
	runs := newFakeRunStore()
	exposures := newFakeExposureStore()
	audit := &fakeAudit{}
	snaps := &fakeSnapshotStore{snapshots: snapshots}

	manager := NewManager(
		runs,
		&fakePortfolioStore{portfolios: map[int64]contracts.Portfolio{
			7: {ID: 7, OrgID: 1, Name: "Main fund", BaseCurrency: "EUR"},
		}},
		snaps,
		&fakeInstrumentStore{refs: map[string]contracts.InstrumentRef{
			"BOND-DE": {InstrumentID: "BOND-DE", IssuerID: "ISS-1", IssuerName: "Bund", Country: "DE", InstrumentGroup: "FIXED_INCOME", InstrumentType: "GOVT_BOND"},
			"BOND-FR": {InstrumentID: "BOND-FR", IssuerID: "ISS-2", IssuerName: "OAT", Country: "FR", InstrumentGroup: "FIXED_INCOME", InstrumentType: "GOVT_BOND"},
			"EQ-US":   {InstrumentID: "EQ-US", IssuerID: "ISS-3", IssuerName: "Acme", Country: "US", InstrumentGroup: "EQUITY", InstrumentType: "COMMON_STOCK"},
		}},
		exposures,
		audit,
		valuation.NewEngine(md, log),
		log,
	)

	return &fixture{manager: manager, runs: runs, exposures: exposures, audit: audit, snapshots: snaps}
}

func testSnapshot(instrumentID, currency string, marketValue string) contracts.PositionSnapshot {
	return contracts.PositionSnapshot{
		ID:           uuid.New(),
		OrgID:        1,
		PortfolioID:  7,
		InstrumentID: instrumentID,
		AsOfDate:     asOf,
		Quantity:     dec("1"),
		Currency:     currency,
		MarketValue:  mv(marketValue),
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := testSnapshot("BOND-DE", "EUR", "600")
	b := testSnapshot("BOND-FR", "EUR", "300")

	fp1 := Fingerprint([]contracts.PositionSnapshot{a, b}, asOf, contracts.PolicyUseSnapshotMV)
	fp2 := Fingerprint([]contracts.PositionSnapshot{b, a}, asOf, contracts.PolicyUseSnapshotMV)
	assert.Equal(t, fp1, fp2, "snapshot order must not matter")
	assert.Len(t, fp1, 64)

	fp3 := Fingerprint([]contracts.PositionSnapshot{a, b}, asOf, contracts.PolicyRevalueFromMarketData)
	assert.NotEqual(t, fp1, fp3, "policy is part of the identity")

	fp4 := Fingerprint([]contracts.PositionSnapshot{a}, asOf, contracts.PolicyUseSnapshotMV)
	assert.NotEqual(t, fp1, fp4, "snapshot set is part of the identity")
}

func TestCreateRunDuplicateRejected(t *testing.T) {
	f := newFixture(&fakeMarketData{}, testSnapshot("BOND-DE", "EUR", "600"))
	ctx := context.Background()

	_, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "ctx-1", "alice")
	require.NoError(t, err)

	_, err = f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "ctx-2", "bob")
	var dup *contracts.DuplicateRunError
	require.True(t, errors.As(err, &dup), "identical inputs must collide regardless of context id")
	assert.Equal(t, int64(7), dup.PortfolioID)

	// A different policy is a different set of inputs.
	_, err = f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyRevalueFromMarketData, "ctx-1", "alice")
	require.NoError(t, err)
}

func TestCreateRunUnknownPortfolio(t *testing.T) {
	f := newFixture(&fakeMarketData{})
	_, err := f.manager.CreateRun(context.Background(), 1, 999, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.Error(t, err)
}

func TestCreateRunNoSnapshots(t *testing.T) {
	f := newFixture(&fakeMarketData{})
	_, err := f.manager.CreateRun(context.Background(), 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.Error(t, err)
}

func TestExecuteSuccess(t *testing.T) {
	md := &fakeMarketData{fx: map[string]decimal.Decimal{"USD/EUR": dec("0.5")}}
	f := newFixture(md,
		testSnapshot("BOND-DE", "EUR", "600"),
		testSnapshot("BOND-FR", "EUR", "300"),
		testSnapshot("EQ-US", "USD", "200"),
	)
	ctx := context.Background()

	created, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, contracts.RunPending, created.Status)

	executed, err := f.manager.Execute(ctx, 1, created.ID)
	require.NoError(t, err)

	assert.Equal(t, contracts.RunSuccess, executed.Status)
	assert.True(t, executed.TotalMarketValue.Equal(dec("1000")), "600 + 300 + 200x0.5")
	assert.Equal(t, 3, executed.PositionCount)
	assert.Equal(t, 0, executed.PositionsWithIssues)
	assert.NotEmpty(t, executed.Log)

	results, err := f.runs.ListResults(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	exposures, err := f.exposures.ListExposures(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, exposures)
}

func TestExecutePartialIssuesStillSucceeds(t *testing.T) {
	// No XAF rate: one position unresolvable, the run still succeeds.
	f := newFixture(&fakeMarketData{},
		testSnapshot("BOND-DE", "EUR", "600"),
		testSnapshot("EQ-US", "XAF", "200"),
	)
	ctx := context.Background()

	created, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)

	executed, err := f.manager.Execute(ctx, 1, created.ID)
	require.NoError(t, err)

	assert.Equal(t, contracts.RunSuccess, executed.Status)
	assert.True(t, executed.TotalMarketValue.Equal(dec("600")))
	assert.Equal(t, 1, executed.PositionsWithIssues)
	assert.Equal(t, 1, executed.MissingFXCount)
}

func TestExecuteAllUnresolvableFails(t *testing.T) {
	f := newFixture(&fakeMarketData{}, testSnapshot("EQ-US", "XAF", "200"))
	ctx := context.Background()

	created, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)

	executed, err := f.manager.Execute(ctx, 1, created.ID)
	require.Error(t, err)
	require.NotNil(t, executed)
	assert.Equal(t, contracts.RunFailed, executed.Status)

	// Diagnostics are persisted even for a failed run.
	results, err := f.runs.ListResults(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestExecuteTerminalRunRejected(t *testing.T) {
	f := newFixture(&fakeMarketData{}, testSnapshot("BOND-DE", "EUR", "600"))
	ctx := context.Background()

	created, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)
	_, err = f.manager.Execute(ctx, 1, created.ID)
	require.NoError(t, err)

	_, err = f.manager.Execute(ctx, 1, created.ID)
	var iv *contracts.InvariantViolation
	require.True(t, errors.As(err, &iv), "terminal run must not re-execute")
}

func TestExecuteDetectsChangedInputs(t *testing.T) {
	f := newFixture(&fakeMarketData{}, testSnapshot("BOND-DE", "EUR", "600"))
	ctx := context.Background()

	created, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)

	f.snapshots.snapshots = append(f.snapshots.snapshots, testSnapshot("BOND-FR", "EUR", "300"))

	executed, err := f.manager.Execute(ctx, 1, created.ID)
	require.Error(t, err)
	assert.Equal(t, contracts.RunFailed, executed.Status)
}

func TestMarkOfficialDemotesPrevious(t *testing.T) {
	f := newFixture(&fakeMarketData{}, testSnapshot("BOND-DE", "EUR", "600"))
	ctx := context.Background()

	first, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)
	_, err = f.manager.Execute(ctx, 1, first.ID)
	require.NoError(t, err)

	second, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyRevalueFromMarketData, "", "alice")
	require.NoError(t, err)
	second.Status = contracts.RunSuccess
	require.NoError(t, f.runs.UpdateRun(ctx, second))

	demoted, err := f.manager.MarkOfficial(ctx, 1, first.ID, "alice", "month-end close")
	require.NoError(t, err)
	assert.Nil(t, demoted, "nothing was official before")

	demoted, err = f.manager.MarkOfficial(ctx, 1, second.ID, "bob", "correction")
	require.NoError(t, err)
	require.NotNil(t, demoted)
	assert.Equal(t, first.ID, demoted.ID)

	official := 0
	for _, run := range f.runs.runs {
		if run.IsOfficial {
			official++
			assert.Equal(t, second.ID, run.ID)
		}
	}
	assert.Equal(t, 1, official, "at most one official run per portfolio and date")

	require.Len(t, f.audit.events, 2)
	assert.Equal(t, contracts.ActionMarkRunOfficial, f.audit.events[1].Action)
	assert.Equal(t, first.ID.String(), f.audit.events[1].Metadata["demoted_run_id"])
}

func TestMarkOfficialRequiresSuccess(t *testing.T) {
	f := newFixture(&fakeMarketData{}, testSnapshot("BOND-DE", "EUR", "600"))
	ctx := context.Background()

	created, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)

	_, err = f.manager.MarkOfficial(ctx, 1, created.ID, "alice", "")
	var iv *contracts.InvariantViolation
	require.True(t, errors.As(err, &iv))
	assert.Empty(t, f.audit.events, "rejected designation leaves no audit trail")
}

func TestUnmarkOfficial(t *testing.T) {
	f := newFixture(&fakeMarketData{}, testSnapshot("BOND-DE", "EUR", "600"))
	ctx := context.Background()

	created, err := f.manager.CreateRun(ctx, 1, 7, asOf, contracts.PolicyUseSnapshotMV, "", "alice")
	require.NoError(t, err)
	_, err = f.manager.Execute(ctx, 1, created.ID)
	require.NoError(t, err)
	_, err = f.manager.MarkOfficial(ctx, 1, created.ID, "alice", "")
	require.NoError(t, err)

	require.NoError(t, f.manager.UnmarkOfficial(ctx, 1, created.ID, "bob", "bad data"))
	run, err := f.runs.GetRun(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.False(t, run.IsOfficial)

	// Unmarking a non-official run is a no-op without an audit event.
	events := len(f.audit.events)
	require.NoError(t, f.manager.UnmarkOfficial(ctx, 1, created.ID, "bob", "again"))
	assert.Len(t, f.audit.events, events)
}
