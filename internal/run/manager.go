package run

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/internal/exposure"
	"github.com/ekwalla/valor/pkg/logger"
)

// Valuer values position snapshots under a policy.
type Valuer interface {
	ValuePositions(ctx context.Context, org contracts.OrgID, snapshots []contracts.PositionSnapshot, policy contracts.ValuationPolicy, baseCurrency string, asOfDate time.Time) ([]contracts.PositionResult, error)
}

// Manager owns the valuation run lifecycle: creation with idempotency,
// execution through the state machine, and official-run designation.
type Manager struct {
	runs        contracts.RunStore
	portfolios  contracts.PortfolioStore
	snapshots   contracts.SnapshotStore
	instruments contracts.InstrumentStore
	exposures   contracts.ExposureStore
	audit       contracts.AuditRecorder
	valuer      Valuer
	aggregator  *exposure.Aggregator
	log         *logger.Logger
	now         func() time.Time
}

func NewManager(
	runs contracts.RunStore,
	portfolios contracts.PortfolioStore,
	snapshots contracts.SnapshotStore,
	instruments contracts.InstrumentStore,
	exposures contracts.ExposureStore,
	audit contracts.AuditRecorder,
	valuer Valuer,
	log *logger.Logger,
) *Manager {
	return &Manager{
		runs:        runs,
		portfolios:  portfolios,
		snapshots:   snapshots,
		instruments: instruments,
		exposures:   exposures,
		audit:       audit,
		valuer:      valuer,
		aggregator:  exposure.NewAggregator(),
		log:         log,
		now:         time.Now,
	}
}

// Fingerprint derives the deterministic identity of a run's inputs: the
// sorted snapshot IDs, the as-of date and the policy. Two runs over the same
// inputs always produce the same fingerprint, regardless of snapshot order.
func Fingerprint(snapshots []contracts.PositionSnapshot, asOfDate time.Time, policy contracts.ValuationPolicy) string {
	ids := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		ids = append(ids, s.ID.String())
	}
	sort.Strings(ids)

	payload := strings.Join(ids, ",") + "|" + asOfDate.Format("2006-01-02") + "|" + string(policy)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// CreateRun registers a new PENDING run for the portfolio's snapshots on the
// as-of date. Returns DuplicateRunError when a run over identical inputs
// already exists.
func (m *Manager) CreateRun(ctx context.Context, org contracts.OrgID, portfolioID int64, asOfDate time.Time, policy contracts.ValuationPolicy, runContextID, createdBy string) (*contracts.ValuationRun, error) {
	if !policy.Valid() {
		return nil, &contracts.InvariantViolation{Msg: fmt.Sprintf("unknown valuation policy %q", policy)}
	}

	portfolio, err := m.portfolios.GetPortfolio(ctx, org, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %d: %w", portfolioID, err)
	}
	if portfolio == nil {
		return nil, fmt.Errorf("portfolio %d not found", portfolioID)
	}

	snapshots, err := m.snapshots.ListSnapshots(ctx, org, portfolioID, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("portfolio %d has no position snapshots for %s", portfolioID, asOfDate.Format("2006-01-02"))
	}

	run := &contracts.ValuationRun{
		ID:                uuid.New(),
		OrgID:             org,
		PortfolioID:       portfolioID,
		AsOfDate:          asOfDate,
		Policy:            policy,
		Status:            contracts.RunPending,
		InputsFingerprint: Fingerprint(snapshots, asOfDate, policy),
		RunContextID:      runContextID,
		CreatedBy:         createdBy,
		CreatedAt:         m.now().UTC(),
	}

	if err := m.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	m.log.WithFields(map[string]interface{}{
		"run_id":       run.ID.String(),
		"portfolio_id": portfolioID,
		"as_of_date":   asOfDate.Format("2006-01-02"),
		"policy":       string(policy),
	}).Info("Valuation run created")

	return run, nil
}

// Execute drives a PENDING run through RUNNING into SUCCESS or FAILED.
// Position results and exposures are persisted before the terminal status,
// so a FAILED run still exposes its diagnostics.
func (m *Manager) Execute(ctx context.Context, org contracts.OrgID, runID uuid.UUID) (*contracts.ValuationRun, error) {
	run, err := m.runs.GetRun(ctx, org, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if !run.Status.CanTransitionTo(contracts.RunRunning) {
		return nil, &contracts.InvariantViolation{
			Msg: fmt.Sprintf("run %s is %s, cannot execute", runID, run.Status),
		}
	}

	run.Status = contracts.RunRunning
	run.AppendLog(fmt.Sprintf("%s execution started", m.now().UTC().Format(time.RFC3339)))
	if err := m.runs.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("transition run to running: %w", err)
	}

	if err := m.execute(ctx, org, run); err != nil {
		run.Status = contracts.RunFailed
		run.AppendLog(fmt.Sprintf("%s execution failed: %v", m.now().UTC().Format(time.RFC3339), err))
		if updateErr := m.runs.UpdateRun(ctx, run); updateErr != nil {
			m.log.WithError(updateErr).WithField("run_id", runID.String()).Error("Persist failed run status")
		}
		return run, err
	}

	if err := m.runs.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist run outcome: %w", err)
	}

	m.log.WithFields(map[string]interface{}{
		"run_id":      runID.String(),
		"status":      string(run.Status),
		"total_mv":    run.TotalMarketValue.String(),
		"positions":   run.PositionCount,
		"with_issues": run.PositionsWithIssues,
		"missing_fx":  run.MissingFXCount,
	}).Info("Valuation run executed")

	return run, nil
}

func (m *Manager) execute(ctx context.Context, org contracts.OrgID, run *contracts.ValuationRun) error {
	portfolio, err := m.portfolios.GetPortfolio(ctx, org, run.PortfolioID)
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	if portfolio == nil {
		return fmt.Errorf("portfolio %d not found", run.PortfolioID)
	}

	snapshots, err := m.snapshots.ListSnapshots(ctx, org, run.PortfolioID, run.AsOfDate)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}

	// The inputs must still be what the run was fingerprinted from.
	if fp := Fingerprint(snapshots, run.AsOfDate, run.Policy); fp != run.InputsFingerprint {
		return &contracts.InvariantViolation{
			Msg: fmt.Sprintf("snapshot set changed since run %s was created", run.ID),
		}
	}

	results, err := m.valuer.ValuePositions(ctx, org, snapshots, run.Policy, portfolio.BaseCurrency, run.AsOfDate)
	if err != nil {
		return fmt.Errorf("value positions: %w", err)
	}
	for i := range results {
		results[i].RunID = run.ID
	}

	instrumentIDs := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		instrumentIDs = append(instrumentIDs, s.InstrumentID)
	}
	refs, err := m.instruments.ResolveInstruments(ctx, org, instrumentIDs)
	if err != nil {
		return fmt.Errorf("resolve instruments: %w", err)
	}

	summary, exposures := m.aggregator.Aggregate(run.ID, results, refs, portfolio.BaseCurrency)

	if err := m.runs.ReplaceResults(ctx, org, run.ID, results); err != nil {
		return fmt.Errorf("persist position results: %w", err)
	}
	if err := m.exposures.ReplaceExposures(ctx, org, run.ID, exposures); err != nil {
		return fmt.Errorf("persist exposures: %w", err)
	}

	run.TotalMarketValue = summary.TotalMarketValue
	run.PositionCount = summary.PositionCount
	run.PositionsWithIssues = summary.PositionsWithIssues
	run.MissingFXCount = summary.MissingFXCount

	resolvable := 0
	for _, r := range results {
		if r.Resolvable() {
			resolvable++
		}
	}
	run.AppendLog(fmt.Sprintf("%s valued %d positions, %d with issues, %d missing fx",
		m.now().UTC().Format(time.RFC3339), summary.PositionCount, summary.PositionsWithIssues, summary.MissingFXCount))

	if summary.PositionCount > 0 && resolvable == 0 {
		return fmt.Errorf("no position could be resolved")
	}

	run.Status = contracts.RunSuccess
	run.AppendLog(fmt.Sprintf("%s execution succeeded, total %s %s",
		m.now().UTC().Format(time.RFC3339), summary.TotalMarketValue.String(), portfolio.BaseCurrency))

	return nil
}

// MarkOfficial designates a successful run as the official valuation for its
// (portfolio, as-of date). Any previously official run is demoted in the same
// transaction; both changes are audited.
func (m *Manager) MarkOfficial(ctx context.Context, org contracts.OrgID, runID uuid.UUID, actor, reason string) (*contracts.ValuationRun, error) {
	run, err := m.runs.GetRun(ctx, org, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if run.Status != contracts.RunSuccess {
		return nil, &contracts.InvariantViolation{
			Msg: fmt.Sprintf("run %s is %s, only successful runs can be official", runID, run.Status),
		}
	}
	if run.IsOfficial {
		return nil, nil
	}

	demoted, err := m.runs.MarkOfficial(ctx, org, runID)
	if err != nil {
		return nil, fmt.Errorf("mark official: %w", err)
	}

	metadata := map[string]string{
		"portfolio_id": fmt.Sprintf("%d", run.PortfolioID),
		"as_of_date":   run.AsOfDate.Format("2006-01-02"),
	}
	if demoted != nil {
		metadata["demoted_run_id"] = demoted.ID.String()
	}
	if err := m.audit.Record(ctx, contracts.AuditEvent{
		OrgID:      org,
		Actor:      actor,
		Action:     contracts.ActionMarkRunOfficial,
		ObjectType: "valuation_run",
		ObjectID:   runID.String(),
		Reason:     reason,
		Metadata:   metadata,
		OccurredAt: m.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("record audit event: %w", err)
	}

	m.log.WithFields(map[string]interface{}{
		"run_id": runID.String(),
		"actor":  actor,
	}).Info("Valuation run marked official")

	return demoted, nil
}

// UnmarkOfficial removes the official designation from a run. A run that is
// not official is left untouched and no audit event is written.
func (m *Manager) UnmarkOfficial(ctx context.Context, org contracts.OrgID, runID uuid.UUID, actor, reason string) error {
	run, err := m.runs.GetRun(ctx, org, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if !run.IsOfficial {
		return nil
	}

	if err := m.runs.UnmarkOfficial(ctx, org, runID); err != nil {
		return fmt.Errorf("unmark official: %w", err)
	}

	if err := m.audit.Record(ctx, contracts.AuditEvent{
		OrgID:      org,
		Actor:      actor,
		Action:     contracts.ActionUnmarkRunOfficial,
		ObjectType: "valuation_run",
		ObjectID:   runID.String(),
		Reason:     reason,
		Metadata: map[string]string{
			"portfolio_id": fmt.Sprintf("%d", run.PortfolioID),
			"as_of_date":   run.AsOfDate.Format("2006-01-02"),
		},
		OccurredAt: m.now().UTC(),
	}); err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}

	return nil
}
