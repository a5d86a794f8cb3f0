package contracts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository interfaces for every store the pipeline depends on.
// Concrete implementations enforce organization scoping and uniqueness
// constraints behind these interfaces; the engines never see SQL.

// ObservationStore reads raw market data observations. The write path is
// owned by the ingestion collaborator, not this pipeline.
type ObservationStore interface {
	// ListObservations returns every observation for an entity and date,
	// across all sources and revisions.
	ListObservations(ctx context.Context, org OrgID, dataType DataType, entityKey string, date time.Time) ([]Observation, error)
	// ListEntityKeys returns the distinct entity keys with observations for
	// a data type and date. Used to drive batch canonicalization.
	ListEntityKeys(ctx context.Context, org OrgID, dataType DataType, date time.Time) ([]string, error)
}

// SourceStore reads the source registry and priority configuration.
type SourceStore interface {
	// ActiveSources returns the active sources that provide the data type,
	// with their global priorities.
	ActiveSources(ctx context.Context, dataType DataType) ([]Source, error)
	// OrgOverrides returns the organization-specific priority overrides for
	// the data type, keyed by source code. Empty when none exist.
	OrgOverrides(ctx context.Context, org OrgID, dataType DataType) (map[string]int, error)
}

// CanonicalStore owns canonical records. Written only by the
// canonicalization engine.
type CanonicalStore interface {
	// Get returns the canonical record or nil when none exists.
	Get(ctx context.Context, org OrgID, dataType DataType, entityKey string, date time.Time) (*CanonicalRecord, error)
	// Upsert creates or replaces the canonical record for its
	// (entity, date) key. The implementation serializes concurrent writers
	// on that key.
	Upsert(ctx context.Context, rec *CanonicalRecord) error
}

// SnapshotStore reads immutable position snapshots.
type SnapshotStore interface {
	ListSnapshots(ctx context.Context, org OrgID, portfolioID int64, asOfDate time.Time) ([]PositionSnapshot, error)
}

// PortfolioStore reads portfolios.
type PortfolioStore interface {
	GetPortfolio(ctx context.Context, org OrgID, id int64) (*Portfolio, error)
	// ListWithSnapshots returns the portfolios that have position snapshots
	// for the date. Used by the daily close orchestrator.
	ListWithSnapshots(ctx context.Context, org OrgID, asOfDate time.Time) ([]Portfolio, error)
}

// InstrumentStore resolves reference attributes for exposure dimensioning.
type InstrumentStore interface {
	ResolveInstrument(ctx context.Context, org OrgID, instrumentID string) (*InstrumentRef, error)
	ResolveInstruments(ctx context.Context, org OrgID, instrumentIDs []string) (map[string]InstrumentRef, error)
}

// RunStore owns valuation runs and their position results.
type RunStore interface {
	// CreateRun persists a new run. Returns DuplicateRunError when a run
	// with the same (org, portfolio, as-of date, fingerprint) exists; the
	// store's uniqueness constraint is the arbiter under concurrency.
	CreateRun(ctx context.Context, run *ValuationRun) error
	GetRun(ctx context.Context, org OrgID, id uuid.UUID) (*ValuationRun, error)
	// UpdateRun persists status, aggregates and log of an existing run.
	UpdateRun(ctx context.Context, run *ValuationRun) error
	ListRuns(ctx context.Context, org OrgID, portfolioID int64, asOfDate time.Time) ([]ValuationRun, error)
	// ReplaceResults atomically replaces all position results of a run.
	ReplaceResults(ctx context.Context, org OrgID, runID uuid.UUID, results []PositionResult) error
	ListResults(ctx context.Context, org OrgID, runID uuid.UUID) ([]PositionResult, error)
	// MarkOfficial promotes the run and demotes the current official run for
	// the same (portfolio, date) in a single transaction. Returns the
	// demoted run, or nil when none was official.
	MarkOfficial(ctx context.Context, org OrgID, runID uuid.UUID) (*ValuationRun, error)
	// UnmarkOfficial clears the official flag on the run.
	UnmarkOfficial(ctx context.Context, org OrgID, runID uuid.UUID) error
}

// ExposureStore owns persisted exposure results.
type ExposureStore interface {
	// ReplaceExposures atomically replaces the exposures of a run.
	ReplaceExposures(ctx context.Context, org OrgID, runID uuid.UUID, exposures []ExposureResult) error
	ListExposures(ctx context.Context, org OrgID, runID uuid.UUID) ([]ExposureResult, error)
}

// AuditRecorder appends audit events. Failures are surfaced to the caller;
// official-run changes must not go unrecorded.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}
