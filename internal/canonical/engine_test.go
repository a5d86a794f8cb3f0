package canonical

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
	"github.com/ekwalla/valor/pkg/logger"
)

type fakeObservationStore struct {
	observations []contracts.Observation
}

func (f *fakeObservationStore) ListObservations(_ context.Context, org contracts.OrgID, dataType contracts.DataType, entityKey string, date time.Time) ([]contracts.Observation, error) {
	out := make([]contracts.Observation, 0)
	for _, obs := range f.observations {
		if obs.OrgID == org && obs.DataType == dataType && obs.EntityKey == entityKey && obs.Date.Equal(date) {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (f *fakeObservationStore) ListEntityKeys(_ context.Context, org contracts.OrgID, dataType contracts.DataType, date time.Time) ([]string, error) {
	seen := make(map[string]bool)
	keys := make([]string, 0)
	for _, obs := range f.observations {
		if obs.OrgID == org && obs.DataType == dataType && obs.Date.Equal(date) && !seen[obs.EntityKey] {
			seen[obs.EntityKey] = true
			keys = append(keys, obs.EntityKey)
		}
	}
	return keys, nil
}

type fakeCanonicalStore struct {
	records map[string]*contracts.CanonicalRecord
}

func newFakeCanonicalStore() *fakeCanonicalStore {
	return &fakeCanonicalStore{records: make(map[string]*contracts.CanonicalRecord)}
}

func canonicalKey(org contracts.OrgID, dataType contracts.DataType, entityKey string, date time.Time) string {
	return fmt.Sprintf("%d|%s|%s|%s", org, dataType, entityKey, date.Format("2006-01-02"))
}

func (f *fakeCanonicalStore) Get(_ context.Context, org contracts.OrgID, dataType contracts.DataType, entityKey string, date time.Time) (*contracts.CanonicalRecord, error) {
	rec, ok := f.records[canonicalKey(org, dataType, entityKey, date)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeCanonicalStore) Upsert(_ context.Context, rec *contracts.CanonicalRecord) error {
	cp := *rec
	f.records[canonicalKey(rec.OrgID, rec.DataType, rec.EntityKey, rec.Date)] = &cp
	return nil
}

var testDate = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

func observation(source string, value string, revision int, observedAt time.Time) contracts.Observation {
	return contracts.Observation{
		ID:         uuid.New(),
		OrgID:      1,
		DataType:   contracts.DataTypePrice,
		EntityKey:  "BOND-001",
		Date:       testDate,
		SourceCode: source,
		Value:      decimal.RequireFromString(value),
		Revision:   revision,
		ObservedAt: observedAt,
	}
}

func newTestEngine(obs *fakeObservationStore, store *fakeCanonicalStore) *Engine {
	resolver := NewResolver(&fakeSourceStore{sources: priceSources()})
	return NewEngine(obs, store, resolver, logger.NewWithWriter(io.Discard, "error"))
}

func TestCanonicalizeHigherPriorityWins(t *testing.T) {
	observedAt := testDate.Add(18 * time.Hour)
	obs := &fakeObservationStore{observations: []contracts.Observation{
		observation("REUTERS", "99", 0, observedAt),
		observation("BLOOMBERG", "100", 0, observedAt),
	}}
	store := newFakeCanonicalStore()
	engine := newTestEngine(obs, store)

	rec, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "BLOOMBERG", rec.ChosenSource)
	assert.True(t, rec.Value.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, contracts.SelectionAutoPolicy, rec.SelectionReason)
	assert.False(t, rec.PublicationDateAssumed)
}

func TestCanonicalizeHigherRevisionWinsWithinSource(t *testing.T) {
	observedAt := testDate.Add(18 * time.Hour)
	obs := &fakeObservationStore{observations: []contracts.Observation{
		observation("BLOOMBERG", "100", 0, observedAt),
		observation("BLOOMBERG", "101.5", 1, observedAt.Add(time.Hour)),
	}}
	engine := newTestEngine(obs, newFakeCanonicalStore())

	rec, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 1, mustRevision(t, obs, rec.ObservationID))
	assert.True(t, rec.Value.Equal(decimal.RequireFromString("101.5")))
}

func mustRevision(t *testing.T, store *fakeObservationStore, id uuid.UUID) int {
	t.Helper()
	for _, obs := range store.observations {
		if obs.ID == id {
			return obs.Revision
		}
	}
	t.Fatalf("observation %s not found", id)
	return -1
}

func TestCanonicalizeOnlyAvailable(t *testing.T) {
	obs := &fakeObservationStore{observations: []contracts.Observation{
		observation("REUTERS", "99", 0, testDate.Add(18*time.Hour)),
	}}
	engine := newTestEngine(obs, newFakeCanonicalStore())

	rec, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, contracts.SelectionOnlyAvailable, rec.SelectionReason)
}

func TestCanonicalizeNoObservations(t *testing.T) {
	engine := newTestEngine(&fakeObservationStore{}, newFakeCanonicalStore())

	rec, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCanonicalizeIgnoresInactiveSources(t *testing.T) {
	obs := &fakeObservationStore{observations: []contracts.Observation{
		observation("LEGACY", "95", 0, testDate.Add(18*time.Hour)),
	}}
	engine := newTestEngine(obs, newFakeCanonicalStore())

	rec, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})
	require.NoError(t, err)
	assert.Nil(t, rec, "inactive source cannot produce a canonical record")
}

func TestCanonicalizeDuplicateRevisionFails(t *testing.T) {
	observedAt := testDate.Add(18 * time.Hour)
	obs := &fakeObservationStore{observations: []contracts.Observation{
		observation("BLOOMBERG", "100", 0, observedAt),
		observation("BLOOMBERG", "100.5", 0, observedAt.Add(time.Minute)),
	}}
	engine := newTestEngine(obs, newFakeCanonicalStore())

	_, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})

	var iv *contracts.InvariantViolation
	require.True(t, errors.As(err, &iv))
}

func TestCanonicalizeManualOverrideProtected(t *testing.T) {
	observedAt := testDate.Add(18 * time.Hour)
	manual := observation("REUTERS", "98", 0, observedAt)
	obs := &fakeObservationStore{observations: []contracts.Observation{
		manual,
		observation("BLOOMBERG", "100", 0, observedAt),
	}}
	store := newFakeCanonicalStore()
	require.NoError(t, store.Upsert(context.Background(), &contracts.CanonicalRecord{
		OrgID:           1,
		DataType:        contracts.DataTypePrice,
		EntityKey:       "BOND-001",
		Date:            testDate,
		Value:           manual.Value,
		ChosenSource:    manual.SourceCode,
		ObservationID:   manual.ID,
		SelectionReason: contracts.SelectionManualOverride,
	}))
	engine := newTestEngine(obs, store)

	rec, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.SelectionManualOverride, rec.SelectionReason)
	assert.Equal(t, "REUTERS", rec.ChosenSource)

	rec, err = engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, contracts.SelectionAutoPolicy, rec.SelectionReason)
	assert.Equal(t, "BLOOMBERG", rec.ChosenSource)
}

func TestCanonicalizePublicationDateAssumed(t *testing.T) {
	obs := &fakeObservationStore{observations: []contracts.Observation{
		observation("BLOOMBERG", "100", 0, testDate.AddDate(0, 0, 1).Add(9*time.Hour)),
	}}
	engine := newTestEngine(obs, newFakeCanonicalStore())

	rec, err := engine.Canonicalize(context.Background(), 1, contracts.DataTypePrice, "BOND-001", testDate, Options{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.PublicationDateAssumed)
}

func TestCanonicalizeDaySummary(t *testing.T) {
	observedAt := testDate.Add(18 * time.Hour)
	obsA := observation("BLOOMBERG", "100", 0, observedAt)
	obsB := observation("REUTERS", "55", 0, observedAt)
	obsB.EntityKey = "BOND-002"
	dupA := observation("BLOOMBERG", "1.10", 0, observedAt)
	dupA.EntityKey = "BOND-003"
	dupB := observation("BLOOMBERG", "1.11", 0, observedAt.Add(time.Minute))
	dupB.EntityKey = "BOND-003"

	obs := &fakeObservationStore{observations: []contracts.Observation{obsA, obsB, dupA, dupB}}
	store := newFakeCanonicalStore()
	engine := newTestEngine(obs, store)

	summary, err := engine.CanonicalizeDay(context.Background(), 1, contracts.DataTypePrice, testDate, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Errors, "duplicate revision entity counts as error")
	assert.Equal(t, 0, summary.Updated)

	// Second pass with identical inputs changes nothing.
	summary, err = engine.CanonicalizeDay(context.Background(), 1, contracts.DataTypePrice, testDate, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Errors)
}
