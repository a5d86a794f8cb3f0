package canonical

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/pkg/logger"
)

// Engine resolves conflicting observations into one canonical record per
// (entity, date). Deterministic: the same observations and configuration
// always produce the same winner.
type Engine struct {
	observations contracts.ObservationStore
	canonical    contracts.CanonicalStore
	resolver     *Resolver
	log          *logger.Logger
	now          func() time.Time
}

// Options control one canonicalization pass.
type Options struct {
	// Force replaces existing records even when an operator selected them
	// manually.
	Force bool
}

// Summary counts the outcomes of a batch pass.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func NewEngine(observations contracts.ObservationStore, canonical contracts.CanonicalStore, resolver *Resolver, log *logger.Logger) *Engine {
	return &Engine{
		observations: observations,
		canonical:    canonical,
		resolver:     resolver,
		log:          log,
		now:          time.Now,
	}
}

// Canonicalize selects the winning observation for one entity and date and
// upserts the canonical record. Returns (nil, nil) when no eligible
// observation exists. An existing manually selected record is left untouched
// unless opts.Force is set.
func (e *Engine) Canonicalize(ctx context.Context, org contracts.OrgID, dataType contracts.DataType, entityKey string, date time.Time, opts Options) (*contracts.CanonicalRecord, error) {
	ranking, err := e.resolver.Resolve(ctx, org, dataType)
	if err != nil {
		return nil, err
	}
	return e.canonicalizeWithRanking(ctx, org, dataType, entityKey, date, ranking, opts)
}

// CanonicalizeDay runs a batch pass over every entity that has observations
// for the data type and date. The ranking is resolved once for the whole
// batch. Per-entity failures are logged and counted; the pass continues.
func (e *Engine) CanonicalizeDay(ctx context.Context, org contracts.OrgID, dataType contracts.DataType, date time.Time, opts Options) (Summary, error) {
	var summary Summary

	ranking, err := e.resolver.Resolve(ctx, org, dataType)
	if err != nil {
		return summary, err
	}

	keys, err := e.observations.ListEntityKeys(ctx, org, dataType, date)
	if err != nil {
		return summary, fmt.Errorf("list entity keys: %w", err)
	}

	for _, key := range keys {
		existing, err := e.canonical.Get(ctx, org, dataType, key, date)
		if err != nil {
			summary.Errors++
			e.log.WithError(err).WithFields(map[string]interface{}{
				"data_type":  string(dataType),
				"entity_key": key,
			}).Error("Load canonical record failed")
			continue
		}

		rec, err := e.canonicalizeWithRanking(ctx, org, dataType, key, date, ranking, opts)
		if err != nil {
			summary.Errors++
			e.log.WithError(err).WithFields(map[string]interface{}{
				"data_type":  string(dataType),
				"entity_key": key,
			}).Error("Canonicalize failed")
			continue
		}

		switch {
		case rec == nil:
			summary.Skipped++
		case existing == nil:
			summary.Created++
		case existing.ObservationID == rec.ObservationID:
			summary.Skipped++
		default:
			summary.Updated++
		}
	}

	e.log.WithFields(map[string]interface{}{
		"data_type": string(dataType),
		"date":      date.Format("2006-01-02"),
		"created":   summary.Created,
		"updated":   summary.Updated,
		"skipped":   summary.Skipped,
		"errors":    summary.Errors,
	}).Info("Canonicalization pass complete")

	return summary, nil
}

func (e *Engine) canonicalizeWithRanking(ctx context.Context, org contracts.OrgID, dataType contracts.DataType, entityKey string, date time.Time, ranking *Ranking, opts Options) (*contracts.CanonicalRecord, error) {
	existing, err := e.canonical.Get(ctx, org, dataType, entityKey, date)
	if err != nil {
		return nil, fmt.Errorf("load canonical record: %w", err)
	}
	if existing != nil && existing.SelectionReason == contracts.SelectionManualOverride && !opts.Force {
		return existing, nil
	}

	observations, err := e.observations.ListObservations(ctx, org, dataType, entityKey, date)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}

	winner, sourceCount, err := selectWinner(observations, ranking)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, nil
	}

	reason := contracts.SelectionAutoPolicy
	if sourceCount == 1 {
		reason = contracts.SelectionOnlyAvailable
	}

	rec := &contracts.CanonicalRecord{
		OrgID:                  org,
		DataType:               dataType,
		EntityKey:              entityKey,
		Date:                   date,
		Value:                  winner.Value,
		ChosenSource:           winner.SourceCode,
		ObservationID:          winner.ID,
		SelectionReason:        reason,
		SelectedAt:             e.now().UTC(),
		IsOfficialSource:       ranking.IsOfficial(winner.SourceCode),
		PublicationDateAssumed: publishedLater(winner),
	}

	if err := e.canonical.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("upsert canonical record: %w", err)
	}

	return rec, nil
}

// selectWinner orders eligible observations by effective priority ascending,
// then revision descending, then observed time descending, and returns the
// first. Observations from inactive or unranked sources are ignored. Two
// observations from the same source with the same revision violate the
// immutable-revision rule and abort the selection.
func selectWinner(observations []contracts.Observation, ranking *Ranking) (*contracts.Observation, int, error) {
	eligible := make([]contracts.Observation, 0, len(observations))
	seen := make(map[string]bool, len(observations))
	sources := make(map[string]bool, len(observations))

	for _, obs := range observations {
		if _, ok := ranking.Priority(obs.SourceCode); !ok {
			continue
		}
		revKey := fmt.Sprintf("%s#%d", obs.SourceCode, obs.Revision)
		if seen[revKey] {
			return nil, 0, &contracts.InvariantViolation{
				Msg: fmt.Sprintf("duplicate revision %d from source %s for %s", obs.Revision, obs.SourceCode, obs.EntityKey),
			}
		}
		seen[revKey] = true
		sources[obs.SourceCode] = true
		eligible = append(eligible, obs)
	}

	if len(eligible) == 0 {
		return nil, 0, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi, _ := ranking.Priority(eligible[i].SourceCode)
		pj, _ := ranking.Priority(eligible[j].SourceCode)
		if pi != pj {
			return pi < pj
		}
		if eligible[i].Revision != eligible[j].Revision {
			return eligible[i].Revision > eligible[j].Revision
		}
		return eligible[i].ObservedAt.After(eligible[j].ObservedAt)
	})

	return &eligible[0], len(sources), nil
}

// publishedLater reports whether the observation was recorded after the
// calendar day it describes. The canonical record then carries the value on
// the assumption that it applies to the stated date.
func publishedLater(obs *contracts.Observation) bool {
	obsDay := obs.ObservedAt.UTC().Truncate(24 * time.Hour)
	valueDay := obs.Date.UTC().Truncate(24 * time.Hour)
	return obsDay.After(valueDay)
}
