package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/pkg/logger"
	"github.com/ekwalla/valor/pkg/redis"
)

// MarketDataReader provides canonical market data to the valuation engine.
// Only canonical records are visible here; raw observations never reach
// valuation.
type MarketDataReader interface {
	// Price returns the canonical price record for the instrument, or nil
	// when none exists.
	Price(ctx context.Context, org contracts.OrgID, instrumentID string, date time.Time) (*contracts.CanonicalRecord, error)
	// FXRate returns the rate converting one unit of from-currency into
	// to-currency, with the source that published it. Returns (zero, "",
	// false) when neither direction has a canonical record.
	FXRate(ctx context.Context, org contracts.OrgID, from, to string, date time.Time) (decimal.Decimal, string, bool, error)
}

// CanonicalReader reads canonical records with a redis read-through cache.
// Canonical records for a closed date are effectively immutable, so a short
// TTL is only a hedge against forced re-canonicalization.
type CanonicalReader struct {
	store contracts.CanonicalStore
	cache *redis.Cache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCanonicalReader(store contracts.CanonicalStore, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *CanonicalReader {
	return &CanonicalReader{store: store, cache: cache, ttl: ttl, log: log}
}

func (r *CanonicalReader) Price(ctx context.Context, org contracts.OrgID, instrumentID string, date time.Time) (*contracts.CanonicalRecord, error) {
	key := redis.CanonicalPriceKey(int64(org), instrumentID, date.Format("2006-01-02"))

	var cached contracts.CanonicalRecord
	if hit, err := r.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	rec, err := r.store.Get(ctx, org, contracts.DataTypePrice, instrumentID, date)
	if err != nil {
		return nil, &contracts.DependencyFailure{Op: "canonical price read", Err: err}
	}
	if rec == nil {
		return nil, nil
	}

	if err := r.cache.Set(ctx, key, rec, r.ttl); err != nil {
		r.log.WithError(err).Warn("Canonical price cache write failed")
	}

	return rec, nil
}

func (r *CanonicalReader) FXRate(ctx context.Context, org contracts.OrgID, from, to string, date time.Time) (decimal.Decimal, string, bool, error) {
	if from == to {
		return decimal.NewFromInt(1), "", true, nil
	}

	direct, err := r.fxRecord(ctx, org, from+"/"+to, date)
	if err != nil {
		return decimal.Zero, "", false, err
	}
	if direct != nil {
		return direct.Value, direct.ChosenSource, true, nil
	}

	// No direct quote; invert the opposite pair.
	inverse, err := r.fxRecord(ctx, org, to+"/"+from, date)
	if err != nil {
		return decimal.Zero, "", false, err
	}
	if inverse != nil {
		if inverse.Value.IsZero() {
			return decimal.Zero, "", false, &contracts.InvariantViolation{
				Msg: fmt.Sprintf("canonical fx rate %s/%s is zero, cannot invert", to, from),
			}
		}
		return decimal.NewFromInt(1).DivRound(inverse.Value, 12), inverse.ChosenSource, true, nil
	}

	return decimal.Zero, "", false, nil
}

func (r *CanonicalReader) fxRecord(ctx context.Context, org contracts.OrgID, pair string, date time.Time) (*contracts.CanonicalRecord, error) {
	key := redis.CanonicalFXKey(int64(org), pair, date.Format("2006-01-02"))

	var cached contracts.CanonicalRecord
	if hit, err := r.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	rec, err := r.store.Get(ctx, org, contracts.DataTypeFXRate, pair, date)
	if err != nil {
		return nil, &contracts.DependencyFailure{Op: "canonical fx read", Err: err}
	}
	if rec == nil {
		return nil, nil
	}

	if err := r.cache.Set(ctx, key, rec, r.ttl); err != nil {
		r.log.WithError(err).Warn("Canonical fx cache write failed")
	}

	return rec, nil
}
