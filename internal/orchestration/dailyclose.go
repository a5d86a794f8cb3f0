package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ekwalla/valor/internal/canonical"
	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/internal/run"
	"github.com/ekwalla/valor/pkg/logger"
)

// DailyClose drives the end-of-day pipeline: canonicalize the day's market
// data, then create and execute one valuation run per portfolio with
// snapshots. Safe to re-run; portfolios whose run already exists are skipped.
type DailyClose struct {
	engine     *canonical.Engine
	manager    *run.Manager
	portfolios contracts.PortfolioStore
	policy     contracts.ValuationPolicy
	limiter    *rate.Limiter
	log        *logger.Logger
}

// Result summarizes one daily close pass.
type Result struct {
	Portfolios int
	Executed   int
	Skipped    int
	Failed     int
}

func NewDailyClose(engine *canonical.Engine, manager *run.Manager, portfolios contracts.PortfolioStore, policy contracts.ValuationPolicy, runsPerSecond float64, log *logger.Logger) *DailyClose {
	if runsPerSecond <= 0 {
		runsPerSecond = 1
	}
	return &DailyClose{
		engine:     engine,
		manager:    manager,
		portfolios: portfolios,
		policy:     policy,
		limiter:    rate.NewLimiter(rate.Limit(runsPerSecond), 1),
		log:        log,
	}
}

// Run executes the daily close for one organization and date.
func (d *DailyClose) Run(ctx context.Context, org contracts.OrgID, asOfDate time.Time) (*Result, error) {
	contextID := "daily-close-" + asOfDate.Format("2006-01-02")

	// FX first so prices valued in foreign currency convert in the same pass.
	for _, dataType := range []contracts.DataType{contracts.DataTypeFXRate, contracts.DataTypePrice} {
		summary, err := d.engine.CanonicalizeDay(ctx, org, dataType, asOfDate, canonical.Options{})
		if err != nil {
			return nil, fmt.Errorf("canonicalize %s: %w", dataType, err)
		}
		if summary.Errors > 0 {
			d.log.WithFields(map[string]interface{}{
				"data_type": string(dataType),
				"errors":    summary.Errors,
			}).Warn("Canonicalization pass had errors")
		}
	}

	portfolios, err := d.portfolios.ListWithSnapshots(ctx, org, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}

	result := &Result{Portfolios: len(portfolios)}
	for _, p := range portfolios {
		if err := d.limiter.Wait(ctx); err != nil {
			return result, err
		}

		created, err := d.manager.CreateRun(ctx, org, p.ID, asOfDate, d.policy, contextID, "daily-close")
		if err != nil {
			var dup *contracts.DuplicateRunError
			if errors.As(err, &dup) {
				result.Skipped++
				continue
			}
			result.Failed++
			d.log.WithError(err).WithField("portfolio_id", p.ID).Error("Create run failed")
			continue
		}

		if _, err := d.manager.Execute(ctx, org, created.ID); err != nil {
			result.Failed++
			d.log.WithError(err).WithFields(map[string]interface{}{
				"portfolio_id": p.ID,
				"run_id":       created.ID.String(),
			}).Error("Execute run failed")
			continue
		}

		result.Executed++
	}

	d.log.WithFields(map[string]interface{}{
		"as_of_date": asOfDate.Format("2006-01-02"),
		"portfolios": result.Portfolios,
		"executed":   result.Executed,
		"skipped":    result.Skipped,
		"failed":     result.Failed,
	}).Info("Daily close complete")

	return result, nil
}
