package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/internal/orchestration"
	"github.com/ekwalla/valor/pkg/config"
	"github.com/ekwalla/valor/pkg/logger"
)

// DailyCloseJob runs the daily close pipeline after market close.
type DailyCloseJob struct {
	close    *orchestration.DailyClose
	orgID    contracts.OrgID
	schedule string
	logger   *logger.Logger
}

func NewDailyCloseJob(close *orchestration.DailyClose, orgID contracts.OrgID, cfg *config.Config, log *logger.Logger) *DailyCloseJob {
	return &DailyCloseJob{
		close:    close,
		orgID:    orgID,
		schedule: cfg.Scheduler.DailyCloseSchedule,
		logger:   log,
	}
}

// Name returns the job name.
func (j *DailyCloseJob) Name() string {
	return "daily_close"
}

// Schedule returns the cron schedule from configuration.
func (j *DailyCloseJob) Schedule() string {
	return j.schedule
}

// Run executes the daily close for today's date.
func (j *DailyCloseJob) Run(ctx context.Context) error {
	asOfDate := time.Now().UTC().Truncate(24 * time.Hour)

	j.logger.WithField("as_of_date", asOfDate.Format("2006-01-02")).Info("Starting scheduled daily close")

	result, err := j.close.Run(ctx, j.orgID, asOfDate)
	if err != nil {
		return fmt.Errorf("daily close: %w", err)
	}
	if result.Failed > 0 {
		return fmt.Errorf("daily close finished with %d failed portfolios", result.Failed)
	}

	j.logger.WithFields(map[string]interface{}{
		"portfolios": result.Portfolios,
		"executed":   result.Executed,
		"skipped":    result.Skipped,
	}).Info("Scheduled daily close completed")

	return nil
}
