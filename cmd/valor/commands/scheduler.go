package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/internal/scheduler"
	"github.com/ekwalla/valor/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the background scheduler",
	Long: `Starts the scheduler daemon with the registered jobs.

Registered jobs:
- daily_close: weekdays at 18:30 (configurable via SCHEDULER_DAILY_CLOSE)

The scheduler retries failed jobs up to 3 times. Stop with Ctrl+C.

Example:
  go run ./cmd/valor scheduler start
  go run ./cmd/valor scheduler run daily_close`,
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon",
	RunE:  runSchedulerStart,
}

var schedulerRunCmd = &cobra.Command{
	Use:   "run [job_name]",
	Short: "Trigger a job immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulerJob,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd, schedulerRunCmd)
}

func buildScheduler(application *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(application.log)

	dailyCloseJob := jobs.NewDailyCloseJob(application.dailyClose, contracts.OrgID(orgID), application.cfg, application.log)
	if err := sched.AddJob(dailyCloseJob); err != nil {
		return nil, fmt.Errorf("register daily close job: %w", err)
	}

	return sched, nil
}

func runSchedulerStart(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	if !application.cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled (SCHEDULER_ENABLED=false)")
	}

	sched, err := buildScheduler(application)
	if err != nil {
		return err
	}

	sched.Start()
	fmt.Println("Scheduler running. Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sched.Stop()
	return nil
}

func runSchedulerJob(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	sched, err := buildScheduler(application)
	if err != nil {
		return err
	}

	if err := sched.RunJob(args[0]); err != nil {
		return err
	}

	fmt.Printf("Job %s triggered\n", args[0])

	// Block so the detached job can finish; the scheduler logs the outcome.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	return nil
}
