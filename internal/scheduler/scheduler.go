package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"material-exchange-backend/internal/jobs"
	"material-exchange-backend/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a new scheduler with the provided job runner
func NewScheduler(jobRunner *jobs.JobRunner) *Scheduler {
	// UTC with seconds precision
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	s.registerJobs()
	return s
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() {
	cfg := s.jobs.Config().Scheduler

	register := func(name, spec string, fn func()) {
		if _, err := s.cron.AddFunc(spec, fn); err != nil {
			logger.Error("Failed to register job", "job", name, "spec", spec, "error", err)
			return
		}
		logger.Debug("Registered job", "job", name, "spec", spec)
	}

	register("AutoCompleteOrders", cfg.AutoCompleteOrders, s.jobs.AutoCompleteOrders)
	register("ExpireOffers", cfg.ExpireOffers, s.jobs.ExpireOffers)
	register("FlagOverdueRentals", cfg.FlagOverdueRentals, s.jobs.FlagOverdueRentals)

	logger.Info("Cron jobs registered", "count", len(s.cron.Entries()))
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop gracefully stops the cron scheduler
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// JobCount returns the number of registered jobs
func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}
