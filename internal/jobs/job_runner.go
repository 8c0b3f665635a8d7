package jobs

import (
	"context"
	"time"

	"material-exchange-backend/internal/config"
	"material-exchange-backend/internal/logger"
)

const (
	jobTimeout            = 5 * time.Minute
	autoCompleteBatchSize = 200
)

// OrderCompleter completes delivered orders whose confirmation window lapsed.
type OrderCompleter interface {
	AutoCompleteDue(ctx context.Context, limit int) (int, error)
}

// Expirer retires records whose expiry has passed.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// OverdueFlagger notifies parties of rentals past their end date.
type OverdueFlagger interface {
	FlagOverdue(ctx context.Context) (int, error)
}

// Services holds the service entry points the jobs drive. Jobs never touch
// the database directly so scheduled and manual transitions share one path.
type Services struct {
	Orders  OrderCompleter
	Offers  Expirer
	RFQs    Expirer
	Rentals OverdueFlagger
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	services *Services
	config   *config.Config
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(services *Services, cfg *config.Config) *JobRunner {
	return &JobRunner{
		services: services,
		config:   cfg,
	}
}

// Config exposes the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery and a deadline
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	logger.Info("Starting job", "job", jobName)
	start := time.Now()
	if err := jobFunc(ctx); err != nil {
		logger.Error("Job failed", "job", jobName, "error", err, "duration", time.Since(start))
		return
	}
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.AutoCompleteOrders()
	jr.ExpireOffers()
	jr.FlagOverdueRentals()
}
