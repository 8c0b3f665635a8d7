package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"material-exchange-backend/internal/config"
	"material-exchange-backend/internal/jobs"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository/postgres"
	"material-exchange-backend/internal/scheduler"
	"material-exchange-backend/internal/service"
)

func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run one job and exit (auto-complete-orders, expire-offers, flag-overdue-rentals, all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting marketplace job runner", "log_level", cfg.Log.Level)

	db, err := openDB(cfg)
	if err != nil {
		logger.Error("Database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// No websocket clients live in this process, so no publisher: clients pick
	// up scheduler transitions on their next read.
	deps := service.Deps{
		Store:    postgres.NewStore(db),
		Settings: service.SettingsFromConfig(cfg.Marketplace),
	}
	runner := jobs.NewJobRunner(&jobs.Services{
		Orders:  service.NewOrderService(deps),
		Offers:  service.NewOfferService(deps),
		RFQs:    service.NewRFQService(deps),
		Rentals: service.NewRentalService(deps),
	}, cfg)

	if *runOnce != "" {
		code := runNamed(runner, *runOnce)
		db.Close()
		os.Exit(code)
	}

	sched := scheduler.NewScheduler(runner)
	sched.Start()
	logger.Info("Job scheduler running", "jobs", sched.JobCount())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("Stopping job scheduler")
	sched.Stop()
	logger.Info("Job scheduler stopped")
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	logger.Info("Connecting to database", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	logger.Info("Database connection established")
	return db, nil
}

// runNamed runs a single job and returns the process exit code.
func runNamed(runner *jobs.JobRunner, name string) int {
	table := map[string]func(){
		"auto-complete-orders": runner.AutoCompleteOrders,
		"expire-offers":        runner.ExpireOffers,
		"flag-overdue-rentals": runner.FlagOverdueRentals,
		"all":                  runner.RunAll,
	}
	job, ok := table[name]
	if !ok {
		names := make([]string, 0, len(table))
		for n := range table {
			names = append(names, n)
		}
		slices.Sort(names)
		logger.Error("Unknown job name", "job", name, "available", names)
		return 2
	}
	logger.Info("Running job once", "job", name)
	job()
	logger.Info("Job finished", "job", name)
	return 0
}
