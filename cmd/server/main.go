package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	grpcapi "material-exchange-backend/internal/api/grpc"
	httpapi "material-exchange-backend/internal/api/http"
	"material-exchange-backend/internal/config"
	"material-exchange-backend/internal/jobs"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/migrations"
	"material-exchange-backend/internal/realtime"
	"material-exchange-backend/internal/repository/postgres"
	"material-exchange-backend/internal/scheduler"
	"material-exchange-backend/internal/security"
	"material-exchange-backend/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	withScheduler := flag.Bool("scheduler", true, "Run the background jobs in this process so their events reach connected clients")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Material Exchange Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "http", cfg.GetHTTPAddress(), "grpc", cfg.GetGRPCAddress())
	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)

	// Initialize Database
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	if cfg.Database.MigrateOnBoot {
		if err := migrations.Up(db, cfg.Database.Database); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	store := postgres.NewStore(db)
	hub := realtime.NewHub()
	tokens := security.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenExpiry)*time.Minute)

	// Initialize Services
	deps := service.Deps{
		Store:     store,
		Publisher: hub,
		Settings:  service.SettingsFromConfig(cfg.Marketplace),
	}
	svcs := httpapi.Services{
		RFQs:         service.NewRFQService(deps),
		Offers:       service.NewOfferService(deps),
		Orders:       service.NewOrderService(deps),
		DirectOrders: service.NewDirectOrderService(deps),
		Rentals:      service.NewRentalService(deps),
	}

	// HTTP API and websocket endpoint
	ws := realtime.NewHandler(hub, tokens, service.NewGroupAccess(store), cfg.Server.AllowedOrigins)
	httpServer := &http.Server{
		Addr:              cfg.GetHTTPAddress(),
		Handler:           httpapi.NewRouter(svcs, tokens, store, ws),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// gRPC health endpoint
	monitor := grpcapi.NewHealthMonitor(store, 0)
	monitor.Start()
	grpcServer := grpcapi.NewServer(monitor, tokens)
	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", cfg.GetGRPCAddress())
		if err != nil {
			logger.Error("Failed to listen", "error", err, "address", cfg.GetGRPCAddress())
			log.Fatalf("Failed to listen: %v", err)
		}
		go func() {
			logger.Info("gRPC health server listening", "address", cfg.GetGRPCAddress())
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("Failed to serve gRPC", "error", err)
			}
		}()
	}

	var cronScheduler *scheduler.Scheduler
	if *withScheduler {
		runner := jobs.NewJobRunner(&jobs.Services{
			Orders:  svcs.Orders,
			Offers:  svcs.Offers,
			RFQs:    svcs.RFQs,
			Rentals: svcs.Rentals,
		}, cfg)
		cronScheduler = scheduler.NewScheduler(runner)
		cronScheduler.Start()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if cronScheduler != nil {
		cronScheduler.Stop()
	}
	monitor.Stop()
	grpcServer.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	logger.Info("Server stopped. Goodbye!")
}
