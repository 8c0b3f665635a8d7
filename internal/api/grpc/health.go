// Package grpc serves the gRPC health endpoint. Its status follows database
// reachability so orchestrators can probe the service without HTTP.
package grpc

import (
	"context"
	"sync"
	"time"

	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"material-exchange-backend/internal/api/grpc/interceptor"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/security"
)

// ServiceName is the health service key reported alongside the overall status.
const ServiceName = "material-exchange"

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 3 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthMonitor mirrors database reachability into a grpc health server.
type HealthMonitor struct {
	health   *health.Server
	db       Pinger
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

func NewHealthMonitor(db Pinger, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &HealthMonitor{
		health:   health.NewServer(),
		db:       db,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Check probes the database once and publishes the result.
func (m *HealthMonitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := m.db.Ping(ctx); err != nil {
		logger.Warn("Database health probe failed", "error", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.health.SetServingStatus("", st)
	m.health.SetServingStatus(ServiceName, st)
	return st
}

// Start probes in the background until Stop is called.
func (m *HealthMonitor) Start() {
	m.startOnce.Do(func() {
		m.started = true
		go m.run()
	})
}

func (m *HealthMonitor) run() {
	defer close(m.done)
	m.Check(context.Background())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(context.Background())
		case <-m.stop:
			return
		}
	}
}

// Stop ends probing and marks the service as shutting down.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.health.Shutdown()
	})
	m.startOnce.Do(func() {})
	if m.started {
		<-m.done
	}
}

// NewServer builds the gRPC server with health and reflection registered.
func NewServer(monitor *HealthMonitor, tokens security.TokenManager) *grpclib.Server {
	auth := interceptor.NewAuthInterceptor(tokens, WithActor)
	s := grpclib.NewServer(grpclib.UnaryInterceptor(auth.Unary()))
	healthpb.RegisterHealthServer(s, monitor.health)
	reflection.Register(s)
	return s
}
