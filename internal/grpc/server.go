package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name orchestrators probe besides "".
const ServiceName = "store.v1.Store"

// Server wraps the gRPC server exposing the standard health service. Health
// follows the database: the service is not serving while it cannot reach it.
type Server struct {
	*grpc.Server
	health *health.Server
	ping   func(ctx context.Context) error
	log    *zap.Logger
}

func NewServer(ping func(ctx context.Context) error, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gs := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{Server: gs, health: hs, ping: ping, log: log.Named("grpc")}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Watch re-checks the database every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) check(ctx context.Context) {
	if s.ping == nil {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ping(pingCtx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown marks the service as not serving and stops accepting calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}
