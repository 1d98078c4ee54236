package health

import (
	"context"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// IssuerService is the gRPC health service name reported for the issuer.
const IssuerService = "mentorcert.issuer"

type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	grpc *health.Server
}

func NewService(parent context.Context) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		ctx:    ctx,
		cancel: cancel,
	}
}

// GRPCServer returns the gRPC health server, creating it in SERVING state.
func (s *Service) GRPCServer() *health.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpc == nil {
		s.grpc = health.NewServer()
		s.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.grpc.SetServingStatus(IssuerService, healthpb.HealthCheckResponse_SERVING)
	}
	return s.grpc
}

func (s *Service) Shutdown() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpc != nil {
		s.grpc.Shutdown()
	}
}

func (s *Service) IsShuttingDown() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// Context returns the service context for use in operations
func (s *Service) Context() context.Context {
	return s.ctx
}
