package agents

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the gRPC health service name reporting whether the pool can
// take calls.
const HealthService = "acd.AgentPool"

// HealthServer exposes the roster's online state over the standard gRPC
// health protocol.
type HealthServer struct {
	health *health.Server
	grpc   *grpc.Server
	log    *logrus.Entry
}

func NewHealthServer(log *logrus.Entry) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &HealthServer{health: hs, grpc: srv, log: log}
}

// Update is installed as the engine's agent status hook.
func (s *HealthServer) Update(online, available int) {
	status := healthpb.HealthCheckResponse_SERVING
	if online == 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(HealthService, status)
	s.log.WithFields(logrus.Fields{"online": online, "available": available}).Debug("agent pool status")
}

// Status returns the currently advertised serving status.
func (s *HealthServer) Status(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	res, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return res.GetStatus(), nil
}

// Serve listens on addr until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.log.Infof("agent health gRPC server listening on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}
