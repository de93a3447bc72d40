// Package grpcapi serves gRPC health and reflection. The health status
// follows STT session connectivity.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voice-turn-ingress/internal/observability"
	"voice-turn-ingress/internal/observability/logging"
	"voice-turn-ingress/internal/observability/metrics"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "voice.turn.ingress.Transcription"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New creates a gRPC server with health, reflection and the logging/metrics
// interceptors. Both statuses start NOT_SERVING.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// grpcurl and similar tools
	reflection.Register(g)

	s := &Server{grpc: g, health: hs, logger: logging.WithComponent("grpc")}
	s.SetServing(false)
	return s
}

// SetServing flips the overall and service health status.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop. It blocks.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
	return s.grpc.Serve(lis)
}

// Stop marks the service not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
