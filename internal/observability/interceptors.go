package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"voice-turn-ingress/internal/observability/metrics"
)

// UnaryServerInterceptor counts and logs unary RPCs.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeRPC(m, "unary", info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor counts and logs streaming RPCs once they complete.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeRPC(m, "stream", info.FullMethod, start, err)
		return err
	}
}

func observeRPC(m *metrics.Metrics, kind, method string, start time.Time, err error) {
	code := status.Code(err).String()
	m.RecordRPC(method, code)
	log.Debug().
		Str("rpc", kind).
		Str("method", method).
		Str("code", code).
		Dur("duration", time.Since(start)).
		Msg("gRPC call completed")
}
