package o11y

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TestUnaryServerInterceptor_Success verifies normal execution
func TestUnaryServerInterceptor_Success(t *testing.T) {
	s := newTestScope(t, "contactd.grpc")

	interceptor := unaryServerInterceptor(s.Scope)
	handler := func(ctx context.Context, req any) (any, error) {
		zerolog.Ctx(ctx).Info().Msg("inside handler")
		return "reply", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := interceptor(context.Background(), "req", info, handler)
	assert.NoError(t, err)
	assert.Equal(t, "reply", resp)
	assert.Contains(t, s.logs.String(), `"rpc_method":"/grpc.health.v1.Health/Check"`)
}

func TestUnaryServerInterceptor_ErrorIsReturned(t *testing.T) {
	s := newTestScope(t, "contactd.grpc")
	wantErr := status.Error(codes.NotFound, "unknown service")

	_, err := unaryServerInterceptor(s.Scope)(context.Background(), "req",
		&grpc.UnaryServerInfo{FullMethod: "/test/Method"},
		func(ctx context.Context, req any) (any, error) { return nil, wantErr })

	assert.Equal(t, wantErr, err)
	assert.Contains(t, s.logs.String(), "gRPC execution failed")
}

// TestUnaryServerInterceptor_Panic verifies panic is recovered and converted to error
func TestUnaryServerInterceptor_Panic(t *testing.T) {
	s := newTestScope(t, "contactd.grpc")
	registerStandardMetrics(s.Scope)

	ctx, span := s.Tracer.Start(context.Background(), "rpc")
	interceptor := unaryServerInterceptor(s.Scope)
	handler := func(ctx context.Context, req any) (any, error) {
		panic("unexpected crash")
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	resp, err := interceptor(ctx, "req", info, handler)
	span.End()

	assert.Nil(t, resp)
	require.Error(t, err)

	// Verify error code is Internal
	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())

	assert.Equal(t, int64(1), s.Metrics.GetMetricValue(MetricRPCPanics))
	ended := s.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, otelcodes.Error, ended[0].Status().Code)
	assert.Contains(t, s.logs.String(), "gRPC server panic recovered")
}

// TestStreamServerInterceptor_Panic verifies stream panic recovery
func TestStreamServerInterceptor_Panic(t *testing.T) {
	s := newTestScope(t, "contactd.grpc")
	registerStandardMetrics(s.Scope)

	interceptor := streamServerInterceptor(s.Scope)
	handler := func(srv any, stream grpc.ServerStream) error {
		panic("stream crash")
	}
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, handler)

	require.Error(t, err)
	st, ok := status.FromError(err)
	assert.True(t, ok)
	// Expect Internal error instead of process crash
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, int64(1), s.Metrics.GetMetricValue(MetricRPCPanics))
}

func TestStreamServerInterceptor_ContextCarriesLogger(t *testing.T) {
	s := newTestScope(t, "contactd.grpc")

	var streamCtx context.Context
	err := streamServerInterceptor(s.Scope)(nil, &mockServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/test/Stream"},
		func(srv any, stream grpc.ServerStream) error {
			streamCtx = stream.Context()
			return errors.New("closed")
		})

	assert.EqualError(t, err, "closed")
	zerolog.Ctx(streamCtx).Info().Msg("from stream")
	assert.Contains(t, s.logs.String(), `"rpc_method":"/test/Stream"`)
}

func TestGRPCServerOptions(t *testing.T) {
	s := newTestScope(t, "contactd.grpc")
	opts := GRPCServerOptions(s.Scope)
	assert.Len(t, opts, 3)
	assert.True(t, s.Metrics.Registered(MetricRPCPanics))

	srv := grpc.NewServer(opts...)
	srv.Stop()
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context {
	return m.ctx
}
