package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oy3o/contactd/o11y"
	"github.com/oy3o/contactd/o11y/o11ytest"
)

func TestProbeHTTP(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health/ready", r.URL.Path)
		// The client propagates the probe's trace context.
		assert.NotEmpty(t, r.Header.Get("traceparent"))
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := o11ytest.New(t)
	s := h.Scope(probeScope)
	client := o11y.NewHTTPClient(s, nil)

	status, err := probeHTTP(context.Background(), s, client, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "200 OK", status)
	span := h.Span("HealthProbe.HTTP")
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Equal(t, int64(200), o11ytest.Attrs(span)["http.response.status_code"].AsInt64())

	ready.Store(false)
	h2 := o11ytest.New(t)
	s2 := h2.Scope(probeScope)
	_, err = probeHTTP(context.Background(), s2, o11y.NewHTTPClient(s2, nil), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, codes.Error, h2.Span("HealthProbe.HTTP").Status().Code)
}

func TestProbeGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	healthServer := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	h := o11ytest.New(t)
	s := h.Scope(probeScope)

	status, err := probeGRPC(context.Background(), s, lis.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "SERVING", status)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	status, err = probeGRPC(context.Background(), s, lis.Addr().String())
	require.Error(t, err)
	assert.Equal(t, "NOT_SERVING", status)
	assert.Contains(t, err.Error(), "service is NOT_SERVING")

	var names []string
	for _, span := range h.Spans.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "HealthProbe.GRPC")
	assert.Contains(t, names, "grpc.health.v1.Health/Check")
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", localAddr(":8080"))
	assert.Equal(t, "localhost:9090", localAddr("0.0.0.0:9090"))
	assert.Equal(t, "10.0.0.1:8080", localAddr("10.0.0.1:8080"))
	assert.Equal(t, "not-an-addr", localAddr("not-an-addr"))
}
