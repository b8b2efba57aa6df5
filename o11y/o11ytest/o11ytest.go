// Package o11ytest provides in-memory telemetry for tests of instrumented code.
package o11ytest

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	mt "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tc "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/oy3o/contactd/o11y"
)

// Harness records everything a Scope emits: ended spans, metric data and JSON logs.
type Harness struct {
	t *testing.T

	Spans  *tracetest.SpanRecorder
	Reader *mt.ManualReader

	tp *tc.TracerProvider
	mp *mt.MeterProvider

	mu   sync.Mutex
	logs bytes.Buffer
}

// New returns a Harness whose providers are shut down when the test ends.
func New(t *testing.T) *Harness {
	t.Helper()
	h := &Harness{
		t:      t,
		Spans:  tracetest.NewSpanRecorder(),
		Reader: mt.NewManualReader(),
	}
	h.tp = tc.NewTracerProvider(tc.WithSpanProcessor(h.Spans))
	h.mp = mt.NewMeterProvider(mt.WithReader(h.Reader))
	t.Cleanup(func() {
		_ = h.tp.Shutdown(context.Background())
		_ = h.mp.Shutdown(context.Background())
	})
	return h
}

// Scope creates a Scope named name backed by the harness.
func (h *Harness) Scope(name string) *o11y.Scope {
	logger := zerolog.New(h).Level(zerolog.DebugLevel)
	return o11y.NewScope(name, h.tp, h.mp, logger)
}

// Write implements io.Writer for the scope loggers.
func (h *Harness) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logs.Write(p)
}

// Logs returns everything logged so far.
func (h *Harness) Logs() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logs.String()
}

// Span returns the single ended span named name.
func (h *Harness) Span(name string) tc.ReadOnlySpan {
	h.t.Helper()
	var found []tc.ReadOnlySpan
	for _, s := range h.Spans.Ended() {
		if s.Name() == name {
			found = append(found, s)
		}
	}
	require.Len(h.t, found, 1, "ended spans named %q", name)
	return found[0]
}

// Attrs indexes the attributes of span by key.
func Attrs(span tc.ReadOnlySpan) map[string]attribute.Value {
	out := map[string]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

// Metrics collects the current metric data indexed by instrument name.
func (h *Harness) Metrics() map[string]metricdata.Metrics {
	h.t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(h.t, h.Reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// Counter returns the data points of the int64 counter name; nil when nothing was recorded.
func (h *Harness) Counter(name string) []metricdata.DataPoint[int64] {
	h.t.Helper()
	m, ok := h.Metrics()[name]
	if !ok {
		return nil
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(h.t, ok, "metric %s is not an int64 sum", name)
	return sum.DataPoints
}

// Histogram returns the data points of the float64 histogram name.
func (h *Harness) Histogram(name string) []metricdata.HistogramDataPoint[float64] {
	h.t.Helper()
	m, ok := h.Metrics()[name]
	if !ok {
		return nil
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(h.t, ok, "metric %s is not a float64 histogram", name)
	return hist.DataPoints
}
