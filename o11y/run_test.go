package o11y

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	mt "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tc "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type testScope struct {
	*Scope
	spans  *tracetest.SpanRecorder
	reader *mt.ManualReader
	logs   *bytes.Buffer
}

func newTestScope(t *testing.T, name string) testScope {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := tc.NewTracerProvider(tc.WithSpanProcessor(sr))
	reader := mt.NewManualReader()
	mp := mt.NewMeterProvider(mt.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	return testScope{Scope: NewScope(name, tp, mp, logger), spans: sr, reader: reader, logs: &buf}
}

// collect returns the metrics of the scope indexed by name.
func (s testScope) collect(t *testing.T) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, s.reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRun_Success(t *testing.T) {
	s := newTestScope(t, "contacts.test")

	err := s.Run(context.Background(), "Test.Success", func(ctx context.Context, st State) error {
		st.Log.Info().Msg("Running inside success")
		st.SetAttributes(attribute.String("test.attr", "value"))
		st.AddEvent("test_event")
		st.IncCounter("test.counter") // not registered: skipped without panicking
		return nil
	})
	require.NoError(t, err)

	spans := s.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Test.Success", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("test.attr", "value"))
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "test_event", spans[0].Events()[0].Name)

	metrics := s.collect(t)
	hist, ok := metrics[MetricOperationDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	op, _ := hist.DataPoints[0].Attributes.Value("operation")
	assert.Equal(t, "Test.Success", op.AsString())
	assert.NotContains(t, metrics, MetricOperationErrors)

	assert.Contains(t, s.logs.String(), `"category":"contacts.test"`)
	assert.Contains(t, s.logs.String(), `"trace_id":"`+spans[0].SpanContext().TraceID().String()+`"`)
}

func TestRun_ErrorIsRecordedAndPropagated(t *testing.T) {
	s := newTestScope(t, "contacts.test")
	require.NoError(t, s.Metrics.RegisterInt64Counter("test.success", "", "1"))

	expectedErr := fmt.Errorf("lookup: %w", errors.New("contact 7 not found"))

	err := s.Run(context.Background(), "Test.Error", func(ctx context.Context, st State) error {
		if err := expectedErr; err != nil {
			return err
		}
		st.IncCounter("test.success")
		return nil
	})

	// 错误必须原样返回
	assert.Same(t, expectedErr, err)

	spans := s.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, expectedErr.Error(), spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)

	metrics := s.collect(t)
	assert.Equal(t, int64(1), sumValue(t, metrics[MetricOperationErrors]))
	assert.NotContains(t, metrics, "test.success", "a failed operation must not count as a success")
	assert.Zero(t, s.Metrics.GetMetricValue("test.success"))
	assert.Equal(t, int64(1), s.Metrics.GetMetricValue(MetricOperationErrors))
}

func TestRun_PanicIsRecordedAndRepanicked(t *testing.T) {
	s := newTestScope(t, "contacts.test")

	assert.PanicsWithValue(t, "oops", func() {
		_ = s.Run(context.Background(), "Test.Panic", func(ctx context.Context, st State) error {
			panic("oops")
		})
	})

	spans := s.spans.Ended()
	require.Len(t, spans, 1, "the span is ended even when the operation panics")
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "panic occurred", spans[0].Status().Description)

	assert.Contains(t, s.logs.String(), `"level":"panic"`)
	assert.Contains(t, s.logs.String(), "Panic during operation: oops")
	assert.Equal(t, int64(1), s.Metrics.GetMetricValue(MetricOperationErrors))
}

func TestRun_NestedOperations(t *testing.T) {
	s := newTestScope(t, "contacts.test")

	var inner []string
	err := s.Run(context.Background(), "Outer", func(ctx context.Context, st State) error {
		return s.Run(ctx, "Inner", func(ctx context.Context, st State) error {
			inner = ScopeValues(ctx)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Outer", "Inner"}, inner)

	spans := s.spans.Ended()
	require.Len(t, spans, 2)
	innerSpan, outerSpan := spans[0], spans[1]
	assert.Equal(t, outerSpan.SpanContext().SpanID(), innerSpan.Parent().SpanID())
	assert.Equal(t, outerSpan.SpanContext().TraceID(), innerSpan.SpanContext().TraceID())
}

func TestState_Baggage(t *testing.T) {
	s := newTestScope(t, "contacts.test")

	_ = s.Run(context.Background(), "test_baggage", func(ctx context.Context, st State) error {
		newCtx := st.SetBaggage(ctx, "tenant_id", "1001")

		b := baggage.FromContext(newCtx)
		assert.Equal(t, "1001", b.Member("tenant_id").Value())

		// Verify original context is unchanged (baggage is immutable)
		assert.Empty(t, baggage.FromContext(ctx).Member("tenant_id").Value())
		return nil
	})
}
