package o11y

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricRegistry_DynamicRegistration(t *testing.T) {
	s := newTestScope(t, "registry")
	name := "dynamic_counter"

	// 1. Register a new metric
	require.NoError(t, s.Metrics.RegisterInt64Counter(name, "desc", "1"))

	// 2. Record value (should succeed)
	s.Metrics.AddToInt64Counter(context.Background(), name, 10)

	// 3. Re-registering the same metric keeps the existing instrument
	require.NoError(t, s.Metrics.RegisterInt64Counter(name, "desc", "1"))
	s.Metrics.AddToInt64Counter(context.Background(), name, 5)

	assert.Equal(t, int64(15), s.Metrics.GetMetricValue(name))
	assert.Equal(t, int64(15), sumValue(t, s.collect(t)[name]))
}

func TestMetricRegistry_MissingMetric(t *testing.T) {
	s := newTestScope(t, "registry")

	// Recording to a non-existent metric should not panic (it just logs debug)
	assert.NotPanics(t, func() {
		s.Metrics.AddToInt64Counter(context.Background(), "non_existent_metric", 1)
		s.Metrics.RecordInFloat64Histogram(context.Background(), "non_existent_histogram", 123.45)
	})
	assert.Zero(t, s.Metrics.GetMetricValue("non_existent_metric"))
}

func TestMetricRegistry_TypeMismatch(t *testing.T) {
	s := newTestScope(t, "registry")
	name := "mismatch_test"
	require.NoError(t, s.Metrics.RegisterInt64Counter(name, "desc", "1"))

	// Try to record as Histogram (should fail safely)
	assert.NotPanics(t, func() {
		s.Metrics.RecordInFloat64Histogram(context.Background(), name, 10.5)
	})
	assert.Contains(t, s.logs.String(), "Metric type mismatch")
}

func TestMetricRegistry_CountersNeverDecrease(t *testing.T) {
	s := newTestScope(t, "registry")
	require.NoError(t, s.Metrics.RegisterInt64Counter("contacts.created", "", "{contact}"))
	require.NoError(t, s.Metrics.RegisterInt64UpDownCounter("in_flight", "", "{request}"))

	s.Metrics.AddToInt64Counter(context.Background(), "contacts.created", 3)
	s.Metrics.AddToInt64Counter(context.Background(), "contacts.created", -2)
	assert.Equal(t, int64(3), s.Metrics.GetMetricValue("contacts.created"))

	s.Metrics.AddToInt64UpDownCounter(context.Background(), "in_flight", 2)
	s.Metrics.AddToInt64UpDownCounter(context.Background(), "in_flight", -1)
	assert.Equal(t, int64(1), s.Metrics.GetMetricValue("in_flight"))
}

func TestMetricRegistry_ConcurrentRecording(t *testing.T) {
	s := newTestScope(t, "registry")
	require.NoError(t, s.Metrics.RegisterInt64Counter("contacts.searches", "", "{search}"))

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Metrics.AddToInt64Counter(context.Background(), "contacts.searches", 1, attribute.Int("result.count", i%3))
			}
		}()
		// Registrations may race with recordings.
		go func() {
			defer wg.Done()
			_ = s.Metrics.RegisterInt64Counter("late.metric", "", "1")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), s.Metrics.GetMetricValue("contacts.searches"))
	sum := s.collect(t)["contacts.searches"].Data.(metricdata.Sum[int64])
	assert.Len(t, sum.DataPoints, 3, "one data point per result.count attribute")
}
