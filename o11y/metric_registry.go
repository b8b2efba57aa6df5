package o11y

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Standard metric names registered by the root scope of a Provider.
// {Namespace}.{Subsystem}.{Target}.{Suffix}
const (
	MetricHTTPActiveRequests = "http.server.active_requests"
	MetricHTTPPanics         = "http.server.panic.total"
	MetricRPCPanics          = "rpc.server.panic.total"

	// Registered by every Scope and recorded by Scope.Run.
	MetricOperationDuration = "operation.duration"
	MetricOperationErrors   = "operation.errors"
)

// MetricInstrument holds a generic OpenTelemetry instrument.
// Using a struct allows us to store different instrument types
// under a single map entry, providing type safety when we retrieve them.
type MetricInstrument struct {
	Int64Counter       metric.Int64Counter
	Float64Histogram   metric.Float64Histogram
	Int64UpDownCounter metric.Int64UpDownCounter
}

// MetricRegistry owns the instruments of one Scope. Instruments are created once and
// looked up by name on every recording.
//
// The instrument map is copy-on-write behind an atomic.Value: lookups never lock, and
// registrations (rare, mostly at construction) serialize on a mutex.
type MetricRegistry struct {
	meter  metric.Meter
	logger zerolog.Logger

	instruments atomic.Value // map[string]MetricInstrument
	mu          sync.Mutex

	// localValues mirrors counter totals for in-process querying.
	localValues *xsync.Map[string, *atomic.Int64]
}

// NewMetricRegistry returns an empty registry creating its instruments with meter.
func NewMetricRegistry(meter metric.Meter, logger zerolog.Logger) *MetricRegistry {
	r := &MetricRegistry{
		meter:       meter,
		logger:      logger,
		localValues: xsync.NewMap[string, *atomic.Int64](),
	}
	r.instruments.Store(map[string]MetricInstrument{})
	return r
}

// RegisterInt64Counter creates and registers a new Int64Counter.
// Registering an existing name keeps the first instrument.
func (r *MetricRegistry) RegisterInt64Counter(name, description, unit string) error {
	return r.register(name, func() (MetricInstrument, error) {
		inst, err := r.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
		return MetricInstrument{Int64Counter: inst}, err
	})
}

// RegisterFloat64Histogram creates and registers a new Float64Histogram.
func (r *MetricRegistry) RegisterFloat64Histogram(name, description, unit string) error {
	return r.register(name, func() (MetricInstrument, error) {
		inst, err := r.meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit(unit))
		return MetricInstrument{Float64Histogram: inst}, err
	})
}

// RegisterInt64UpDownCounter creates and registers a new Int64UpDownCounter.
func (r *MetricRegistry) RegisterInt64UpDownCounter(name, description, unit string) error {
	return r.register(name, func() (MetricInstrument, error) {
		inst, err := r.meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
		return MetricInstrument{Int64UpDownCounter: inst}, err
	})
}

func (r *MetricRegistry) register(name string, create func() (MetricInstrument, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.instrumentMap()
	if _, exists := old[name]; exists {
		r.logger.Debug().Str("metric", name).Msg("Metric already registered, keeping existing instrument")
		return nil
	}

	inst, err := create()
	if err != nil {
		return fmt.Errorf("failed to create metric %q: %w", name, err)
	}

	next := make(map[string]MetricInstrument, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = inst
	r.instruments.Store(next)
	return nil
}

func (r *MetricRegistry) instrumentMap() map[string]MetricInstrument {
	return r.instruments.Load().(map[string]MetricInstrument)
}

func (r *MetricRegistry) lookup(name string) (MetricInstrument, bool) {
	inst, ok := r.instrumentMap()[name]
	if !ok {
		r.logger.Debug().Str("metric_name", name).Msg("Metric not registered, skipping record")
	}
	return inst, ok
}

// AddToInt64Counter adds value to a registered counter. Counters only grow:
// negative values are dropped.
func (r *MetricRegistry) AddToInt64Counter(ctx context.Context, name string, value int64, attributes ...attribute.KeyValue) {
	if value < 0 {
		r.logger.Warn().Str("metric_name", name).Int64("value", value).Msg("Counter cannot be decremented, skipping record")
		return
	}
	inst, ok := r.lookup(name)
	if !ok {
		return
	}
	if inst.Int64Counter == nil {
		r.logger.Warn().Str("metric_name", name).Msg("Metric type mismatch: expected Int64Counter")
		return
	}

	inst.Int64Counter.Add(ctx, value, metric.WithAttributes(attributes...))
	r.addLocal(name, value)
}

// AddToInt64UpDownCounter adds value (which may be negative) to a registered up-down counter.
func (r *MetricRegistry) AddToInt64UpDownCounter(ctx context.Context, name string, value int64, attributes ...attribute.KeyValue) {
	inst, ok := r.lookup(name)
	if !ok {
		return
	}
	if inst.Int64UpDownCounter == nil {
		r.logger.Warn().Str("metric_name", name).Msg("Metric type mismatch: expected Int64UpDownCounter")
		return
	}

	inst.Int64UpDownCounter.Add(ctx, value, metric.WithAttributes(attributes...))
	r.addLocal(name, value)
}

// RecordInFloat64Histogram records a value in a registered histogram.
func (r *MetricRegistry) RecordInFloat64Histogram(ctx context.Context, name string, value float64, attributes ...attribute.KeyValue) {
	inst, ok := r.lookup(name)
	if !ok {
		return
	}
	if inst.Float64Histogram == nil {
		r.logger.Warn().Str("metric_name", name).Msg("Metric type mismatch: expected Float64Histogram")
		return
	}

	inst.Float64Histogram.Record(ctx, value, metric.WithAttributes(attributes...))
}

func (r *MetricRegistry) addLocal(name string, value int64) {
	val, _ := r.localValues.LoadOrStore(name, &atomic.Int64{})
	val.Add(value)
}

// GetMetricValue returns the in-process total of a counter or up-down counter.
// This is useful for internal dashboards/APIs that need to display current stats.
func (r *MetricRegistry) GetMetricValue(name string) int64 {
	val, ok := r.localValues.Load(name)
	if !ok {
		return 0
	}
	return val.Load()
}

// Registered reports whether name has an instrument.
func (r *MetricRegistry) Registered(name string) bool {
	_, ok := r.instrumentMap()[name]
	return ok
}
