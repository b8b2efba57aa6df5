package o11y

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Scope is a long-lived instrumentation registry: one tracer, one meter, one category
// logger and the instruments created for them. Components build their Scope once
// (usually in their constructor) and keep it for the life of the process.
type Scope struct {
	name string
	tp   trace.TracerProvider
	mp   metric.MeterProvider

	Tracer  trace.Tracer
	Meter   metric.Meter
	Logger  zerolog.Logger
	Metrics *MetricRegistry
}

// NewScope creates the instrumentation registry named name.
// The logger is tagged with the scope name as its category, which becomes the
// instrumentation scope of every log record it emits.
func NewScope(name string, tp trace.TracerProvider, mp metric.MeterProvider, logger zerolog.Logger) *Scope {
	l := logger.With().Str(FieldCategory, name).Logger()
	meter := mp.Meter(name)

	s := &Scope{
		name:    name,
		tp:      tp,
		mp:      mp,
		Tracer:  tp.Tracer(name),
		Meter:   meter,
		Logger:  l,
		Metrics: NewMetricRegistry(meter, l),
	}

	if err := s.Metrics.RegisterFloat64Histogram(MetricOperationDuration, "Measures the duration of an instrumented operation.", "s"); err != nil {
		l.Error().Err(err).Msg("Failed to register operation duration histogram")
	}
	if err := s.Metrics.RegisterInt64Counter(MetricOperationErrors, "Counts the operations that returned an error.", "{error}"); err != nil {
		l.Error().Err(err).Msg("Failed to register operation error counter")
	}
	return s
}

// Name returns the instrumentation scope name.
func (s *Scope) Name() string { return s.name }

// TracerProvider returns the provider the scope's tracer comes from.
func (s *Scope) TracerProvider() trace.TracerProvider { return s.tp }

// MeterProvider returns the provider the scope's meter comes from.
func (s *Scope) MeterProvider() metric.MeterProvider { return s.mp }

type scopeValuesKey struct{}

// ScopeValues returns the names of the Run operations enclosing ctx, outermost first.
func ScopeValues(ctx context.Context) []string {
	v, _ := ctx.Value(scopeValuesKey{}).([]string)
	return v
}

func withScopeValue(ctx context.Context, name string) (context.Context, []string) {
	parent := ScopeValues(ctx)
	values := make([]string, len(parent), len(parent)+1)
	copy(values, parent)
	values = append(values, name)
	return context.WithValue(ctx, scopeValuesKey{}, values), values
}
