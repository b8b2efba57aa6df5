package o11y

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

// State is the primary interaction object provided within the Scope.Run closure.
// It encapsulates logging, tracing, and metric functionalities tied to the current operation,
// providing a simplified and consistent API for all observability needs.
type State struct {
	ctx context.Context

	// Log is a zerolog.Logger instance pre-configured with the correct trace_id and span_id.
	// Developers should use this for all logging within the Run block to ensure
	// logs are automatically correlated with traces.
	Log zerolog.Logger

	// span is the active OpenTelemetry trace span for the current Run block.
	// It is kept private to encourage interaction via the simplified helper methods.
	span trace.Span

	metrics *MetricRegistry
}

// SetAttributes adds key-value attributes to the current trace span.
// This is equivalent to adding a "tag" or "label" to the span, which is invaluable
// for filtering, searching, and analyzing traces in backends like Jaeger or Tempo.
//
// Example:
//
//	s.SetAttributes(attribute.String("contact.id", id), attribute.Int("result.count", n))
func (s State) SetAttributes(attributes ...attribute.KeyValue) {
	s.span.SetAttributes(attributes...)
}

// SetBaggage adds a key-value pair to the OpenTelemetry Baggage.
// Baggage is used to propagate context across process boundaries (e.g., to downstream services).
//
// IMPORTANT: Unlike SetAttributes, Baggage is stored in the Context.
// This method returns a NEW Context containing the updated Baggage.
// You MUST use the returned Context for subsequent calls (like HTTP requests)
// if you want the baggage to propagate.
//
// Example:
//
//	ctx = s.SetBaggage(ctx, "tenant_id", "1001")
//	http.NewRequestWithContext(ctx, ...)
func (s State) SetBaggage(ctx context.Context, key, value string) context.Context {
	m, err := baggage.NewMember(key, value)
	if err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("Failed to create baggage member")
		return ctx
	}

	b, err := baggage.FromContext(ctx).SetMember(m)
	if err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("Failed to set baggage member")
		return ctx
	}

	return baggage.ContextWithBaggage(ctx, b)
}

// AddEvent records a timestamped event on the current span's timeline.
func (s State) AddEvent(name string, attributes ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attributes...))
}

// Span returns the span of the current operation.
func (s State) Span() trace.Span { return s.span }

// IncCounter increments a registered counter by 1.
//
// Example:
//
//	s.IncCounter("contacts.created", attribute.Bool("has.company", true))
func (s State) IncCounter(name string, attributes ...attribute.KeyValue) {
	s.metrics.AddToInt64Counter(s.ctx, name, 1, attributes...)
}

// AddCounter adds n to a registered counter. Negative values are dropped.
func (s State) AddCounter(name string, n int64, attributes ...attribute.KeyValue) {
	s.metrics.AddToInt64Counter(s.ctx, name, n, attributes...)
}

// RecordHistogram records a value in a registered histogram.
// This is ideal for measuring the distribution of values, most commonly for timing and latency.
//
// Example:
//
//	start := time.Now()
//	// ... perform the search ...
//	s.RecordHistogram("contacts.search.duration", float64(time.Since(start).Milliseconds()))
func (s State) RecordHistogram(name string, value float64, attributes ...attribute.KeyValue) {
	s.metrics.RecordInFloat64Histogram(s.ctx, name, value, attributes...)
}
