package o11y

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Run wraps a block of business logic with a span named after the operation, a
// correlated logger and the operation duration and error metrics of the scope.
//
// The error returned by fn is returned unchanged. On error the span status is set to
// Error with the error message and the error counter is incremented; Run records no
// success metric of its own. A panic in fn is recorded on the span, logged and
// re-raised with its original value.
func (s *Scope) Run(
	ctx context.Context,
	name string, // e.g., "ContactService.Create", "TagService.Update"
	fn func(ctx context.Context, st State) error,
	opts ...trace.SpanStartOption,
) error {
	// 1. Prepare Observability Objects
	ctx, span := s.Tracer.Start(ctx, name, opts...)
	defer span.End()

	ctx, scopes := withScopeValue(ctx, name)

	lc := s.Logger.With().Str("operation", name).Strs(FieldScope, scopes)
	if sc := span.SpanContext(); sc.IsValid() {
		lc = lc.Str(FieldTraceID, sc.TraceID().String()).
			Str(FieldSpanID, sc.SpanID().String()).
			Str(FieldTraceFlags, sc.TraceFlags().String())
	}
	spanLogger := lc.Logger()

	// Inner calls that read the logger from the context use the enriched one.
	ctx = spanLogger.WithContext(ctx)

	st := State{
		ctx:     ctx,
		Log:     spanLogger,
		span:    span,
		metrics: s.Metrics,
	}

	operationAttr := attribute.String("operation", name)
	startTime := time.Now()
	defer func() {
		s.Metrics.RecordInFloat64Histogram(ctx, MetricOperationDuration, time.Since(startTime).Seconds(), operationAttr)
	}()

	// 2. Automatic Panic Handling
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic recovered in %s: %v", name, r)

			span.RecordError(err, trace.WithStackTrace(true))
			span.SetStatus(codes.Error, "panic occurred")
			s.Metrics.AddToInt64Counter(ctx, MetricOperationErrors, 1, operationAttr, attribute.Bool("panic", true))

			// WithLevel does not panic by itself; the hook still attaches the stack.
			st.Log.WithLevel(zerolog.PanicLevel).Msgf("Panic during operation: %v", r)
			panic(r)
		}
	}()

	// 3. Execute business logic
	err := fn(ctx, st)

	// 4. Result Handling
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Metrics.AddToInt64Counter(ctx, MetricOperationErrors, 1, operationAttr)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// GetLoggerFromContext is a helper function to safely retrieve a zerolog.Logger from a context.
// If no logger is found in the context, it returns the global default logger.
func GetLoggerFromContext(ctx context.Context) *zerolog.Logger {
	// zerolog.Ctx returns a disabled logger when the context carries none.
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &log.Logger
	}
	return l
}
