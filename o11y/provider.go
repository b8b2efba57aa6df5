package o11y

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	otellog "go.opentelemetry.io/otel/log"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// ShutdownFunc is a function signature for gracefully shutting down an observability component.
type ShutdownFunc func(ctx context.Context) error

// Provider owns the three telemetry pipelines of the process and hands out Scopes.
// It is the only place where tracer, meter and logger providers are created.
type Provider struct {
	// Logger is the application logger. Its events reach every enabled log sink.
	Logger zerolog.Logger

	cfg            Config
	resource       *resource.Resource
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	loggerProvider otellog.LoggerProvider

	root   *Scope
	scopes *xsync.Map[string, *Scope]

	flushFuncs   []ShutdownFunc
	shutdownFunc ShutdownFunc
}

// New builds the pipelines described by cfg.
//
// Defaults are applied first. A configuration error (such as an OTLP endpoint that is not
// an absolute http(s) URI) is returned before any provider is created. When cfg.Enabled
// is false, the Provider is backed by no-op providers and nothing is exported.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	return newProvider(ctx, cfg, defaultSinks())
}

func newProvider(ctx context.Context, cfg Config, sinks sinkFactory) (*Provider, error) {
	// 1. Defaults and validation
	cfg.ApplyDefaults()

	if !cfg.Enabled {
		return newNoopProvider(cfg), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 2. Resource
	res, err := NewResource(cfg)
	if err != nil {
		return nil, err
	}

	// 3. Components Initialization
	// Every step rolls back the previous ones when it fails.

	// 3.1 Logging
	logger, lp, logShutdown, err := setupLogging(ctx, cfg, res, sinks)
	if err != nil {
		return nil, err
	}
	log := logger.With().
		Timestamp().
		Str("service", cfg.Service).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Logger().
		Hook(PanicHook(cfg.Log.StackFilters))

	// SDK errors go to stderr, never back into the pipelines that produced them.
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		diagnostics.Warn().Err(err).Msg("OpenTelemetry SDK error")
	}))

	// 3.2 Tracing
	tp, traceShutdown, err := setupTracing(ctx, cfg, res, sinks)
	if err != nil {
		_ = logShutdown(context.Background())
		return nil, err
	}
	policy := ResolveSampling(cfg.Sampling)
	log.Info().
		Str("sampler", policy.Kind.String()).
		Float64("ratio", policy.Ratio).
		Msg("Tracing initialized.")

	// 3.3 Metrics
	mp, metricShutdown, err := setupMetrics(ctx, cfg, res, sinks)
	if err != nil {
		_ = traceShutdown(context.Background())
		_ = logShutdown(context.Background())
		return nil, err
	}
	log.Info().Msg("Metrics initialized.")

	p := &Provider{
		Logger:         log,
		cfg:            cfg,
		resource:       res,
		tracerProvider: tp,
		meterProvider:  mp,
		loggerProvider: lp,
		scopes:         xsync.NewMap[string, *Scope](),
		flushFuncs:     []ShutdownFunc{tp.ForceFlush, mp.ForceFlush, lp.ForceFlush},
	}
	p.root = p.Scope(cfg.InstrumentationScope)
	registerStandardMetrics(p.root)

	if cfg.Metric.Enabled {
		if cfg.Metric.EnableRuntimeMetrics {
			if err := StartRuntimeMetrics(mp, log); err != nil {
				log.Warn().Err(err).Msg("Could not start runtime metrics collection, but continuing initialization.")
			}
		}
		if cfg.Metric.EnableHostMetrics {
			if err := StartHostMetrics(mp, log); err != nil {
				log.Warn().Err(err).Msg("Could not start host metrics collection, but continuing initialization.")
			}
		}
	} else {
		log.Info().Msg("Metrics disabled by config, skipping runtime metric initialization.")
	}

	// 4. Aggregate Shutdown
	p.shutdownFunc = func(ctx context.Context) error {
		log.Info().Msg("Shutting down o11y components...")

		var g errgroup.Group

		// Shutdown Metrics (e.g. stop HTTP server)
		g.Go(func() error {
			if err := metricShutdown(ctx); err != nil {
				diagnostics.Error().Err(err).Msg("Failed to shutdown metrics provider")
				return err
			}
			return nil
		})

		// Shutdown Tracing (flush spans)
		g.Go(func() error {
			if err := traceShutdown(ctx); err != nil {
				diagnostics.Error().Err(err).Msg("Failed to shutdown tracer provider")
				return err
			}
			return nil
		})

		shutdownErr := g.Wait()
		if shutdownErr == nil {
			log.Info().Msg("o11y shutdown complete.")
		}

		// Shutdown Logging last, so the messages above are still delivered.
		if err := logShutdown(ctx); err != nil {
			diagnostics.Error().Err(err).Msg("Failed to shutdown logger provider")
			shutdownErr = errors.Join(shutdownErr, err)
		}
		return shutdownErr
	}

	log.Info().
		Str("service.name", cfg.Service).
		Str("service.version", cfg.Version).
		Msg("Starting {service.name} version {service.version}")

	return p, nil
}

func newNoopProvider(cfg Config) *Provider {
	p := &Provider{
		Logger:         zerolog.New(io.Discard),
		cfg:            cfg,
		resource:       resource.Empty(),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		loggerProvider: lognoop.NewLoggerProvider(),
		scopes:         xsync.NewMap[string, *Scope](),
		shutdownFunc:   func(context.Context) error { return nil },
	}
	p.root = p.Scope(cfg.InstrumentationScope)
	registerStandardMetrics(p.root)
	return p
}

// registerStandardMetrics creates the instruments recorded by the HTTP and gRPC middleware.
func registerStandardMetrics(s *Scope) {
	regs := []error{
		s.Metrics.RegisterInt64UpDownCounter(MetricHTTPActiveRequests, "Measures the number of concurrent inbound HTTP requests that are currently in-flight.", "{request}"),
		s.Metrics.RegisterInt64Counter(MetricHTTPPanics, "Counts the number of panics in HTTP handlers.", "{panic}"),
		s.Metrics.RegisterInt64Counter(MetricRPCPanics, "Counts the number of panics in gRPC handlers.", "{panic}"),
	}
	if err := errors.Join(regs...); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to register standard metrics")
	}
}

// Scope returns the instrumentation registry named name, creating it on first use.
// Callers are expected to keep the returned Scope rather than look it up per call.
func (p *Provider) Scope(name string) *Scope {
	if s, ok := p.scopes.Load(name); ok {
		return s
	}
	s, _ := p.scopes.LoadOrStore(name, NewScope(name, p.tracerProvider, p.meterProvider, p.Logger))
	return s
}

// Root returns the scope used by the middleware and the standard metrics.
func (p *Provider) Root() *Scope { return p.root }

// Config returns the effective configuration, defaults applied.
func (p *Provider) Config() Config { return p.cfg }

// Resource returns the resource shared by all pipelines.
func (p *Provider) Resource() *resource.Resource { return p.resource }

// TracerProvider returns the provider of the trace pipeline.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tracerProvider }

// MeterProvider returns the provider of the metric pipeline.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// LoggerProvider returns the provider of the log pipeline.
func (p *Provider) LoggerProvider() otellog.LoggerProvider { return p.loggerProvider }

// ForceFlush exports everything buffered by the three pipelines.
func (p *Provider) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, flush := range p.flushFuncs {
		if err := flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to flush telemetry: %w", err)
	}
	return nil
}

// Shutdown flushes and stops all pipelines. Metrics and traces are stopped
// concurrently, logs last.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdownFunc(ctx)
}

// GetTraceID extracts the TraceID of the OpenTelemetry from the Context.
// If there is no valid Span in the current Context, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
