package o11y

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tc "go.opentelemetry.io/otel/sdk/trace"
)

// setupTracing builds the TracerProvider from the sampling policy and the enabled sinks,
// and installs it together with the W3C TraceContext and Baggage propagators.
//
// The provider is created even when no sink is enabled: spans are still sampled and
// their ids keep correlating log records.
func setupTracing(ctx context.Context, cfg Config, res *resource.Resource, sinks sinkFactory) (*tc.TracerProvider, ShutdownFunc, error) {
	policy := ResolveSampling(cfg.Sampling)

	opts := []tc.TracerProviderOption{
		tc.WithResource(res),
		tc.WithSampler(policy.Sampler()),
	}

	if cfg.Trace.Enabled {
		exporters, err := buildSpanExporters(ctx, cfg.Exporter, sinks)
		if err != nil {
			return nil, nil, err
		}
		var batchOpts []tc.BatchSpanProcessorOption
		if cfg.Trace.BatchTimeout > 0 {
			batchOpts = append(batchOpts, tc.WithBatchTimeout(cfg.Trace.BatchTimeout))
		}
		for _, exp := range exporters {
			opts = append(opts, tc.WithBatcher(exp, batchOpts...))
		}
	}

	tp := tc.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	// Without a propagator, traces break when crossing service boundaries.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, tp.Shutdown, nil
}

// buildSpanExporters returns one exporter per enabled trace sink. The file sink only
// carries logs.
func buildSpanExporters(ctx context.Context, cfg ExporterConfig, sinks sinkFactory) (_ []tc.SpanExporter, err error) {
	var exporters []tc.SpanExporter
	defer func() {
		if err != nil {
			releaseBuilt(exporters)
		}
	}()

	if cfg.Console.Enabled {
		exp, err := sinks.consoleSpan(cfg.Console)
		if err != nil {
			return nil, fmt.Errorf("failed to create console trace exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if cfg.OTLP.Enabled {
		target, err := resolveOTLP(cfg.OTLP)
		if err != nil {
			return nil, err
		}
		exp, err := sinks.otlpSpan(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	return exporters, nil
}
