package o11y

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	mt "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// setupMetrics builds the MeterProvider with one reader per enabled metric sink.
// Console and OTLP are push readers sharing the export interval; Prometheus is a pull
// reader served on its own HTTP server.
func setupMetrics(ctx context.Context, cfg Config, res *resource.Resource, sinks sinkFactory) (*mt.MeterProvider, ShutdownFunc, error) {
	// A MeterProvider with no reader discards all measurements.
	if !cfg.Metric.Enabled {
		mp := mt.NewMeterProvider(mt.WithResource(res))
		otel.SetMeterProvider(mp)
		return mp, mp.Shutdown, nil
	}

	readers, err := buildMetricReaders(ctx, cfg, sinks)
	if err != nil {
		return nil, nil, err
	}

	var serverShutdown ShutdownFunc = func(context.Context) error { return nil }
	if cfg.Exporter.Prometheus.Enabled {
		reader, err := prometheus.New()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create prometheus metric reader: %w", err)
		}
		readers = append(readers, reader)
		serverShutdown = servePrometheusMetrics(cfg.Exporter.Prometheus)
	}

	opts := []mt.Option{mt.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, mt.WithReader(r))
	}
	mp := mt.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return mp, func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), serverShutdown(ctx))
	}, nil
}

// buildMetricReaders returns a periodic reader per enabled push sink.
func buildMetricReaders(ctx context.Context, cfg Config, sinks sinkFactory) (_ []mt.Reader, err error) {
	var readers []mt.Reader
	defer func() {
		if err != nil {
			releaseBuilt(readers)
		}
	}()
	interval := mt.WithInterval(cfg.Metric.ExportInterval)

	if cfg.Exporter.Console.Enabled {
		exp, err := sinks.consoleMetric(cfg.Exporter.Console)
		if err != nil {
			return nil, fmt.Errorf("failed to create console metric exporter: %w", err)
		}
		readers = append(readers, mt.NewPeriodicReader(exp, interval))
	}

	if cfg.Exporter.OTLP.Enabled {
		target, err := resolveOTLP(cfg.Exporter.OTLP)
		if err != nil {
			return nil, err
		}
		exp, err := sinks.otlpMetric(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		readers = append(readers, mt.NewPeriodicReader(exp, interval))
	}

	return readers, nil
}

// servePrometheusMetrics starts a dedicated HTTP server to expose the scrape endpoint.
func servePrometheusMetrics(cfg PrometheusExporterConfig) ShutdownFunc {
	// Use a new ServeMux to avoid interfering with the main application's router.
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	diagnostics.Info().Str("path", cfg.Path).Str("addr", cfg.Addr).Msg("Prometheus metrics server starting.")

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			diagnostics.Error().Err(err).Msg("Prometheus metrics server failed.")
		}
	}()

	return server.Shutdown
}
