package o11y

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	mt "go.opentelemetry.io/otel/sdk/metric"
	tc "go.opentelemetry.io/otel/sdk/trace"
)

// sinkFactory creates the exporter of every (sink, signal) pair.
// The pipelines only call the constructors of enabled sinks.
type sinkFactory struct {
	consoleLog    func(cfg ConsoleExporterConfig) (sdklog.Exporter, error)
	consoleSpan   func(cfg ConsoleExporterConfig) (tc.SpanExporter, error)
	consoleMetric func(cfg ConsoleExporterConfig) (mt.Exporter, error)

	otlpLog    func(ctx context.Context, t otlpTarget) (sdklog.Exporter, error)
	otlpSpan   func(ctx context.Context, t otlpTarget) (tc.SpanExporter, error)
	otlpMetric func(ctx context.Context, t otlpTarget) (mt.Exporter, error)

	fileLog func(path string) (sdklog.Exporter, error)
}

func defaultSinks() sinkFactory {
	return sinkFactory{
		consoleLog: func(cfg ConsoleExporterConfig) (sdklog.Exporter, error) {
			opts := []stdoutlog.Option{stdoutlog.WithWriter(os.Stdout)}
			if cfg.PrettyPrint {
				opts = append(opts, stdoutlog.WithPrettyPrint())
			}
			return stdoutlog.New(opts...)
		},
		consoleSpan: func(cfg ConsoleExporterConfig) (tc.SpanExporter, error) {
			opts := []stdouttrace.Option{stdouttrace.WithWriter(os.Stdout)}
			if cfg.PrettyPrint {
				opts = append(opts, stdouttrace.WithPrettyPrint())
			}
			return stdouttrace.New(opts...)
		},
		consoleMetric: func(cfg ConsoleExporterConfig) (mt.Exporter, error) {
			opts := []stdoutmetric.Option{stdoutmetric.WithWriter(os.Stdout)}
			if cfg.PrettyPrint {
				opts = append(opts, stdoutmetric.WithPrettyPrint())
			}
			return stdoutmetric.New(opts...)
		},
		otlpLog: func(ctx context.Context, t otlpTarget) (sdklog.Exporter, error) {
			return t.newLogExporter(ctx)
		},
		otlpSpan: func(ctx context.Context, t otlpTarget) (tc.SpanExporter, error) {
			return t.newSpanExporter(ctx)
		},
		otlpMetric: func(ctx context.Context, t otlpTarget) (mt.Exporter, error) {
			return t.newMetricExporter(ctx)
		},
		fileLog: func(path string) (sdklog.Exporter, error) {
			return NewFileLogExporter(path)
		},
	}
}

// releaseBuilt shuts down the exporters of a pipeline whose setup failed part way.
func releaseBuilt[E interface{ Shutdown(context.Context) error }](built []E) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, e := range built {
		if err := e.Shutdown(ctx); err != nil {
			diagnostics.Warn().Err(err).Msg("Failed to release exporter after setup error")
		}
	}
}
