package o11y

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/metric"
)

// StartRuntimeMetrics starts collecting Go runtime metrics (goroutines, GC, memory)
// against mp. It is non-blocking and must be called once per MeterProvider.
func StartRuntimeMetrics(mp metric.MeterProvider, logger zerolog.Logger) error {
	logger.Info().Msg("Initializing Go runtime metrics collection.")

	if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
		logger.Error().Err(err).Msg("Failed to start Go runtime metrics collection.")
		return err
	}
	return nil
}

// StartHostMetrics starts collecting process and host metrics (CPU, memory, network)
// against mp. It is non-blocking.
func StartHostMetrics(mp metric.MeterProvider, logger zerolog.Logger) error {
	logger.Info().Msg("Initializing host metrics collection.")

	if err := host.Start(host.WithMeterProvider(mp)); err != nil {
		logger.Error().Err(err).Msg("Failed to start host metrics collection.")
		return err
	}
	return nil
}
