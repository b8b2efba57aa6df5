package o11y

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogIgnore defines a list of common function/file path prefixes
// to be filtered out from panic stack traces. This significantly reduces noise,
// allowing developers to focus on their application's code.
var DefaultLogIgnore = []string{
	"runtime/panic.go",
	"runtime/debug/stack.go",
	"github.com/rs/zerolog.",
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp.",
	"net/http/server.go",
	// Our own middleware and hooks.
	"o11y.recoverHTTP",
	"o11y.PanicHook",
}

// diagnostics receives errors of the telemetry pipeline itself (failed exports, SDK errors).
// It writes to stderr directly so a broken sink can never feed back into its own pipeline.
var diagnostics = zerolog.New(os.Stderr).With().Timestamp().Str("component", "o11y").Logger()

// setupLogging builds the log pipeline and the zerolog logger feeding it.
//
// The returned logger writes to the developer console and the rotated raw file when
// enabled, and to the OpenTelemetry log pipeline through a LogBridge whenever at least
// one log sink is configured. The shutdown function flushes the pipeline first and then
// closes open file handles.
func setupLogging(ctx context.Context, cfg Config, res *resource.Resource, sinks sinkFactory) (zerolog.Logger, *sdklog.LoggerProvider, ShutdownFunc, error) {
	// 1. Parse the configured log level string.
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
		if cfg.Log.Level != "" {
			diagnostics.Warn().Msgf("Invalid log level '%s', defaulting to 'info'", cfg.Log.Level)
		}
	}

	// 2. Set the global time field format.
	switch cfg.Log.TimePrecision {
	case "s":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "us":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	case "ns":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixNano
	default:
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	}

	// 3. Build the log sinks.
	exporters, err := buildLogExporters(ctx, cfg.Exporter, sinks)
	if err != nil {
		return zerolog.Nop(), nil, nil, err
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		var batchOpts []sdklog.BatchProcessorOption
		if cfg.Log.BatchTimeout > 0 {
			batchOpts = append(batchOpts, sdklog.WithExportInterval(cfg.Log.BatchTimeout))
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, batchOpts...)))
	}
	lp := sdklog.NewLoggerProvider(opts...)
	global.SetLoggerProvider(lp)

	// 4. Assemble the zerolog writers.
	var writers []io.Writer
	var closers []io.Closer

	if cfg.Log.EnableFile {
		if cfg.Log.FileRotation.Filename == "" {
			diagnostics.Error().Msg("Log file is enabled but no filename is provided in config. Disabling file logging.")
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.Log.FileRotation.Filename,
				MaxSize:    cfg.Log.FileRotation.MaxSize,
				MaxBackups: cfg.Log.FileRotation.MaxBackups,
				MaxAge:     cfg.Log.FileRotation.MaxAge,
				Compress:   cfg.Log.FileRotation.Compress,
			}
			writers = append(writers, fileWriter)
			closers = append(closers, fileWriter)
		}
	}

	if len(exporters) > 0 {
		writers = append(writers, NewLogBridge(lp, cfg.InstrumentationScope))
	}

	// Default to the console if nothing else would receive the logs.
	if cfg.Log.EnableConsole || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	// The level stays on this logger; the global level would also mute diagnostics.
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level)

	if cfg.Log.EnableCaller {
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			short := file
			for i := len(file) - 1; i > 0; i-- {
				if file[i] == '/' {
					short = file[i+1:]
					break
				}
			}
			return short + ":" + strconv.Itoa(line)
		}
		logger = logger.With().Caller().Logger()
	}

	// 5. Flush the pipeline, then close the files.
	shutdown := func(ctx context.Context) error {
		errs := lp.Shutdown(ctx)
		for _, c := range closers {
			if err := c.Close(); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		return errs
	}

	return logger, lp, shutdown, nil
}

// buildLogExporters returns one exporter per enabled log sink.
func buildLogExporters(ctx context.Context, cfg ExporterConfig, sinks sinkFactory) (_ []sdklog.Exporter, err error) {
	var exporters []sdklog.Exporter
	defer func() {
		if err != nil {
			releaseBuilt(exporters)
		}
	}()

	if cfg.Console.Enabled {
		exp, err := sinks.consoleLog(cfg.Console)
		if err != nil {
			return nil, fmt.Errorf("failed to create console log exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if cfg.OTLP.Enabled {
		target, err := resolveOTLP(cfg.OTLP)
		if err != nil {
			return nil, err
		}
		exp, err := sinks.otlpLog(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if cfg.File.Enabled {
		exp, err := sinks.fileLog(cfg.File.LogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	return exporters, nil
}

// PanicHook creates a zerolog.Hook that, when a panic-level event is logged,
// captures the current goroutine's stack trace, filters it for clarity,
// and adds it to the log event under the "stack" key.
func PanicHook(ignore []string) zerolog.Hook {
	if len(ignore) == 0 {
		ignore = DefaultLogIgnore
	}
	return zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
		if level == zerolog.PanicLevel {
			stack := FilterStackTrace(string(debug.Stack()), ignore)
			e.Str(zerolog.ErrorStackFieldName, stack)
		}
	})
}

// FilterStackTrace cleans a raw stack trace string by removing irrelevant frames.
// It works by processing the stack trace in pairs of lines (function call and file path).
func FilterStackTrace(stack string, ignore []string) string {
	if len(ignore) == 0 {
		ignore = DefaultLogIgnore
	}

	lines := strings.Split(stack, "\n")
	if len(lines) < 2 {
		return stack
	}

	var result strings.Builder
	// The first line is always "goroutine X [running]:", which we keep.
	result.WriteString(lines[0] + "\n")

	for i := 1; i+1 < len(lines); i += 2 {
		funcLine := lines[i]
		fileLine := strings.TrimSpace(lines[i+1])

		isIgnored := false
		for _, prefix := range ignore {
			if strings.HasPrefix(funcLine, prefix) || strings.Contains(fileLine, prefix) {
				isIgnored = true
				break
			}
		}

		if !isIgnored {
			result.WriteString(funcLine + "\n")
			result.WriteString(fileLine + "\n")
		}
	}

	return result.String()
}
