package o11y

import (
	"fmt"
	"time"
)

const (
	DefaultServiceName    = "contactd"
	DefaultServiceVersion = "1.0.0"
	DefaultFileLogPath    = "logs/otel-logs.json"
	DefaultOTLPEndpoint   = "http://localhost:4317"
	DefaultOTLPProtocol   = "grpc"
)

// Config is the root configuration of the telemetry pipeline.
// It aggregates all configurable items for logs, traces, and metrics, the set of enabled sinks,
// the sampling policy and the global metadata used to build the resource.
type Config struct {
	// Enabled is a global switch. If set to false, New returns a Provider backed by no-op
	// tracer, meter and logger providers and nothing is exported.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Service is the service name (service.name). Defaults to "contactd".
	Service string `yaml:"service_name" mapstructure:"service_name"`

	// Version is the service version (service.version). Defaults to "1.0.0".
	Version string `yaml:"service_version" mapstructure:"service_version"`

	// Environment is the deployment environment, e.g. "development", "production".
	Environment string `yaml:"environment" mapstructure:"environment"`

	// InstrumentationScope is the name of the tracer, meter and logger used by the
	// middleware and the standard metrics. Defaults to "contactd.o11y".
	InstrumentationScope string `yaml:"instrumentation_scope" mapstructure:"instrumentation_scope"`

	// Sampling selects the trace sampling policy.
	Sampling SamplingConfig `yaml:"sampling" mapstructure:"sampling"`

	// Exporter enumerates the sinks. A sink that is not enabled is omitted from every pipeline.
	Exporter ExporterConfig `yaml:"exporter" mapstructure:"exporter"`

	// Log contains the configuration of the application logger (zerolog) and the log pipeline.
	Log LogConfig `yaml:"log" mapstructure:"log"`

	// Trace contains the configuration of the trace pipeline.
	Trace TraceConfig `yaml:"trace" mapstructure:"trace"`

	// Metric contains the configuration of the metric pipeline.
	Metric MetricConfig `yaml:"metric" mapstructure:"metric"`
}

// SamplingConfig defines how root traces are sampled.
type SamplingConfig struct {
	// AlwaysOn records every trace regardless of Ratio.
	AlwaysOn bool `yaml:"always_on" mapstructure:"always_on"`

	// Ratio is the probability in [0,1] that a new root trace is sampled.
	// Out-of-range values are clamped.
	Ratio float64 `yaml:"ratio" mapstructure:"ratio"`
}

// ExporterConfig lists every sink the pipelines can fan out to.
type ExporterConfig struct {
	Console    ConsoleExporterConfig    `yaml:"console" mapstructure:"console"`
	File       FileExporterConfig       `yaml:"file" mapstructure:"file"`
	OTLP       OTLPExporterConfig       `yaml:"otlp" mapstructure:"otlp"`
	Prometheus PrometheusExporterConfig `yaml:"prometheus" mapstructure:"prometheus"`
}

// ConsoleExporterConfig enables the stdout exporters for traces, metrics and logs.
type ConsoleExporterConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// PrettyPrint indents the JSON written by the stdout exporters.
	PrettyPrint bool `yaml:"pretty_print" mapstructure:"pretty_print"`
}

// FileExporterConfig enables the line-delimited JSON log sink.
// Only the log pipeline writes to the file.
type FileExporterConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// LogPath is the file the log records are appended to. Defaults to "logs/otel-logs.json".
	LogPath string `yaml:"log_path" mapstructure:"log_path"`
}

// OTLPExporterConfig enables the OTLP exporters for all three signals.
type OTLPExporterConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Endpoint is an absolute URI, e.g. "http://otel-collector:4317".
	// An "http" scheme implies a plaintext connection. Defaults to "http://localhost:4317".
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Protocol is "grpc" or "http_protobuf". Unknown values fall back to "grpc".
	Protocol string `yaml:"protocol" mapstructure:"protocol"`

	// Headers are sent with every export request (e.g. authentication tokens).
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// Timeout bounds a single export request. Zero keeps the exporter default.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PrometheusExporterConfig exposes metrics on a pull endpoint in addition to the push sinks.
type PrometheusExporterConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the address (host:port) the metrics server listens on. Defaults to ":2222".
	Addr string `yaml:"addr" mapstructure:"addr"`

	// Path is the HTTP path of the scrape endpoint. Defaults to "/metrics".
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig defines the detailed behavior of logging.
type LogConfig struct {
	// Level defines the global minimum log level.
	// Optional values are "debug", "info", "warn", "error", "fatal", "panic".
	// If set to empty or invalid value, it will default to "info".
	Level string `yaml:"level" mapstructure:"level"`

	// TimePrecision defines the format and precision of the timestamps in the zerolog output.
	// Optional values: "s", "ms", "us", "ns". Defaults to "ms".
	TimePrecision string `yaml:"time_precision" mapstructure:"time_precision"`

	// EnableCaller controls whether the caller's filename and line number are included in log entries.
	EnableCaller bool `yaml:"caller" mapstructure:"caller"`

	// EnableConsole controls whether human-readable logs are written to stdout.
	// This is the developer console; the console sink of the log pipeline is configured
	// through Exporter.Console.
	EnableConsole bool `yaml:"console" mapstructure:"console"`

	// EnableFile keeps a rotated copy of the raw zerolog stream on disk.
	EnableFile bool `yaml:"file" mapstructure:"file"`

	// FileRotation defines the rotation strategy; it only takes effect when EnableFile is true.
	FileRotation FileRotationConfig `yaml:"rotation" mapstructure:"rotation"`

	// StackFilters is a list of string prefixes used to filter out irrelevant stack frames in a panic hook.
	StackFilters []string `yaml:"stack_filters" mapstructure:"stack_filters"`

	// BatchTimeout is the export interval of the log batch processor. Zero keeps the SDK default.
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
}

// FileRotationConfig defines the file rotation configuration for the Lumberjack library.
type FileRotationConfig struct {
	// Filename is the full path to the log file to be written.
	Filename string `yaml:"filename" mapstructure:"filename"`

	// MaxSize is the maximum size of a single log file before rotation, in MB.
	MaxSize int `yaml:"max_size" mapstructure:"max_size"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `yaml:"max_backups" mapstructure:"max_backups"`

	// MaxAge is the maximum number of days old log files are retained before deletion.
	MaxAge int `yaml:"max_age" mapstructure:"max_age"`

	// Compress controls whether to use gzip compression for rotated old log files.
	Compress bool `yaml:"compress" mapstructure:"compress"`
}

// TraceConfig defines the configuration of the trace pipeline.
type TraceConfig struct {
	// Enabled controls whether spans are exported. When false the sampler still runs,
	// so trace ids remain available for log correlation.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// BatchTimeout is the maximum delay before a span batch is exported. Zero keeps the SDK default.
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
}

// MetricConfig defines the configuration of the metric pipeline.
type MetricConfig struct {
	// Enabled controls whether metrics are collected and exported.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ExportInterval is the period of the push readers (console, OTLP). Defaults to 60s.
	ExportInterval time.Duration `yaml:"export_interval" mapstructure:"export_interval"`

	// EnableRuntimeMetrics collects Go runtime metrics (GC, goroutines, memory).
	EnableRuntimeMetrics bool `yaml:"enable_runtime_metrics" mapstructure:"enable_runtime_metrics"`

	// EnableHostMetrics collects host metrics (CPU, memory, network).
	EnableHostMetrics bool `yaml:"enable_host_metrics" mapstructure:"enable_host_metrics"`
}

// ApplyDefaults fills every unset value with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Service == "" {
		c.Service = DefaultServiceName
	}
	if c.Version == "" {
		c.Version = DefaultServiceVersion
	}
	if c.InstrumentationScope == "" {
		c.InstrumentationScope = c.Service + ".o11y"
	}
	if c.Exporter.File.LogPath == "" {
		c.Exporter.File.LogPath = DefaultFileLogPath
	}
	if c.Exporter.OTLP.Endpoint == "" {
		c.Exporter.OTLP.Endpoint = DefaultOTLPEndpoint
	}
	if c.Exporter.OTLP.Protocol == "" {
		c.Exporter.OTLP.Protocol = DefaultOTLPProtocol
	}
	if c.Exporter.Prometheus.Addr == "" {
		c.Exporter.Prometheus.Addr = ":2222"
	}
	if c.Exporter.Prometheus.Path == "" {
		c.Exporter.Prometheus.Path = "/metrics"
	}
	if c.Metric.ExportInterval <= 0 {
		c.Metric.ExportInterval = 60 * time.Second
	}
}

// Validate reports configuration errors that can never succeed later.
// Only enabled sinks are checked.
func (c Config) Validate() error {
	if c.Exporter.OTLP.Enabled {
		if _, err := ParseOTLPEndpoint(c.Exporter.OTLP.Endpoint); err != nil {
			return err
		}
	}
	if c.Exporter.File.Enabled && c.Exporter.File.LogPath == "" {
		return fmt.Errorf("%w: file exporter enabled without log_path", ErrInvalidConfig)
	}
	return nil
}
