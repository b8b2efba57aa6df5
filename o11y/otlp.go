package o11y

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	mt "go.opentelemetry.io/otel/sdk/metric"
	tc "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrInvalidConfig is the root of all configuration errors.
	ErrInvalidConfig = errors.New("invalid telemetry configuration")

	// ErrInvalidEndpoint reports an OTLP endpoint that is not an absolute http(s) URI.
	ErrInvalidEndpoint = fmt.Errorf("%w: invalid OTLP endpoint", ErrInvalidConfig)
)

// OTLPProtocol is the closed set of OTLP transports.
type OTLPProtocol int

const (
	// ProtocolGRPC pushes protobuf over gRPC. It is the default.
	ProtocolGRPC OTLPProtocol = iota
	// ProtocolHTTPProtobuf posts protobuf over HTTP.
	ProtocolHTTPProtobuf
)

func (p OTLPProtocol) String() string {
	switch p {
	case ProtocolGRPC:
		return "grpc"
	case ProtocolHTTPProtobuf:
		return "http_protobuf"
	default:
		return fmt.Sprintf("OTLPProtocol(%d)", int(p))
	}
}

// ParseOTLPProtocol maps a configured protocol name to an OTLPProtocol.
// Unknown names return ProtocolGRPC and ok=false so the caller can warn; the sink is kept.
func ParseOTLPProtocol(s string) (p OTLPProtocol, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grpc":
		return ProtocolGRPC, true
	case "http_protobuf", "http/protobuf", "httpprotobuf":
		return ProtocolHTTPProtobuf, true
	default:
		return ProtocolGRPC, false
	}
}

// ParseOTLPEndpoint validates an OTLP endpoint URI.
// A malformed endpoint can never succeed, so it is reported at startup.
func ParseOTLPEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidEndpoint, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidEndpoint, raw)
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w %q: missing host", ErrInvalidEndpoint, raw)
	}
	return u, nil
}

// otlpTarget is the validated form of OTLPExporterConfig shared by the three signal exporters.
type otlpTarget struct {
	endpoint *url.URL
	protocol OTLPProtocol
	cfg      OTLPExporterConfig
}

func resolveOTLP(cfg OTLPExporterConfig) (otlpTarget, error) {
	u, err := ParseOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return otlpTarget{}, err
	}
	p, ok := ParseOTLPProtocol(cfg.Protocol)
	if !ok {
		diagnostics.Warn().
			Str("protocol", cfg.Protocol).
			Str("fallback", p.String()).
			Msg("Unrecognized OTLP protocol, using default")
	}
	return otlpTarget{endpoint: u, protocol: p, cfg: cfg}, nil
}

// endpointURL returns the endpoint with the signal path appended for HTTP transports.
// gRPC ignores the path.
func (t otlpTarget) endpointURL(signalPath string) string {
	u := *t.endpoint
	if t.protocol == ProtocolHTTPProtobuf && (u.Path == "" || u.Path == "/") {
		u.Path = signalPath
	}
	return u.String()
}

func (t otlpTarget) newSpanExporter(ctx context.Context) (tc.SpanExporter, error) {
	switch t.protocol {
	case ProtocolHTTPProtobuf:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(t.endpointURL("/v1/traces"))}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(t.cfg.Headers))
		}
		if t.cfg.Timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(t.cfg.Timeout))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(t.endpointURL(""))}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(t.cfg.Headers))
		}
		if t.cfg.Timeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(t.cfg.Timeout))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

func (t otlpTarget) newMetricExporter(ctx context.Context) (mt.Exporter, error) {
	switch t.protocol {
	case ProtocolHTTPProtobuf:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(t.endpointURL("/v1/metrics"))}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(t.cfg.Headers))
		}
		if t.cfg.Timeout > 0 {
			opts = append(opts, otlpmetrichttp.WithTimeout(t.cfg.Timeout))
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpointURL(t.endpointURL(""))}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(t.cfg.Headers))
		}
		if t.cfg.Timeout > 0 {
			opts = append(opts, otlpmetricgrpc.WithTimeout(t.cfg.Timeout))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
}

func (t otlpTarget) newLogExporter(ctx context.Context) (sdklog.Exporter, error) {
	switch t.protocol {
	case ProtocolHTTPProtobuf:
		opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(t.endpointURL("/v1/logs"))}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(t.cfg.Headers))
		}
		if t.cfg.Timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(t.cfg.Timeout))
		}
		return otlploghttp.New(ctx, opts...)
	default:
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpointURL(t.endpointURL(""))}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, otlploggrpc.WithHeaders(t.cfg.Headers))
		}
		if t.cfg.Timeout > 0 {
			opts = append(opts, otlploggrpc.WithTimeout(t.cfg.Timeout))
		}
		return otlploggrpc.New(ctx, opts...)
	}
}
