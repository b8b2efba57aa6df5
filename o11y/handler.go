package o11y

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes set by RequestTagger.
const (
	AttrRequestBodySize  = "http.request.body.size"
	AttrResponseBodySize = "http.response.body.size"
	AttrUserAgent        = "user.agent"
	AttrClientIP         = "client.ip"
)

// HandlerOptions tunes the HTTP middleware returned by Handler.
type HandlerOptions struct {
	// Operation names server spans for requests no route pattern matched.
	Operation string
	// SkipPaths lists path prefixes served without a span (health probes).
	SkipPaths []string
	// StackFilters trims recovered panic stacks; DefaultLogIgnore when empty.
	StackFilters []string
}

// Handler is a factory function that creates the o11y HTTP middleware of scope s.
// The middleware wraps the provided handler with a complete suite of observability tools:
// a server span (renamed after the matched ServeMux pattern), RequestTagger, a trace
// correlated logger in the request context, the in-flight request gauge and panic recovery.
//
// Usage:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /api/contacts/{id}", getContact)
//	server := &http.Server{
//	    Addr:    ":8080",
//	    Handler: o11y.Handler(scope, o11y.HandlerOptions{SkipPaths: []string{"/api/health"}})(mux),
//	}
func Handler(s *Scope, opts HandlerOptions) func(http.Handler) http.Handler {
	if opts.Operation == "" {
		opts.Operation = "http.server"
	}
	// The gauge and panic counter may live on a non-root scope.
	registerStandardMetrics(s)

	return func(next http.Handler) http.Handler {
		// Recovery sits inside the tagger so the 500 body counts toward the response size.
		tagged := RequestTagger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer recoverHTTP(s, trace.SpanFromContext(r.Context()), w, r, opts.StackFilters)
			next.ServeHTTP(w, r)
		}))

		// The inner handler contains our custom logic: panic recovery, metrics, and logger injection.
		innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Record active requests
			s.Metrics.AddToInt64UpDownCounter(ctx, MetricHTTPActiveRequests, 1)
			defer s.Metrics.AddToInt64UpDownCounter(ctx, MetricHTTPActiveRequests, -1)

			// 1. Contextual Logger Injection
			span := trace.SpanFromContext(ctx)
			lc := s.Logger.With()
			if sc := span.SpanContext(); sc.IsValid() {
				lc = lc.Str(FieldTraceID, sc.TraceID().String()).
					Str(FieldSpanID, sc.SpanID().String()).
					Str(FieldTraceFlags, sc.TraceFlags().String())
			}
			logger := lc.Logger()
			req := r.WithContext(logger.WithContext(ctx))

			// 2. Metrics & Panic Recovery via httpsnoop
			// httpsnoop.CaptureMetrics executes the handler and captures status code & duration.
			// It automatically supports http.Flusher, http.Hijacker, etc.
			m := httpsnoop.CaptureMetrics(tagged, w, req)

			// ServeMux stores the matched pattern on the request it was handed.
			if req.Pattern != "" {
				span.SetName(req.Pattern)
				span.SetAttributes(attribute.String("http.route", req.Pattern))
			}

			logger.Debug().
				Str("http.method", r.Method).
				Str("http.route", req.Pattern).
				Int("http.status_code", m.Code).
				Dur("duration", m.Duration).
				Msg("HTTP request served")
		})

		// Wrap with standard otelhttp to generate spans
		return otelhttp.NewHandler(innerHandler, opts.Operation,
			otelhttp.WithTracerProvider(s.TracerProvider()),
			otelhttp.WithMeterProvider(s.MeterProvider()),
			otelhttp.WithFilter(func(r *http.Request) bool {
				for _, prefix := range opts.SkipPaths {
					if strings.HasPrefix(r.URL.Path, prefix) {
						return false
					}
				}
				return true
			}),
		)
	}
}

// recoverHTTP turns a handler panic into a 500 response, an errored span and a log
// line carrying the filtered stack. http.ErrAbortHandler is re-raised for net/http.
func recoverHTTP(s *Scope, span trace.Span, w http.ResponseWriter, r *http.Request, filters []string) {
	rcv := recover()
	if rcv == nil {
		return
	}
	if rcv == http.ErrAbortHandler {
		panic(rcv)
	}

	err := fmt.Errorf("panic recovered: %v", rcv)

	// Record panic on Span
	span.RecordError(err, trace.WithStackTrace(true))
	span.SetStatus(codes.Error, "panic")
	s.Metrics.AddToInt64Counter(r.Context(), MetricHTTPPanics, 1, attribute.String("http.method", r.Method))

	// Log panic
	stack := FilterStackTrace(string(debug.Stack()), filters)
	GetLoggerFromContext(r.Context()).Error().
		Interface("error", rcv).
		Str("stack", stack).
		Msg("HTTP request recovered from panic")

	// Write 500 error. This updates the httpsnoop writer state.
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// RequestTagger annotates the active span of an inbound request with request and
// response metadata. Request content length, user agent and client address are set on
// entry; the response body size is set after next returns, even when next panics.
// When no span is recording the request passes through untouched.
//
// RequestTagger never changes the response; it only observes it.
func RequestTagger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			next.ServeHTTP(w, r)
			return
		}

		span.SetAttributes(
			attribute.Int64(AttrRequestBodySize, max(r.ContentLength, 0)),
			attribute.String(AttrUserAgent, r.UserAgent()),
			attribute.String(AttrClientIP, clientIP(r)),
		)

		var written int64
		ww := httpsnoop.Wrap(w, httpsnoop.Hooks{
			Write: func(write httpsnoop.WriteFunc) httpsnoop.WriteFunc {
				return func(b []byte) (int, error) {
					n, err := write(b)
					written += int64(n)
					return n, err
				}
			},
			ReadFrom: func(readFrom httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
				return func(src io.Reader) (int64, error) {
					n, err := readFrom(src)
					written += n
					return n, err
				}
			},
		})

		defer func() {
			span.SetAttributes(attribute.Int64(AttrResponseBodySize, written))
		}()
		next.ServeHTTP(ww, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
