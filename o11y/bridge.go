package o11y

import (
	"context"
	"encoding/hex"
	"math"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// Field names the bridge gives a meaning to.
const (
	FieldCategory   = "category"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
	FieldTraceFlags = "trace_flags"
	FieldScope      = "scope"
)

// bridgeSkipFields are carried by the resource or by the record itself.
var bridgeSkipFields = map[string]struct{}{
	"service":     {},
	"version":     {},
	"environment": {},
}

// LogBridge is a zerolog.LevelWriter that re-emits every zerolog event as an
// OpenTelemetry log record, so the application keeps a single logging API while
// the log pipeline fans the records out to its sinks.
//
// The "category" field selects the instrumentation scope of the record. Events
// without a category are emitted through the default logger.
type LogBridge struct {
	provider    otellog.LoggerProvider
	defaultName string
	loggers     *xsync.Map[string, otellog.Logger]
	now         func() time.Time
}

var _ zerolog.LevelWriter = (*LogBridge)(nil)

// NewLogBridge returns a bridge emitting through lp.
func NewLogBridge(lp otellog.LoggerProvider, defaultName string) *LogBridge {
	return &LogBridge{
		provider:    lp,
		defaultName: defaultName,
		loggers:     xsync.NewMap[string, otellog.Logger](),
		now:         time.Now,
	}
}

func (b *LogBridge) Write(p []byte) (int, error) {
	return b.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel decodes one zerolog event and emits it. It never fails the caller:
// an event that cannot be decoded is emitted with the raw line as its body.
func (b *LogBridge) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		var rec otellog.Record
		rec.SetTimestamp(b.now())
		rec.SetSeverity(zerologSeverity(level))
		rec.SetBody(otellog.StringValue(string(p)))
		b.logger(b.defaultName).Emit(context.Background(), rec)
		return len(p), nil
	}

	if level == zerolog.NoLevel {
		if s, ok := fields[zerolog.LevelFieldName].(string); ok {
			if parsed, err := zerolog.ParseLevel(s); err == nil {
				level = parsed
			}
		}
	}

	now := b.now()
	var rec otellog.Record
	rec.SetTimestamp(now)
	rec.SetObservedTimestamp(now)
	rec.SetSeverity(zerologSeverity(level))

	name := b.defaultName
	var traceID trace.TraceID
	var spanID trace.SpanID
	var flags trace.TraceFlags
	attrs := make([]otellog.KeyValue, 0, len(fields))

	for k, v := range fields {
		switch k {
		case zerolog.MessageFieldName:
			if s, ok := v.(string); ok {
				rec.SetBody(otellog.StringValue(s))
			}
		case zerolog.LevelFieldName, zerolog.TimestampFieldName:
		case FieldCategory:
			if s, ok := v.(string); ok && s != "" {
				name = s
			}
		case FieldTraceID:
			if s, ok := v.(string); ok {
				traceID, _ = trace.TraceIDFromHex(s)
			}
		case FieldSpanID:
			if s, ok := v.(string); ok {
				spanID, _ = trace.SpanIDFromHex(s)
			}
		case FieldTraceFlags:
			if s, ok := v.(string); ok {
				if raw, err := hex.DecodeString(s); err == nil && len(raw) == 1 {
					flags = trace.TraceFlags(raw[0])
				}
			}
		case zerolog.ErrorFieldName:
			attrs = append(attrs, otellog.KeyValue{Key: AttrExceptionMessage, Value: anyToValue(v)})
		case zerolog.ErrorStackFieldName:
			attrs = append(attrs, otellog.KeyValue{Key: AttrExceptionStacktrace, Value: anyToValue(v)})
		case FieldScope:
			attrs = append(attrs, otellog.KeyValue{Key: AttrLogScope, Value: anyToValue(v)})
		default:
			if _, skip := bridgeSkipFields[k]; skip {
				continue
			}
			attrs = append(attrs, otellog.KeyValue{Key: k, Value: anyToValue(v)})
		}
	}
	rec.AddAttributes(attrs...)

	ctx := context.Background()
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: flags})
	if sc.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, sc)
	}
	b.logger(name).Emit(ctx, rec)
	return len(p), nil
}

func (b *LogBridge) logger(name string) otellog.Logger {
	if l, ok := b.loggers.Load(name); ok {
		return l
	}
	l, _ := b.loggers.LoadOrStore(name, b.provider.Logger(name))
	return l
}

func zerologSeverity(level zerolog.Level) otellog.Severity {
	switch level {
	case zerolog.TraceLevel:
		return otellog.SeverityTrace
	case zerolog.DebugLevel:
		return otellog.SeverityDebug
	case zerolog.InfoLevel, zerolog.NoLevel:
		return otellog.SeverityInfo
	case zerolog.WarnLevel:
		return otellog.SeverityWarn
	case zerolog.ErrorLevel:
		return otellog.SeverityError
	case zerolog.FatalLevel:
		return otellog.SeverityFatal
	case zerolog.PanicLevel:
		return otellog.SeverityFatal4
	default:
		return otellog.SeverityUndefined
	}
}

// anyToValue converts a decoded JSON value. Integral numbers become Int64 values.
func anyToValue(v any) otellog.Value {
	switch x := v.(type) {
	case nil:
		return otellog.Value{}
	case string:
		return otellog.StringValue(x)
	case bool:
		return otellog.BoolValue(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return otellog.Int64Value(int64(x))
		}
		return otellog.Float64Value(x)
	case []any:
		vals := make([]otellog.Value, len(x))
		for i, item := range x {
			vals[i] = anyToValue(item)
		}
		return otellog.SliceValue(vals...)
	case map[string]any:
		kvs := make([]otellog.KeyValue, 0, len(x))
		for k, item := range x {
			kvs = append(kvs, otellog.KeyValue{Key: k, Value: anyToValue(item)})
		}
		return otellog.MapValue(kvs...)
	default:
		return otellog.StringValue(anyString(x))
	}
}
