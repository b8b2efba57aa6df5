package o11y

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const (
	// AttrLogScope carries the ordered scope values of a record (e.g. nested operation names).
	AttrLogScope = "log.scope"

	AttrExceptionType       = "exception.type"
	AttrExceptionMessage    = "exception.message"
	AttrExceptionStacktrace = "exception.stacktrace"
)

// ErrExportFailed wraps every error returned by FileLogExporter.Export.
var ErrExportFailed = errors.New("file log export failed")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fileLocks serializes writers of the same file across every exporter instance in the process.
var fileLocks = xsync.NewMap[string, *sync.Mutex]()

// FileLogEntry is the JSON object written on each line of the file sink.
type FileLogEntry struct {
	Timestamp        time.Time      `json:"timestamp"`
	TraceID          string         `json:"traceId"`
	SpanID           string         `json:"spanId"`
	TraceFlags       string         `json:"traceFlags"`
	CategoryName     string         `json:"categoryName"`
	LogLevel         string         `json:"logLevel"`
	FormattedMessage *string        `json:"formattedMessage"`
	Body             *string        `json:"body"`
	ScopeValues      []string       `json:"scopeValues"`
	Exception        *string        `json:"exception"`
	Attributes       map[string]any `json:"attributes"`
}

// DecodeFileLogEntry parses one line written by FileLogExporter.
func DecodeFileLogEntry(line []byte) (FileLogEntry, error) {
	var e FileLogEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return FileLogEntry{}, fmt.Errorf("decode file log entry: %w", err)
	}
	return e, nil
}

// NewFileLogEntry converts an SDK log record into its file representation.
func NewFileLogEntry(r *sdklog.Record) FileLogEntry {
	ts := r.Timestamp()
	if ts.IsZero() {
		ts = r.ObservedTimestamp()
	}

	e := FileLogEntry{
		Timestamp:    ts.UTC(),
		TraceFlags:   r.TraceFlags().String(),
		CategoryName: r.InstrumentationScope().Name,
		LogLevel:     r.SeverityText(),
		ScopeValues:  []string{},
		Attributes:   make(map[string]any, r.AttributesLen()),
	}
	if e.LogLevel == "" {
		e.LogLevel = r.Severity().String()
	}
	if id := r.TraceID(); id.IsValid() {
		e.TraceID = id.String()
	}
	if id := r.SpanID(); id.IsValid() {
		e.SpanID = id.String()
	}

	var excType, excMsg, excStack string
	r.WalkAttributes(func(kv log.KeyValue) bool {
		switch kv.Key {
		case AttrLogScope:
			e.ScopeValues = appendScopeValues(e.ScopeValues, kv.Value)
		case AttrExceptionType:
			excType = kv.Value.String()
		case AttrExceptionMessage:
			excMsg = kv.Value.String()
		case AttrExceptionStacktrace:
			excStack = kv.Value.String()
		default:
			e.Attributes[kv.Key] = valueToAny(kv.Value)
		}
		return true
	})
	if exc := formatException(excType, excMsg, excStack); exc != "" {
		e.Exception = &exc
	}

	if body := bodyString(r.Body()); body != "" {
		formatted := formatMessage(body, e.Attributes)
		e.Body = &body
		e.FormattedMessage = &formatted
	}
	return e
}

// FileLogExporter appends log records to a file as line-delimited JSON.
//
// Failed batches are reported to the diagnostic logger and returned as an error, and are
// not retried.
type FileLogExporter struct {
	path    string
	stopped atomic.Bool
}

var _ sdklog.Exporter = (*FileLogExporter)(nil)

// NewFileLogExporter returns an exporter writing to path, creating its parent directory.
func NewFileLogExporter(path string) (*FileLogExporter, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty log file path", ErrInvalidConfig)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log file path %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %q: %w", abs, err)
	}
	return &FileLogExporter{path: abs}, nil
}

// Path returns the absolute path of the target file.
func (e *FileLogExporter) Path() string { return e.path }

// Export writes the batch as one line per record, in batch order.
// Either the whole batch is encoded and written under the file lock, or an error is returned.
func (e *FileLogExporter) Export(ctx context.Context, records []sdklog.Record) (err error) {
	if e.stopped.Load() || len(records) == 0 {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = e.fail(fmt.Errorf("panic: %v", r), len(records))
		}
	}()

	buf, err := encodeRecords(records)
	if err != nil {
		return e.fail(err, len(records))
	}
	if err := ctx.Err(); err != nil {
		return e.fail(err, len(records))
	}
	if err := e.write(buf); err != nil {
		return e.fail(err, len(records))
	}
	return nil
}

func (e *FileLogExporter) write(buf []byte) error {
	mu, _ := fileLocks.LoadOrStore(e.path, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(buf)
	cerr := f.Close()
	return errors.Join(werr, cerr)
}

func (e *FileLogExporter) fail(cause error, n int) error {
	diagnostics.Error().
		Err(cause).
		Str("path", e.path).
		Int("records", n).
		Msg("Error exporting logs to file")
	return fmt.Errorf("%w: %s: %w", ErrExportFailed, e.path, cause)
}

// Shutdown stops the exporter. Later calls to Export are dropped.
func (e *FileLogExporter) Shutdown(context.Context) error {
	e.stopped.Store(true)
	return nil
}

// ForceFlush is a no-op: every Export call closes the file before returning.
func (e *FileLogExporter) ForceFlush(context.Context) error { return nil }

func encodeRecords(records []sdklog.Record) ([]byte, error) {
	var buf bytes.Buffer
	stream := json.BorrowStream(&buf)
	defer json.ReturnStream(stream)

	for i := range records {
		entry := NewFileLogEntry(&records[i])
		stream.WriteVal(entry)
		if stream.Error != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, stream.Error)
		}
		stream.WriteRaw("\n")
	}
	if err := stream.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendScopeValues(dst []string, v log.Value) []string {
	switch v.Kind() {
	case log.KindSlice:
		for _, item := range v.AsSlice() {
			if s := bodyString(item); s != "" {
				dst = append(dst, s)
			}
		}
	case log.KindEmpty:
	default:
		if s := bodyString(v); s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

func formatException(typ, msg, stack string) string {
	var b strings.Builder
	switch {
	case typ != "" && msg != "":
		b.WriteString(typ + ": " + msg)
	case typ != "":
		b.WriteString(typ)
	default:
		b.WriteString(msg)
	}
	if stack != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(stack)
	}
	return b.String()
}

// formatMessage replaces {key} placeholders with the matching attribute.
// Unknown placeholders are left untouched.
func formatMessage(tmpl string, attrs map[string]any) string {
	if len(attrs) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			break
		}
		end += open
		key := tmpl[open+1 : end]
		b.WriteString(tmpl[:open])
		if v, ok := attrs[key]; ok && key != "" {
			b.WriteString(anyString(v))
		} else {
			b.WriteString(tmpl[open : end+1])
		}
		tmpl = tmpl[end+1:]
	}
	b.WriteString(tmpl)
	return b.String()
}

func bodyString(v log.Value) string {
	switch v.Kind() {
	case log.KindEmpty:
		return ""
	case log.KindString:
		return v.AsString()
	default:
		return v.String()
	}
}

func anyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		s, err := json.MarshalToString(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return s
	}
}

func valueToAny(v log.Value) any {
	switch v.Kind() {
	case log.KindBool:
		return v.AsBool()
	case log.KindInt64:
		return v.AsInt64()
	case log.KindFloat64:
		return v.AsFloat64()
	case log.KindString:
		return v.AsString()
	case log.KindBytes:
		return v.AsBytes()
	case log.KindSlice:
		items := v.AsSlice()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToAny(item)
		}
		return out
	case log.KindMap:
		kvs := v.AsMap()
		out := make(map[string]any, len(kvs))
		for _, kv := range kvs {
			out[kv.Key] = valueToAny(kv.Value)
		}
		return out
	default:
		return nil
	}
}
