package main

import (
	"bufio"
	"bytes"
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/oy3o/contactd/o11y"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LogEntry is one log line read back from disk, whichever file it came from.
type LogEntry struct {
	Timestamp  time.Time
	Level      string
	Category   string
	Message    string
	TraceID    string
	SpanID     string
	Scope      []string
	Exception  *string
	Attributes map[string]any
}

// ParseLogFile parses every line of filePath into entries. Lines that cannot be
// parsed are reported through onError and skipped.
func ParseLogFile(ctx context.Context, filePath string, entries chan<- *LogEntry, onError func(error)) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	// 每个文件一个解析器，格式和精度按文件检测
	parser := NewLogFileParser()

	scanner := bufio.NewScanner(file)
	// 增加 buffer size 防止超长行 (异常堆栈) 导致扫描失败
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, maxCapacity), maxCapacity)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		entry, err := parser.ParseLine(line)
		if err != nil {
			onError(fmt.Errorf("%s:%d: %w", filePath, lineNo, err))
			continue
		}

		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

type logFormat int

const (
	formatUnknown logFormat = iota
	// formatSink is the line-delimited JSON of the OpenTelemetry file log sink.
	formatSink
	// formatZerolog is the raw zerolog stream kept by the rotating file writer.
	formatZerolog
)

// LogFileParser is a stateful parser for a single file. The first line decides the
// file format and, for zerolog files, the precision of the unix timestamps.
type LogFileParser struct {
	format   logFormat
	tsParser func(ts int64) time.Time
}

func NewLogFileParser() *LogFileParser {
	return &LogFileParser{}
}

// ParseLine parses one line. Detection happens on the first successful decode.
func (p *LogFileParser) ParseLine(line []byte) (*LogEntry, error) {
	var raw map[string]any
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	if p.format == formatUnknown {
		if err := p.detect(raw); err != nil {
			return nil, fmt.Errorf("failed to detect log format: %w", err)
		}
	}

	if p.format == formatSink {
		e, err := o11y.DecodeFileLogEntry(line)
		if err != nil {
			return nil, err
		}
		return fromFileLogEntry(e), nil
	}
	return p.fromZerolog(raw)
}

func (p *LogFileParser) detect(raw map[string]any) error {
	if _, ok := raw["logLevel"]; ok {
		if _, ok := raw["timestamp"]; ok {
			p.format = formatSink
			return nil
		}
	}

	tsValue, ok := raw["time"]
	if !ok {
		return errors.New("neither 'timestamp' nor 'time' field found")
	}
	tsNumber, ok := tsValue.(stdjson.Number)
	if !ok {
		return fmt.Errorf("'time' field is not a number, but %T", tsValue)
	}

	switch tsStr := tsNumber.String(); len(tsStr) {
	case 10:
		p.tsParser = func(ts int64) time.Time { return time.Unix(ts, 0) }
	case 13:
		p.tsParser = func(ts int64) time.Time { return time.UnixMilli(ts) }
	case 16:
		p.tsParser = func(ts int64) time.Time { return time.UnixMicro(ts) }
	case 19:
		p.tsParser = func(ts int64) time.Time { return time.Unix(0, ts) }
	default:
		return fmt.Errorf("unexpected timestamp magnitude (digits: %d, val: %s)", len(tsStr), tsStr)
	}
	p.format = formatZerolog
	return nil
}

func fromFileLogEntry(e o11y.FileLogEntry) *LogEntry {
	entry := &LogEntry{
		Timestamp:  e.Timestamp.UTC(),
		Level:      e.LogLevel,
		Category:   e.CategoryName,
		TraceID:    e.TraceID,
		SpanID:     e.SpanID,
		Scope:      e.ScopeValues,
		Exception:  e.Exception,
		Attributes: e.Attributes,
	}
	switch {
	case e.FormattedMessage != nil:
		entry.Message = *e.FormattedMessage
	case e.Body != nil:
		entry.Message = *e.Body
	}
	if len(entry.Attributes) == 0 {
		entry.Attributes = nil
	}
	return entry
}

func (p *LogFileParser) fromZerolog(raw map[string]any) (*LogEntry, error) {
	entry := &LogEntry{Attributes: make(map[string]any)}
	var errMsg, stack string

	for key, value := range raw {
		if value == nil {
			continue
		}

		switch key {
		case "time":
			n, ok := value.(stdjson.Number)
			if !ok {
				return nil, fmt.Errorf("'time' field is not a number, but %T", value)
			}
			ts, err := n.Int64()
			if err != nil {
				return nil, err
			}
			entry.Timestamp = p.tsParser(ts).UTC()
		case "level":
			entry.Level, _ = value.(string)
		case "message":
			entry.Message, _ = value.(string)
		case o11y.FieldCategory:
			entry.Category, _ = value.(string)
		case o11y.FieldTraceID:
			entry.TraceID, _ = value.(string)
		case o11y.FieldSpanID:
			entry.SpanID, _ = value.(string)
		case o11y.FieldScope:
			if items, ok := value.([]any); ok {
				for _, it := range items {
					if s, ok := it.(string); ok && s != "" {
						entry.Scope = append(entry.Scope, s)
					}
				}
			}
		case "error":
			errMsg, _ = value.(string)
		case "stack":
			stack, _ = value.(string)
		default:
			// 其余字段原样保留
			entry.Attributes[key] = value
		}
	}

	if errMsg != "" || stack != "" {
		exc := errMsg
		if stack != "" {
			exc += "\n" + stack
		}
		entry.Exception = &exc
	}
	if len(entry.Attributes) == 0 {
		entry.Attributes = nil
	}
	return entry, nil
}
