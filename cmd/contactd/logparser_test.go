package main

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oy3o/contactd/o11y"
)

// TestLogFileParser_ParseLine 覆盖 zerolog 原始文件的解析逻辑
func TestLogFileParser_ParseLine(t *testing.T) {
	baseTime := time.Date(2025, 11, 18, 10, 30, 0, 0, time.UTC)
	expectedBase := &LogEntry{
		Timestamp:  baseTime,
		Level:      "info",
		Category:   "contactd.ContactService",
		Message:    "Contact created successfully: 42",
		TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:     "00f067aa0ba902b7",
		Scope:      []string{"ContactService.Create"},
		Attributes: map[string]any{"contact.id": "42"},
	}
	fields := func(ts int64) map[string]any {
		return map[string]any{
			"time":             ts,
			"level":            "info",
			"message":          "Contact created successfully: 42",
			o11y.FieldCategory: "contactd.ContactService",
			o11y.FieldTraceID:  "4bf92f3577b34da6a3ce929d0e0e4736",
			o11y.FieldSpanID:   "00f067aa0ba902b7",
			o11y.FieldScope:    []string{"ContactService.Create"},
			"contact.id":       "42",
		}
	}

	testCases := []struct {
		name                string
		logLine             []byte
		expected            *LogEntry
		expectedErrContains string
	}{
		{
			name:     "Should_parse_full_log_with_seconds_precision",
			logLine:  createLogLine(fields(baseTime.Unix())),
			expected: expectedBase,
		},
		{
			name:     "Should_parse_log_with_milliseconds_precision",
			logLine:  createLogLine(fields(baseTime.UnixMilli())),
			expected: expectedBase,
		},
		{
			name:     "Should_parse_log_with_microseconds_precision",
			logLine:  createLogLine(fields(baseTime.UnixMicro())),
			expected: expectedBase,
		},
		{
			name:     "Should_parse_log_with_nanoseconds_precision",
			logLine:  createLogLine(fields(baseTime.UnixNano())),
			expected: expectedBase,
		},
		{
			name: "Should_handle_missing_optional_fields_and_empty_attributes",
			logLine: createLogLine(map[string]any{
				"time":    baseTime.Unix(),
				"level":   "warn",
				"message": "A simple warning",
				"scope":   []string{"", ""},
			}),
			expected: &LogEntry{
				Timestamp: baseTime,
				Level:     "warn",
				Message:   "A simple warning",
			},
		},
		{
			name: "Should_join_error_and_stack_into_exception",
			logLine: createLogLine(map[string]any{
				"time":    baseTime.Unix(),
				"level":   "error",
				"message": "Error creating contact",
				"error":   "contact: validation failed",
				"stack":   "main.go:10",
				"count":   3,
			}),
			expected: &LogEntry{
				Timestamp:  baseTime,
				Level:      "error",
				Message:    "Error creating contact",
				Exception:  ptr("contact: validation failed\nmain.go:10"),
				Attributes: map[string]any{"count": stdjson.Number("3")},
			},
		},
		{
			name: "Should_parse_file_sink_line",
			logLine: createLogLine(o11y.FileLogEntry{
				Timestamp:        baseTime,
				TraceID:          "4bf92f3577b34da6a3ce929d0e0e4736",
				SpanID:           "00f067aa0ba902b7",
				TraceFlags:       "01",
				CategoryName:     "contactd.TagService",
				LogLevel:         "Warning",
				FormattedMessage: ptr("Tag name already exists: vip"),
				Body:             ptr("Tag name already exists: {name}"),
				ScopeValues:      []string{"TagService.Create"},
				Attributes:       map[string]any{},
			}),
			expected: &LogEntry{
				Timestamp: baseTime,
				Level:     "Warning",
				Category:  "contactd.TagService",
				Message:   "Tag name already exists: vip",
				TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
				SpanID:    "00f067aa0ba902b7",
				Scope:     []string{"TagService.Create"},
			},
		},
		{
			name:                "Should_return_error_for_malformed_json",
			logLine:             []byte(`{"time": 123, "message": "hello"`), // 缺少右括号
			expectedErrContains: "failed to decode json",
		},
		{
			name:                "Should_return_error_if_time_field_is_missing",
			logLine:             createLogLine(map[string]any{"message": "hello"}),
			expectedErrContains: "failed to detect log format",
		},
		{
			name:                "Should_return_error_for_non_numeric_time",
			logLine:             createLogLine(map[string]any{"time": "2025-11-18T10:30:00Z"}),
			expectedErrContains: "is not a number",
		},
		{
			name:                "Should_return_error_for_unknown_timestamp_precision",
			logLine:             createLogLine(map[string]any{"time": 12345, "message": "hello"}),
			expectedErrContains: "unexpected timestamp magnitude",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// 每个用例一个新解析器，保证状态隔离
			entry, err := NewLogFileParser().ParseLine(tc.logLine)

			if tc.expectedErrContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErrContains)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, entry)

			expected := *tc.expected
			assert.True(t, expected.Timestamp.Equal(entry.Timestamp), "Timestamp mismatch")
			expected.Timestamp = time.Time{}
			entry.Timestamp = time.Time{}
			assert.Equal(t, &expected, entry)
		})
	}
}

func TestLogFileParser_KeepsDetectedPrecision(t *testing.T) {
	parser := NewLogFileParser()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := parser.ParseLine(createLogLine(map[string]any{"time": first.UnixMilli(), "level": "info"}))
	require.NoError(t, err)

	// 同一文件内精度只检测一次
	entry, err := parser.ParseLine(createLogLine(map[string]any{"time": first.Add(time.Second).UnixMilli(), "level": "info"}))
	require.NoError(t, err)
	assert.True(t, first.Add(time.Second).Equal(entry.Timestamp))
}

// TestParseLogFile 是对文件级解析函数的集成测试
func TestParseLogFile(t *testing.T) {
	now := time.Now()
	logContent := fmt.Sprintf(`{"time": %d, "level": "info", "message": "First line"}

not json at all
{"time": %d, "level": "error", "message": "Second line", "error": "file not found"}
`, now.UnixMilli(), now.Add(time.Second).UnixMilli())

	logFilePath := filepath.Join(t.TempDir(), "integration.log")
	require.NoError(t, os.WriteFile(logFilePath, []byte(logContent), 0o644))

	entriesChan := make(chan *LogEntry, 5)
	var lineErrors []error
	err := ParseLogFile(context.Background(), logFilePath, entriesChan, func(err error) {
		lineErrors = append(lineErrors, err)
	})
	require.NoError(t, err)
	close(entriesChan)

	var results []*LogEntry
	for entry := range entriesChan {
		results = append(results, entry)
	}

	require.Len(t, results, 2)
	assert.Equal(t, "info", results[0].Level)
	assert.Equal(t, "First line", results[0].Message)
	assert.Equal(t, "error", results[1].Level)
	assert.Equal(t, "Second line", results[1].Message)
	require.NotNil(t, results[1].Exception)
	assert.Equal(t, "file not found", *results[1].Exception)

	require.Len(t, lineErrors, 1)
	assert.Contains(t, lineErrors[0].Error(), "integration.log:3")
}

func TestParseLogFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		err := ParseLogFile(context.Background(), filepath.Join(t.TempDir(), "nope.log"), make(chan *LogEntry), func(error) {})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open")
	})

	t.Run("cancelled while blocked on send", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blocked.log")
		require.NoError(t, os.WriteFile(path, createLogLine(map[string]any{"time": time.Now().Unix()}), 0o644))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := ParseLogFile(ctx, path, make(chan *LogEntry), func(error) {})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// createLogLine 将任意值编码为一行 JSON
func createLogLine(data any) []byte {
	bytes, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("test setup failed: could not marshal log line: %v", err))
	}
	return bytes
}

func ptr[T any](v T) *T { return &v }
