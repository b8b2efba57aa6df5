package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oy3o/contactd/o11y"
)

const traceA = "4bf92f3577b34da6a3ce929d0e0e4736"

func writeLogFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	base := time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC)

	// 原始 zerolog 文件
	var raw strings.Builder
	for i, line := range []map[string]any{
		{"level": "info", "message": "Contact created successfully: 1", "category": "contactd.ContactService", "trace_id": traceA},
		{"level": "error", "message": "Error creating contact", "category": "contactd.ContactService", "error": "contact: validation failed"},
		{"level": "debug", "message": "Found log files", "count": 2},
	} {
		line["time"] = base.Add(time.Duration(i*2) * time.Second).UnixMilli()
		raw.Write(createLogLine(line))
		raw.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json"), []byte(raw.String()), 0o644))

	// 文件 sink 的输出
	var sink strings.Builder
	for i, e := range []o11y.FileLogEntry{
		{CategoryName: "contactd.TagService", LogLevel: "warn", FormattedMessage: ptr("Tag name already exists: vip"), TraceID: traceA},
		{CategoryName: "contactd.GroupService", LogLevel: "info", Body: ptr("Group created successfully")},
	} {
		e.Timestamp = base.Add(time.Duration(i*2+1) * time.Second)
		sink.Write(createLogLine(e))
		sink.WriteByte('\n')
	}
	sink.WriteString("{broken\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "otel.json"), []byte(sink.String()), 0o644))
	return dir
}

func TestCollectLogs(t *testing.T) {
	dir := writeLogFixtures(t)

	var diag bytes.Buffer
	summary, err := collectLogs(context.Background(), zerolog.New(&diag), logsOptions{
		pattern: filepath.Join(dir, "*.json"),
		batch:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	require.Len(t, summary.Matched, 5)
	// 跨文件按时间排序
	var messages []string
	for _, e := range summary.Matched {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{
		"Contact created successfully: 1",
		"Tag name already exists: vip",
		"Error creating contact",
		"Group created successfully",
		"Found log files",
	}, messages)

	assert.Equal(t, map[string]int{"info": 2, "warn": 1, "error": 1, "debug": 1}, summary.ByLevel)
	assert.Equal(t, 2, summary.ByCategory["contactd.ContactService"])
	assert.Equal(t, 1, summary.Exceptions)
	assert.Len(t, summary.Traces, 1)
	assert.Contains(t, diag.String(), "Skipping unparsable line")
}

func TestCollectLogs_Filter(t *testing.T) {
	dir := writeLogFixtures(t)
	pattern := filepath.Join(dir, "*.json")

	tests := []struct {
		name   string
		filter LogFilter
		want   int
	}{
		{"level is case insensitive", LogFilter{Level: "INFO"}, 2},
		{"trace", LogFilter{TraceID: traceA}, 2},
		{"category prefix", LogFilter{Category: "contactd.Contact"}, 2},
		{"combined", LogFilter{Level: "warn", TraceID: traceA}, 1},
		{"nothing", LogFilter{Category: "other"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := collectLogs(context.Background(), zerolog.Nop(), logsOptions{pattern: pattern, filter: tt.filter, batch: 100})
			require.NoError(t, err)
			assert.Equal(t, 5, summary.Total)
			assert.Len(t, summary.Matched, tt.want)
		})
	}
}

func TestCollectLogs_NoFiles(t *testing.T) {
	var diag bytes.Buffer
	summary, err := collectLogs(context.Background(), zerolog.New(&diag), logsOptions{pattern: filepath.Join(t.TempDir(), "*.json")})
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Contains(t, diag.String(), "No log files found")

	_, err = collectLogs(context.Background(), zerolog.Nop(), logsOptions{pattern: "[invalid"})
	require.Error(t, err)
}

func TestPrintLogs(t *testing.T) {
	exc := "contact: validation failed\nmain.go:10"
	s := newLogSummary()
	base := time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC)
	var batch []*LogEntry
	for i := range 3 {
		batch = append(batch, &LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Level:     "info",
			Category:  "contactd.ContactService",
			Message:   fmt.Sprintf("message %d", i),
		})
	}
	batch[2].Level = "error"
	batch[2].Exception = &exc
	batch[2].TraceID = traceA
	s.add(batch, LogFilter{})

	var out bytes.Buffer
	printLogs(&out, s, logsOptions{limit: 2})
	text := out.String()

	assert.NotContains(t, text, "message 0")
	assert.Contains(t, text, "INFO  contactd.ContactService message 1")
	assert.Contains(t, text, "ERROR contactd.ContactService message 2 trace_id="+traceA)
	assert.Contains(t, text, "\n    main.go:10\n")
	assert.Contains(t, text, "3 entries read, 3 matched, 1 with exceptions, 1 traces")
	assert.Contains(t, text, "level error")

	out.Reset()
	printLogs(&out, s, logsOptions{limit: 2, quiet: true})
	assert.NotContains(t, out.String(), "message")
	assert.Contains(t, out.String(), "3 entries read")
}
