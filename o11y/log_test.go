package o11y

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// captureStdout 重定向 os.Stdout，返回读取已写内容的函数
func captureStdout(t *testing.T) func() string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = oldStdout })

	return func() string {
		w.Close()
		os.Stdout = oldStdout
		out, _ := io.ReadAll(r)
		return string(out)
	}
}

// captureDiagnostics swaps the pipeline diagnostics logger for a buffer.
func captureDiagnostics(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := diagnostics
	diagnostics = zerolog.New(&buf)
	t.Cleanup(func() { diagnostics = old })
	return &buf
}

// TestSetupLogging_Writers 测试日志写入目标的各种配置组合
func TestSetupLogging_Writers(t *testing.T) {
	testCases := []struct {
		name          string
		log           LogConfig
		level         zerolog.Level
		message       string
		assertConsole func(t *testing.T, consoleOutput string)
		assertFile    func(t *testing.T, fileContent string)
	}{
		{
			name:    "Should_log_to_console_only_in_human-readable_format",
			log:     LogConfig{Level: "info", EnableConsole: true},
			level:   zerolog.InfoLevel,
			message: "hello console",
			assertConsole: func(t *testing.T, output string) {
				assert.Contains(t, output, "INF") // ConsoleWriter 的标志
				assert.Contains(t, output, "hello console")
				assert.NotContains(t, output, "{") // 不应该是 JSON 格式
			},
			assertFile: func(t *testing.T, content string) {
				assert.Empty(t, content, "File should not be written to")
			},
		},
		{
			name:    "Should_log_to_both_console_and_file",
			log:     LogConfig{Level: "warn", EnableConsole: true, EnableFile: true},
			level:   zerolog.WarnLevel,
			message: "disk space low",
			assertConsole: func(t *testing.T, output string) {
				assert.Contains(t, output, "WRN")
				assert.Contains(t, output, "disk space low")
			},
			assertFile: func(t *testing.T, content string) {
				assert.Contains(t, content, `"level":"warn"`)
				assert.Contains(t, content, `"message":"disk space low"`)
			},
		},
		{
			name:    "Should_default_to_console_when_nothing_else_is_enabled",
			log:     LogConfig{Level: "info"},
			level:   zerolog.InfoLevel,
			message: "fallback",
			assertConsole: func(t *testing.T, output string) {
				assert.Contains(t, output, "fallback")
			},
			assertFile: func(t *testing.T, content string) {
				assert.Empty(t, content)
			},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			// 1. 准备临时文件用于日志写入
			if tt.log.EnableFile {
				tt.log.FileRotation.Filename = filepath.Join(t.TempDir(), "test.log")
			}

			// 2. 捕获控制台输出; ConsoleWriter 在构建时绑定 os.Stdout
			readStdout := captureStdout(t)

			cfg := Config{Enabled: true, Log: tt.log}
			logger, _, shutdown, err := setupLogging(context.Background(), cfg, resource.Empty(), newStubSinks().factory())
			require.NoError(t, err)

			logger.WithLevel(tt.level).Msg(tt.message)

			// 在读取前，先调用 shutdown 确保所有缓冲都已写入文件
			require.NoError(t, shutdown(context.Background()))
			consoleOutput := readStdout()

			var fileContent string
			if tt.log.EnableFile {
				fileBytes, err := os.ReadFile(tt.log.FileRotation.Filename)
				require.NoError(t, err)
				fileContent = string(fileBytes)
			}

			tt.assertConsole(t, consoleOutput)
			tt.assertFile(t, fileContent)
		})
	}
}

func TestSetupLogging_BridgesToLogSinks(t *testing.T) {
	sinks := newStubSinks()
	readStdout := captureStdout(t)

	cfg := Config{
		Enabled:              true,
		InstrumentationScope: "contactd.o11y",
		Log:                  LogConfig{Level: "debug"},
		Exporter:             ExporterConfig{Console: ConsoleExporterConfig{Enabled: true}},
	}
	logger, lp, shutdown, err := setupLogging(context.Background(), cfg, resource.Empty(), sinks.factory())
	require.NoError(t, err)
	require.NotNil(t, lp)

	logger.Info().Str(FieldCategory, "contacts.ContactService").Msg("Contact created")
	require.NoError(t, shutdown(context.Background()))

	assert.Empty(t, readStdout(), "the developer console is off when a log sink exists")
	assert.Equal(t, 1, sinks.count("console.log"))
	assert.Zero(t, sinks.count("otlp.log"))
	assert.Zero(t, sinks.count("file.log"))

	records := sinks.consoleLog.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Contact created", records[0].Body().AsString())
	assert.Equal(t, "contacts.ContactService", records[0].InstrumentationScope().Name)
}

// TestSetupLogging_Level 单独测试日志级别的设置是否正确
func TestSetupLogging_Level(t *testing.T) {
	testCases := []struct {
		name          string
		levelStr      string
		expectedLevel zerolog.Level
		expectWarning bool
	}{
		{"Should_set_debug_level", "debug", zerolog.DebugLevel, false},
		{"Should_set_info_level", "info", zerolog.InfoLevel, false},
		{"Should_set_warn_level", "warn", zerolog.WarnLevel, false},
		{"Should_set_error_level", "error", zerolog.ErrorLevel, false},
		{"Should_default_to_info_for_invalid_level", "invalid_level", zerolog.InfoLevel, true},
		{"Should_default_to_info_for_empty_level", "", zerolog.InfoLevel, false},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			logBuffer := captureDiagnostics(t)
			readStdout := captureStdout(t)

			cfg := Config{Enabled: true, Log: LogConfig{Level: tt.levelStr}}
			logger, _, shutdown, err := setupLogging(context.Background(), cfg, resource.Empty(), newStubSinks().factory())
			require.NoError(t, err)
			require.NoError(t, shutdown(context.Background()))
			readStdout()

			assert.Equal(t, tt.expectedLevel, logger.GetLevel())
			assert.Equal(t, zerolog.TraceLevel, zerolog.GlobalLevel(), "the global level is left alone")
			if tt.expectWarning {
				assert.Contains(t, logBuffer.String(), "Invalid log level")
			} else {
				assert.Empty(t, logBuffer.String())
			}
		})
	}
}

// TestSetupLogging_LevelKeepsDiagnostics 确认应用日志级别不会屏蔽导出失败的诊断输出
func TestSetupLogging_LevelKeepsDiagnostics(t *testing.T) {
	diag := captureDiagnostics(t)
	readStdout := captureStdout(t)

	cfg := Config{Enabled: true, Log: LogConfig{Level: "fatal"}}
	logger, _, shutdown, err := setupLogging(context.Background(), cfg, resource.Empty(), newStubSinks().factory())
	require.NoError(t, err)
	logger.Error().Msg("muted")
	require.NoError(t, shutdown(context.Background()))
	assert.NotContains(t, readStdout(), "muted")

	path := filepath.Join(t.TempDir(), "logs.json")
	exp, err := NewFileLogExporter(path)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(path, 0o755))

	require.Error(t, exp.Export(context.Background(), []sdklog.Record{newTestRecord("lost")}))
	assert.Contains(t, diag.String(), "Error exporting logs to file")
}

func TestPanicHook_AttachesFilteredStack(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(PanicHook(nil))

	logger.WithLevel(zerolog.PanicLevel).Msg("boom")
	logger.Error().Msg("not a panic")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"stack":"goroutine`)
	assert.Contains(t, string(lines[0]), "TestPanicHook_AttachesFilteredStack")
	assert.NotContains(t, string(lines[0]), "github.com/rs/zerolog.(*Event)")
	assert.NotContains(t, string(lines[1]), `"stack"`)
}

func TestFilterStackTrace(t *testing.T) {
	stack := "goroutine 1 [running]:\n" +
		"runtime/debug.Stack()\n" +
		"\t/usr/local/go/src/runtime/debug/stack.go:26 +0x5e\n" +
		"github.com/rs/zerolog.(*Event).msg(0xc000)\n" +
		"\t/go/pkg/mod/github.com/rs/zerolog/event.go:150 +0x2b\n" +
		"main.handleContact()\n" +
		"\t/src/contacts/service.go:42 +0x1d\n"

	filtered := FilterStackTrace(stack, nil)
	assert.Equal(t, "goroutine 1 [running]:\nmain.handleContact()\n/src/contacts/service.go:42 +0x1d\n", filtered)

	// A custom ignore list replaces the default one.
	custom := FilterStackTrace(stack, []string{"main."})
	assert.Contains(t, custom, "runtime/debug.Stack()")
	assert.NotContains(t, custom, "main.handleContact")

	assert.Equal(t, "single line", FilterStackTrace("single line", nil))
}
