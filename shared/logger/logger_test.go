package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, config Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	config.writer = output

	logger, err := New(&config)
	require.NoError(t, err)
	require.NotNil(t, logger)
	return logger, output
}

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		wantLevel  string
		wantLogged int
	}{
		{name: "debug keeps everything", level: "debug", wantLevel: "DEBUG", wantLogged: 4},
		{name: "info drops debug", level: "info", wantLevel: "INFO", wantLogged: 3},
		{name: "warn drops info", level: "warn", wantLevel: "WARN", wantLogged: 2},
		{name: "error keeps errors only", level: "error", wantLevel: "ERROR", wantLogged: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, output := newBufferLogger(t, Config{
				Level:  tt.level,
				Format: "json",
			})

			logger.Debug("debug line")
			logger.Info("info line")
			logger.Warn("warn line")
			logger.Error("error line")

			lines := strings.Split(strings.TrimSpace(output.String()), "\n")
			require.Len(t, lines, tt.wantLogged)

			first := decodeLine(t, lines[0])
			assert.Equal(t, tt.wantLevel, first["level"])
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json"})

	logger.Info("structured entry",
		slog.String("string_val", "test"),
		slog.Int("int_val", 42),
		slog.Bool("bool_val", true),
		slog.Float64("float_val", 3.14),
	)

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	assert.Equal(t, "structured entry", entry["msg"])
	assert.Equal(t, "test", entry["string_val"])
	assert.Equal(t, float64(42), entry["int_val"]) // JSON numbers are float64
	assert.Equal(t, true, entry["bool_val"])
	assert.Equal(t, 3.14, entry["float_val"])
	assert.Contains(t, entry, "time")
}

func TestNew_ConsoleFormat(t *testing.T) {
	logger, output := newBufferLogger(t, Config{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.RFC3339,
	})

	logger.Info("console entry")

	// tint renders the level as "INF"
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "console entry")
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "logfmt"})

	logger.Info("fallback entry")

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	assert.Equal(t, "fallback entry", entry["msg"])
}

func TestNew_SourceLocation(t *testing.T) {
	logger, output := newBufferLogger(t, Config{
		Level:        "info",
		Format:       "json",
		EnableSource: true,
	})

	logger.Info("entry with source")

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	require.Contains(t, entry, "source")
	source := entry["source"].(map[string]interface{})
	assert.Contains(t, source, "function")
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("first entry")

	// A second logger on the same path appends rather than truncates.
	logger, err = New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("second entry")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "first entry", decodeLine(t, lines[0])["msg"])
	assert.Equal(t, "second entry", decodeLine(t, lines[1])["msg"])
}

func TestNew_FileOutputOpenError(t *testing.T) {
	// A directory is not a writable log target.
	logger, err := New(&Config{Level: "info", Format: "json", Output: t.TempDir()})

	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		// parseLevel is case-sensitive; anything else defaults to info.
		{level: "DEBUG", expected: slog.LevelInfo},
		{level: "invalid", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json"})

	logger.WithGroup("queue").Info("grouped entry", slog.String("id", "op-1"))

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	require.Contains(t, entry, "queue")
	group := entry["queue"].(map[string]interface{})
	assert.Equal(t, "op-1", group["id"])
}

func TestLogger_WithAttrs(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json"})

	logger.WithAttrs(
		slog.String("component", "scaler"),
		slog.Int("workers", 4),
	).Info("attributed entry")

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	assert.Equal(t, "scaler", entry["component"])
	assert.Equal(t, float64(4), entry["workers"])
}

func TestLogger_With(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json"})

	logger.With(slog.String("service", "queue"), slog.Int("version", 1)).Info("contextual entry")

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	assert.Equal(t, "queue", entry["service"])
	assert.Equal(t, float64(1), entry["version"])
	assert.Equal(t, "contextual entry", entry["msg"])
}
