package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, level)
		})
	}
}

func TestStructuredLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("cache").
		With("root", "/site").
		Warn(context.Background(), errors.New("bad section"), "discarding section", "section", "entries")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "discarding section", record["msg"])
	assert.Equal(t, "cache", record["component"])
	assert.Equal(t, "bad section", record["error"])
	assert.Equal(t, "/site", record["root"])
	assert.Equal(t, "entries", record["section"])
}

func TestStructuredLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Format: "text", Output: &buf})

	logger.Debug(context.Background(), "hidden debug")
	logger.Info(context.Background(), "hidden info")
	logger.Error(context.Background(), nil, "visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible error")
}

func TestStructuredLoggerDropsOddFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "text", Output: &buf})

	logger.Info(context.Background(), "odd", "key", "value", "dangling")

	out := buf.String()
	assert.Contains(t, out, "key=value")
	assert.False(t, strings.Contains(out, "dangling"))
}

func TestNopLogger(t *testing.T) {
	logger := OrNop(nil)
	assert.NotPanics(t, func() {
		logger.With("a", 1).WithComponent("x").Error(context.Background(), errors.New("x"), "ignored")
	})
}

func TestOperationEnd(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})

	StartOperation(logger, "rebuild").EndWithError(context.Background(), errors.New("boom"), "rebuild failed", "trigger", "a.md")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "rebuild failed", record["msg"])
	assert.Equal(t, "rebuild", record["operation"])
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, "a.md", record["trigger"])
	assert.Contains(t, record, "duration_ms")

	buf.Reset()
	StartOperation(logger, "build").End(context.Background(), "built", 3)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.EqualValues(t, 3, record["built"])
}
