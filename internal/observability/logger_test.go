package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	logger.Info("user_registered", map[string]any{"user_id": "u-1"})

	line := logLine(t, &buf)
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "user_registered", line["message"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.NotEmpty(t, line["timestamp"])
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	logger.Warn("slow_query", nil)
	line := logLine(t, &buf)
	assert.Equal(t, "warn", line["level"])

	buf.Reset()
	logger.Error("query_failed", nil)
	line = logLine(t, &buf)
	assert.Equal(t, "error", line["level"])
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf).With(map[string]any{"component": "auth"})

	logger.Info("login", map[string]any{"user_id": "u-1"})

	line := logLine(t, &buf)
	assert.Equal(t, "auth", line["component"])
	assert.Equal(t, "u-1", line["user_id"])

	// Per-call fields win over static ones.
	buf.Reset()
	logger.Info("login", map[string]any{"component": "override"})
	line = logLine(t, &buf)
	assert.Equal(t, "override", line["component"])
}
