package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/optchain/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel zerolog.Level
	}{
		{"debug level", "DEBUG", zerolog.DebugLevel},
		{"info level", "INFO", zerolog.InfoLevel},
		{"warning level", "WARNING", zerolog.WarnLevel},
		{"error level", "ERROR", zerolog.ErrorLevel},
		{"critical level", "CRITICAL", zerolog.FatalLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Logging.Level = tt.level

			log := New(cfg)
			require.NotNil(t, log)
			assert.Equal(t, tt.wantLevel, log.Level())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"Warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"critical", zerolog.FatalLevel},
		{"invalid", zerolog.InfoLevel}, // Default
		{"", zerolog.InfoLevel},        // Default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "test")

	log.WithFields(map[string]interface{}{
		"symbol":      "AAPL",
		"contract_id": 265598,
	}).Info("snapshot written")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "AAPL", entry["symbol"])
	assert.Equal(t, float64(265598), entry["contract_id"])
	assert.Equal(t, "snapshot written", entry["message"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "info", entry["level"])
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "test")

	log.WithError(errors.New("gateway unreachable")).WithField("slot", "15:30").Error("slot failed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "gateway unreachable", entry["error"])
	assert.Equal(t, "slot failed", entry["message"])
	assert.Equal(t, "15:30", entry["slot"])
	assert.Equal(t, "error", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warning", "test")

	log.Info("dropped")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")

	// derived loggers keep the level
	buf.Reset()
	log.WithField("module", "qa").Info("dropped")
	assert.Empty(t, buf.String())
}

func TestNop(t *testing.T) {
	log := NewNop()
	log.WithField("k", "v").Error("nothing happens")
}
