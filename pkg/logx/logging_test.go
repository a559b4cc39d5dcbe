package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterCapturesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Warn("clamped", String("key", "volume"), Int("floor", 0), Strings("changed", []string{"audio", "slack"}))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "clamped", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.Equal(t, "volume", m["key"])
	assert.Equal(t, []any{"audio", "slack"}, m["changed"])
	assert.Contains(t, m[zerolog.CallerFieldName], "logging_test.go")
}

func TestNewWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in, zerolog.InfoLevel))
		})
	}
}

func TestJournalFieldsKeysAreSanitized(t *testing.T) {
	msg, vars := journalFields([]byte(`{"level":"warn","message":"dropped","session-name":"build-1"}`))
	assert.Equal(t, "dropped", msg)
	assert.Equal(t, "build-1", vars["TAME_SESSION_NAME"])
	_, hasLevel := vars["TAME_LEVEL"]
	assert.False(t, hasLevel)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
