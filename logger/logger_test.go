package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew_ProductionWritesJSON(t *testing.T) {
	// GIVEN: A production logger at warn level
	// WHEN: Info and warn events are written
	// THEN: Only the warn event is emitted, as JSON
	var buf bytes.Buffer
	log := New(Config{Env: "production", Level: "warn", Out: &buf})

	log.Info().Msg("hidden")
	log.Warn().Str("code", "AP-FO-01").Msg("low stock")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, "AP-FO-01", event["code"])
	assert.Equal(t, "low stock", event["message"])
	assert.Contains(t, event, "time")
}

func TestNew_DevelopmentIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Env: "development", Out: &buf})

	log.Info().Msg("server starting")
	assert.Contains(t, buf.String(), "server starting")
	assert.False(t, json.Valid(buf.Bytes()))
}
