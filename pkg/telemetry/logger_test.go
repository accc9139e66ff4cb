package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultsLevelToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Format: FormatJSON, Output: &buf})

	log.Debug("should not appear")
	assert.Empty(t, buf.String())

	log.Info("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestLoggerEmitsFieldsAsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	log.Info("fault resolved", "addr", uint64(0x1000), "tier", "FAST")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "fault resolved", decoded["message"])
	assert.Equal(t, "FAST", decoded["tier"])
}

func TestLoggerFlagsOddFieldCount(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Format: FormatJSON, Output: &buf})

	log.Info("bad call", "onlyKey")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "odd number of fields", decoded["log_error"])
}

func TestWithFieldProducesChildLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Format: FormatJSON, Output: &buf})
	child := log.WithField("component", "policy")

	child.Info("cycle done")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "policy", decoded["component"])
}
