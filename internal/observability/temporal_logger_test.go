package observability

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTemporalLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTemporalLogger(zerolog.New(&buf))

	logger.Info("worker started", "TaskQueue", "screening-jobs", "Attempt", 2)

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "temporal-sdk", logEntry["component"])
	assert.Equal(t, "screening-jobs", logEntry["TaskQueue"])
	assert.Equal(t, float64(2), logEntry["Attempt"])
	assert.Equal(t, "worker started", logEntry["message"])
}

func TestTemporalLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTemporalLogger(zerolog.New(&buf)).With("WorkflowID", "dedupe-1")

	logger.Warn("retrying")

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "dedupe-1", logEntry["WorkflowID"])
	assert.Equal(t, "warn", logEntry["level"])
}

func TestKeyvalToMap(t *testing.T) {
	m := keyvalToMap([]interface{}{"a", 1, 2, "b", "dangling"})
	assert.Equal(t, map[string]interface{}{"a": 1, "2": "b"}, m)
}
