package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	id := GetCorrelationID(ctx)
	assert.Len(t, id, 36)

	ctx = WithCorrelationID(context.Background(), "req-1")
	assert.Equal(t, "req-1", GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestLogShareDecisionMasksToken(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "debug")
	ctx := WithCorrelationID(context.Background(), "req-7")

	logger.LogShareDecision(ctx, "access", "0123456789abcdef0123456789abcdef", "expired")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "0123***cdef", entry["token"])
	assert.Equal(t, "expired", entry["reason"])
	assert.Equal(t, false, entry["allowed"])
	assert.Equal(t, "req-7", entry["correlation_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")
	logger.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
	logger.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}
