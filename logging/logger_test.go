package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"":        LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestRunLogger_AttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	rl := NewRunLogger(base).WithRun("run-1", "manus")
	rl.LogStep(2, 10, time.Millisecond, nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "agent.step.completed", entry["msg"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "manus", entry["agent"])
	assert.EqualValues(t, 2, entry["step"])
}

func TestRunLogger_ErrorLevelOnFailure(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	NewRunLogger(base).LogLLMCall("gpt-4o-mini", time.Millisecond, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "model.call.failed", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
}

func TestRunLogger_ToolFailureIsWarning(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	NewRunLogger(base).LogToolCall("web_fetch", time.Millisecond, errors.New("timeout"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "web_fetch", entry["tool"])
}

func TestRunLogger_WithDoesNotMutateParent(t *testing.T) {
	parent := NewRunLogger(nil).With("a", 1)
	child := parent.With("b", 2)

	assert.Len(t, parent.attrs, 2)
	assert.Len(t, child.attrs, 4)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
