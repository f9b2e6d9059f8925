package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf))
	l.Info("drained", "processed", 3)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "drained", parsed["msg"])
	assert.EqualValues(t, 3, parsed["processed"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithLevel("warn"))
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestPrettyLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithFormat("pretty"), WithLevel("debug"))
	l.Debug("pretty output", "session_id", "s1")

	assert.Contains(t, buf.String(), "pretty output")
	assert.Contains(t, buf.String(), "s1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNop(t *testing.T) {
	assert.False(t, Nop().Handler().Enabled(context.Background(), slog.LevelError))
}
