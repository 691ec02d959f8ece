package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	prev := L
	t.Cleanup(func() { L = prev })

	Init(Options{})
	assert.False(t, L.Enabled(t.Context(), slog.LevelError))
	assert.False(t, L.Enabled(t.Context(), slog.LevelDebug))
}

func TestInit_DisabledIgnoresLevel(t *testing.T) {
	prev := L
	t.Cleanup(func() { L = prev })

	Init(Options{Level: slog.LevelDebug})
	assert.False(t, L.Enabled(t.Context(), slog.LevelDebug))
}

func TestInit_JSON(t *testing.T) {
	prev := L
	t.Cleanup(func() { L = prev })

	var buf bytes.Buffer
	Init(Options{Enabled: true, Output: &buf, JSON: true, Level: slog.LevelDebug})
	Debug("grow", "pages", 16)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "grow", rec["msg"])
	assert.Equal(t, float64(16), rec["pages"])
}

func TestInit_LevelFilters(t *testing.T) {
	prev := L
	t.Cleanup(func() { L = prev })

	var buf bytes.Buffer
	Init(Options{Enabled: true, Output: &buf, Level: slog.LevelWarn})
	Info("dropped")
	Warn("kept", "k", "v")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
	assert.Contains(t, buf.String(), "k=v")
}
