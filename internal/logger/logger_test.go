package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ZapJSONOutput(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(Config{Service: "demo", Version: "1.2.3", Env: "prod", Backend: BackendZap, Output: &buf})
	slog.Info("booted", slog.String("k", "v"))

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m), buf.String())
	assert.Equal(t, "booted", m["msg"])
	assert.Equal(t, "INFO", m["level"])
	assert.Equal(t, "demo", m["service"])
	assert.Equal(t, "prod", m["env"])
	assert.Equal(t, "v", m["k"])
}

func TestInit_StdRespectsLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(Config{Level: "WARN", Output: &buf})
	slog.Info("hidden")
	slog.Warn("shown", "room", "general")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "room=general")
	assert.True(t, strings.Contains(out, "service=localchat"))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
