package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger := NewLogger(Options{Level: "debug", Dir: dir, File: "test.log"})
	logger.Info("cycle settled", slog.String("cycle_id", "abc"))

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"cycle settled"`)
	assert.Contains(t, string(data), `"cycle_id":"abc"`)
}
