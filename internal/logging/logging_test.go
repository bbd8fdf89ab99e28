package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HydrophoneStreamer/internal/config"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelError, levelFromString("ERROR"))
	assert.Equal(t, slog.LevelWarn, levelFromString("warning"))
	assert.Equal(t, slog.LevelInfo, levelFromString(" info "))
	assert.Equal(t, slog.LevelDebug, levelFromString(""))
}

func TestNewFromConfigWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "streamer.log")
	logger := NewFromConfig(config.LoggingConfig{
		Level:      "info",
		Format:     "text",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})

	logger.With("component", "test").Info("fetched", "files", 2)
	logger.Debug("hidden")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"fetched"`)
	assert.Contains(t, string(raw), `"component":"test"`)
	assert.NotContains(t, string(raw), "hidden")
}
