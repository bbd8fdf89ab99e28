package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HydrophoneStreamer/internal/config"
)

func TestSetTokenCreatesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, setToken(path, "abc-123"))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", env[config.TokenEnv])
}

func TestSetTokenKeepsOtherEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nONC_TOKEN=old\n"), 0o600))

	require.NoError(t, setToken(path, "new"))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "new", env[config.TokenEnv])
	assert.Equal(t, "debug", env["LOG_LEVEL"])
}
