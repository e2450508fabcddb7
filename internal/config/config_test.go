package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("THUMBNAIL_SIZE", "")
	t.Setenv("POSTGRES_DSN", "")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, 400, cfg.Generate.ThumbnailSize)
	assert.Equal(t, "local", cfg.Export.Target)
	assert.Empty(t, cfg.Database.DSN)
	assert.GreaterOrEqual(t, cfg.Generate.Concurrency, 2)
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("THUMBNAIL_SIZE=256\nEXPORT_TARGET=minio\nLOG_DEBUG=true\n"), 0o600))

	t.Setenv("EXPORT_TARGET", "local")
	// Unset values are loaded from the file; t.Setenv restores them afterwards.
	t.Setenv("THUMBNAIL_SIZE", "")
	t.Setenv("LOG_DEBUG", "")
	require.NoError(t, os.Unsetenv("THUMBNAIL_SIZE"))
	require.NoError(t, os.Unsetenv("LOG_DEBUG"))

	cfg := Load(envFile)
	assert.Equal(t, 256, cfg.Generate.ThumbnailSize)
	assert.Equal(t, "local", cfg.Export.Target)
	assert.True(t, cfg.Log.Debug)
}

func TestEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("GENERATE_CONCURRENCY", "many")
	assert.Equal(t, 7, envInt("GENERATE_CONCURRENCY", 7))
}
