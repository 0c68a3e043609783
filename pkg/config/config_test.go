package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/ygg"
	cfg.APIKey = "secret"
	cfg.Index.MaxNodeSize = 32

	require.NoError(t, SaveConfig(cfg, path))

	// Config files hold the API key, so they must not be world-readable.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a number"), 0600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.False(t, ConfigExists(path))
	require.NoError(t, SaveConfig(DefaultConfig(), path))
	assert.True(t, ConfigExists(path))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Bind)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Zero(t, cfg.Index.MaxNodeSize)
}
