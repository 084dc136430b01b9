package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyStoragePath(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroMaxConcurrentPings(t *testing.T) {
	cfg := Default()
	cfg.Scanner.MaxConcurrentPings = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroRestoreBursts(t *testing.T) {
	cfg := Default()
	cfg.ArpCtl.RestoreBursts = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.API.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg.API.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyHost(t *testing.T) {
	cfg := Default()
	cfg.API.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromTOMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsnip.toml")
	contents := `
[storage]
path = "/tmp/custom.db"

[api]
host = "0.0.0.0"
port = 9999
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Storage.Path)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 9999, cfg.API.Port)
	// Unset sections still carry through from defaults.
	assert.Equal(t, 30, cfg.Scanner.MaxConcurrentPings)
}

func TestLoadRejectsInvalidConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsnip.toml")
	contents := `
[api]
port = 70000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}

func TestWriteDefaultTOMLProducesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.toml")
	require.NoError(t, WriteDefaultTOML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[storage]")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
