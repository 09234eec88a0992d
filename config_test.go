package canopy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveConfig_ThenLoadConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".canopy", "config.toml")
	cfg := DefaultConfig()
	cfg.Core.DefaultResultLimit = 32
	cfg.Ignore.Patterns = append(cfg.Ignore.Patterns, "vendor")

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfig_MalformedFileReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not valid toml [[["), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestTTLDuration_ParsesConfiguredValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Core.TTL = "1h30m"
	assert.Equal(t, 90*time.Minute, cfg.TTLDuration())
}

func TestTTLDuration_FallsBackTo24HoursOnMalformedValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Core.TTL = "not-a-duration"
	assert.Equal(t, 24*time.Hour, cfg.TTLDuration())
}
