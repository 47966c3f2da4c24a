package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "local", cfg.Profile)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/state", cfg.Storage.Path)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Sync.GetDebounce())
	assert.Equal(t, 30*time.Second, cfg.Clients.Eastmoney.GetTimeout())
}

func TestLoadConfigMergesFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
environment = "production"
[server]
port = 9090
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9191
[sync]
enabled = true
user_id = "u-1"
debounce = "500ms"
`), 0644))

	cfg, err := LoadConfig(base, override)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.GetDebounce())
	assert.True(t, cfg.SyncReady())
}

func TestLoadConfigSkipsMissingFiles(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/fundwatch.toml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FUNDWATCH_PORT", "7070")
	t.Setenv("FUNDWATCH_SYNC_ENABLED", "true")
	t.Setenv("FUNDWATCH_SYNC_USER_ID", "env-user")
	t.Setenv("FUNDWATCH_DATA_PATH", "/tmp/fw")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "env-user", cfg.Sync.UserID)
	assert.Equal(t, filepath.Join("/tmp/fw", "state"), cfg.Storage.Path)
}

func TestGetDebounceInvalid(t *testing.T) {
	c := SyncConfig{Debounce: "not-a-duration"}
	assert.Equal(t, 2*time.Second, c.GetDebounce())

	c = SyncConfig{Debounce: "-5s"}
	assert.Equal(t, 2*time.Second, c.GetDebounce())
}
