package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"tenant_id: band-a\nbackend_addr: ws://backend:9000/sync\npoll_interval: 2s\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "band-a", cfg.TenantID)
	assert.Equal(t, "ws://backend:9000/sync", cfg.BackendAddr)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "info", cfg.LogLevel, "unset keys keep defaults")
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: -1s\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.BackendAddr = ""
	assert.Error(t, cfg.Validate())
}
