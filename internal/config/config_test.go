package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, "1323", cfg.App.Port)
	require.True(t, cfg.Development())
	require.Equal(t, int64(2500), cfg.Media.MinDurationMs)
	require.Equal(t, int64(3500), cfg.Media.MaxDurationMs)
	require.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}, cfg.RetryDelays)
	require.Equal(t, 5*time.Minute, cfg.PlaybackTTL)
	require.Equal(t, "log", cfg.Events.Driver)
	require.Equal(t, filepath.Join("storage", "data", "scratch"), cfg.Media.ScratchDir)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
app:
  env: production
  port: "8080"
store:
  driver: memory
streaming:
  retry_delays_ms: [10, 20]
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	t.Setenv("OBJECT_STORE_ACCESS_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.False(t, cfg.Development())
	require.Equal(t, "8080", cfg.App.Port)
	require.Equal(t, "memory", cfg.Store.Driver)
	require.Equal(t, "secret", cfg.ObjectStore.AccessKey)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, cfg.RetryDelays)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("WILDFIRE_TEST_KEY", "set")
	require.Equal(t, "set", GetEnv("WILDFIRE_TEST_KEY", "fallback"))
	require.Equal(t, "fallback", GetEnv("WILDFIRE_TEST_UNSET", "fallback"))
}
