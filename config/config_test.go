package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pulse/errs"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3*time.Second, cfg.Stream.ReconnectDelay)
	require.Equal(t, 10, cfg.Stream.MaxReconnectAttempts)
	require.Equal(t, 20, cfg.Feeds.PageSize)
	require.Equal(t, 1000, cfg.Chart.MaxPoints)
}

func TestFromEnvOverridesValues(t *testing.T) {
	t.Setenv("PULSE_ENV", "STAGING")
	t.Setenv("PULSE_WS_URL", "wss://stream.test/ws")
	t.Setenv("PULSE_RECONNECT_DELAY", "250ms")
	t.Setenv("PULSE_MAX_RECONNECT_ATTEMPTS", "4")
	t.Setenv("PULSE_API_BASE_URL", "https://api.test")
	t.Setenv("PULSE_PAGE_SIZE", "50")
	t.Setenv("PULSE_INSPECTOR_ENABLED", "true")

	cfg := FromEnv()
	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "wss://stream.test/ws", cfg.Stream.URL)
	require.Equal(t, 250*time.Millisecond, cfg.Stream.ReconnectDelay)
	require.Equal(t, 4, cfg.Stream.MaxReconnectAttempts)
	require.Equal(t, "https://api.test", cfg.API.BaseURL)
	require.Equal(t, 50, cfg.Feeds.PageSize)
	require.True(t, cfg.Inspector.Enabled)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("PULSE_RECONNECT_DELAY", "soon")
	t.Setenv("PULSE_PAGE_SIZE", "many")

	cfg := FromEnv()
	require.Equal(t, 3*time.Second, cfg.Stream.ReconnectDelay)
	require.Equal(t, 20, cfg.Feeds.PageSize)
}

func TestLoadReadsYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.yaml")
	body := []byte(`
environment: dev
stream:
  url: ws://example.test/ws
  reconnectDelay: 1s
feeds:
  pageSize: 30
chart:
  defaultResolution: 1h
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, "ws://example.test/ws", cfg.Stream.URL)
	require.Equal(t, time.Second, cfg.Stream.ReconnectDelay)
	require.Equal(t, 10, cfg.Stream.MaxReconnectAttempts)
	require.Equal(t, 30, cfg.Feeds.PageSize)
	require.Equal(t, "1h", cfg.Chart.DefaultResolution)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, loaded, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, Default().Stream.URL, cfg.Stream.URL)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feeds:\n  pageSize: 0\n"), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestLoadDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PULSE_WS_URL=ws://dotenv.test/ws\n"), 0o600))
	t.Setenv("PULSE_WS_URL", "ws://process.test/ws")

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "ws://process.test/ws", FromEnv().Stream.URL)
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
