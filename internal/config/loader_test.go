package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	def := Default()
	assert.Equal(t, def.Addr, cfg.Addr)
	assert.Equal(t, def.IdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, def.JWTTTL, cfg.JWTTTL)
	assert.Equal(t, def.MaxMessageBytes, cfg.MaxMessageBytes)
	assert.Empty(t, cfg.AllowedOrigins)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "idle_timeout: 5m0s")
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
addr: ":9000"
idle_timeout: 30s
history_limit: 20
allowed_origins:
  - example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("BOUNDLESS_HISTORY_LIMIT", "10")
	t.Setenv("BOUNDLESS_JWT_SECRET", "from-env")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 10, cfg.HistoryLimit)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, []string{"example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, Default().SendQueueSize, cfg.SendQueueSize)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("send_queue_size: 0\n"), 0o600))

	_, _, err := Load(nil, path)
	require.ErrorContains(t, err, "send_queue_size")
}

func TestResolveConfigPathFromEnv(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv(envConfigDefaultPath, dir)

	assert.Equal(t, filepath.Join(dir, defaultConfigName), resolveConfigPath(""))
	assert.Equal(t, "explicit.yaml", resolveConfigPath("explicit.yaml"))
}
