package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gw2link/internal/apperr"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gw2link.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 13338, cfg.Server.Port)
	assert.Equal(t, 5, cfg.API.Retry.Attempts)
	assert.Equal(t, 1500*time.Second, cfg.Intervals.Achievements)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := writeConfig(t, dir, `
log:
  level: debug
  format: json
api:
  timeout: 5s
  verify_tls: false
  retry:
    attempts: 3
    delay: 250ms
    multiplier: 2
server:
  port: 14000
storage:
  backend: redis
  redis:
    addr: localhost:6379
intervals:
  presence: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.False(t, cfg.API.VerifyTLS)
	assert.Equal(t, RetryConfig{Attempts: 3, Delay: 250 * time.Millisecond, Multiplier: 2}, cfg.API.Retry)
	assert.Equal(t, 14000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "gw2link:", cfg.Storage.Redis.Prefix)
	assert.Equal(t, 2*time.Second, cfg.Intervals.Presence)
	assert.Equal(t, 60*time.Second, cfg.Intervals.Discovery)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeConfig(t, dir, "server:\n  port: 14000\n")

	t.Setenv("GW2LINK_SERVER_PORT", "15000")
	t.Setenv("GW2LINK_API_TIMEOUT", "1m")
	t.Setenv("GW2LINK_API_VERIFY_TLS", "false")
	t.Setenv("GW2LINK_STORAGE_BACKEND", "memory")
	t.Setenv("GW2LINK_POSTGRES_DSN", "postgres://localhost/gw2link")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15000, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.API.Timeout)
	assert.False(t, cfg.API.VerifyTLS)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/gw2link", cfg.Storage.Postgres.DSN)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GW2LINK_API_KEY=FROM-DOTENV\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("GW2LINK_API_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "FROM-DOTENV", cfg.API.Key)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad yaml", yaml: "server: [1, 2"},
		{name: "bad port", yaml: "server:\n  port: 70000\n"},
		{name: "bad backend", yaml: "storage:\n  backend: s3\n"},
		{name: "redis without addr", yaml: "storage:\n  backend: redis\n"},
		{name: "postgres without dsn", yaml: "storage:\n  backend: postgres\n"},
		{name: "bad level", yaml: "log:\n  level: loud\n"},
		{name: "zero attempts", yaml: "api:\n  retry:\n    attempts: 0\n"},
		{name: "bad env number", env: map[string]string{"GW2LINK_SERVER_PORT": "high"}},
		{name: "bad env duration", env: map[string]string{"GW2LINK_API_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, dir, tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindConfig), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"component":"test"`)
}
