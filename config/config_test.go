package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":6999", cfg.ControlAddr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "songstream.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 7100
idle_timeout = "5m"

[streaming]
base_port = 8000
max_bytes_per_second = 176400

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/0"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, 8000, cfg.Streaming.BasePort)
	assert.Equal(t, 176400, cfg.Streaming.MaxBytesPerSecond)
	assert.Equal(t, "redis", cfg.Cache.Backend)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "songstream.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7100\n"), 0644))

	t.Setenv("SONGSTREAM_SERVER_PORT", "7200")
	t.Setenv("SONGSTREAM_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7200, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Validation(t *testing.T) {
	tests := map[string]string{
		"unknown cache backend": "[cache]\nbackend = \"memcached\"\n",
		"redis without url":     "[cache]\nbackend = \"redis\"\n",
		"base port zero":        "[streaming]\nbase_port = 0\n",
		"bad log level":         "[logging]\nlevel = \"loud\"\n",
		"tiny line limit":       "[server]\nmax_line_length = 8\n",
		"zero drain timeout":    "[streaming]\ndrain_timeout = \"0s\"\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "songstream.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "songstream.toml")

	require.NoError(t, WriteDefault(path, false))
	assert.ErrorIs(t, WriteDefault(path, false), ErrConfigExists)
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
