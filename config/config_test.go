package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-ftpd/dispatcher"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":21", cfg.ListenAddr)
	assert.Equal(t, int64(256), cfg.MaxSessions)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, dispatcher.LoginImmediate, policy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad listen address", func(c *Config) { c.ListenAddr = "nonsense" }},
		{"zero max sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"negative idle timeout", func(c *Config) { c.IdleTimeout = -time.Second }},
		{"unknown login policy", func(c *Config) { c.LoginPolicy = "anonymous" }},
		{"password without users file", func(c *Config) { c.LoginPolicy = "password" }},
		{"unknown auth cache", func(c *Config) { c.AuthCache = "memcached" }},
		{"redis without address", func(c *Config) { c.AuthCache = "redis"; c.RedisAddr = "" }},
		{"memory cache without ttl", func(c *Config) { c.AuthCache = "memory"; c.AuthCacheTTL = 0 }},
		{"redis cache without ttl", func(c *Config) { c.AuthCache = "redis"; c.RedisAddr = "127.0.0.1:6379"; c.AuthCacheTTL = 0 }},
		{"negative cache ttl", func(c *Config) { c.AuthCache = "memory"; c.AuthCacheTTL = -time.Second }},
		{"multi-line system type", func(c *Config) { c.SystemType = "a\nb" }},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"missing service name", func(c *Config) { c.ServiceName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("ttl is ignored without a cache", func(t *testing.T) {
		cfg := Default()
		cfg.AuthCache = "none"
		cfg.AuthCacheTTL = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("password with users file", func(t *testing.T) {
		cfg := Default()
		cfg.LoginPolicy = "password"
		cfg.UsersFile = "users.yaml"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("overlays present keys", func(t *testing.T) {
		path := filepath.Join(dir, "ftpd.yaml")
		content := "listen_addr: 127.0.0.1:2121\nidle_timeout: 90s\nlogin_policy: password\nusers_file: /etc/ftpd/users.yaml\ndisabled_commands: [STOR]\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg := Default()
		require.NoError(t, LoadFile(path, cfg))
		assert.Equal(t, "127.0.0.1:2121", cfg.ListenAddr)
		assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
		assert.Equal(t, "password", cfg.LoginPolicy)
		assert.Equal(t, []string{"STOR"}, cfg.DisabledCommands)
		assert.Equal(t, int64(DefaultMaxSessions), cfg.MaxSessions)
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		cfg := Default()
		require.NoError(t, LoadFile(path, cfg))
		assert.Equal(t, Default(), cfg)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		path := filepath.Join(dir, "typo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("listen_adr: :2121\n"), 0o600))
		assert.Error(t, LoadFile(path, Default()))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, LoadFile(filepath.Join(dir, "nope.yaml"), Default()))
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FTPD_LISTEN_ADDR", "0.0.0.0:2121")
	t.Setenv("FTPD_MAX_SESSIONS", "8")
	t.Setenv("FTPD_IDLE_TIMEOUT", "45s")
	t.Setenv("FTPD_AUTH_CACHE", "redis")
	t.Setenv("FTPD_REDIS_DB", "3")
	t.Setenv("FTPD_DISABLED_COMMANDS", "stor, pasv,,")

	cfg := Default()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, "0.0.0.0:2121", cfg.ListenAddr)
	assert.Equal(t, int64(8), cfg.MaxSessions)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "redis", cfg.AuthCache)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"stor", "pasv"}, cfg.DisabledCommands)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)

	t.Run("invalid numbers are reported", func(t *testing.T) {
		t.Setenv("FTPD_MAX_SESSIONS", "many")
		t.Setenv("FTPD_WRITE_TIMEOUT", "soon")
		err := LoadFromEnv(Default())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FTPD_MAX_SESSIONS")
		assert.Contains(t, err.Error(), "FTPD_WRITE_TIMEOUT")
	})
}
