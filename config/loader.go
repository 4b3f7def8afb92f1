package config

// loader.go - configuration loading from a YAML file and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/ftpd)
//   2. Environment variables
//   3. YAML file
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value; unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the FTPD_ prefix. Durations use Go syntax
// ("90s", "5m").

// LoadFromEnv overlays environment variables onto cfg. Only non-empty env
// vars override the existing value. Call it before CLI flag parsing so that
// flags take precedence.
func LoadFromEnv(cfg *Config) error {
	var errs []error

	envString("LISTEN_ADDR", &cfg.ListenAddr)
	errs = append(errs,
		envInt64("MAX_SESSIONS", &cfg.MaxSessions),
		envDuration("IDLE_TIMEOUT", &cfg.IdleTimeout),
		envDuration("WRITE_TIMEOUT", &cfg.WriteTimeout),
		envInt("MAX_LINE_LENGTH", &cfg.MaxLineLength),
	)

	// Login
	envString("LOGIN_POLICY", &cfg.LoginPolicy)
	envString("USERS_FILE", &cfg.UsersFile)
	envString("AUTH_CACHE", &cfg.AuthCache)
	envString("AUTH_CACHE_SECRET", &cfg.AuthCacheSecret)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	errs = append(errs,
		envDuration("AUTH_CACHE_TTL", &cfg.AuthCacheTTL),
		envInt("REDIS_DB", &cfg.RedisDB),
	)

	// Commands
	envString("ROOT_DIR", &cfg.RootDir)
	envString("SYSTEM_TYPE", &cfg.SystemType)
	if v := os.Getenv(EnvPrefix + "DISABLED_COMMANDS"); v != "" {
		cfg.DisabledCommands = splitList(v)
	}

	// Logging
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_FORMAT", &cfg.LogFormat)
	envString("LOG_DIR", &cfg.LogDir)
	envString("SERVICE_NAME", &cfg.ServiceName)

	return errors.Join(errs...)
}

// ── helpers ──────────────────────────────────────────────────────────

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
