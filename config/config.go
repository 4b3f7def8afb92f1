// Package config defines the runtime configuration of the control-connection
// server and the layers it is assembled from.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cyberinferno/go-ftpd/dispatcher"
	"github.com/cyberinferno/go-ftpd/logger"
)

// Config holds every tuneable of one server process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	ListenAddr    string        `yaml:"listen_addr"`
	MaxSessions   int64         `yaml:"max_sessions"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	MaxLineLength int           `yaml:"max_line_length"`

	// ── Login ────────────────────────────────────────────────────────
	LoginPolicy     string        `yaml:"login_policy"` // immediate | password
	UsersFile       string        `yaml:"users_file"`
	AuthCache       string        `yaml:"auth_cache"` // none | memory | redis
	AuthCacheTTL    time.Duration `yaml:"auth_cache_ttl"`
	AuthCacheSecret string        `yaml:"auth_cache_secret"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`

	// ── Commands ─────────────────────────────────────────────────────
	RootDir          string   `yaml:"root_dir"`
	SystemType       string   `yaml:"system_type"`
	DisabledCommands []string `yaml:"disabled_commands"`

	// ── Logging ──────────────────────────────────────────────────────
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json | console
	LogDir      string `yaml:"log_dir"`
	ServiceName string `yaml:"service_name"`
}

// Policy returns the parsed login policy.
func (c *Config) Policy() (dispatcher.LoginPolicy, error) {
	return dispatcher.ParseLoginPolicy(c.LoginPolicy)
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	}

	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	}

	if c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if c.MaxLineLength < 0 {
		return fmt.Errorf("max line length must not be negative")
	}

	policy, err := c.Policy()
	if err != nil {
		return err
	}

	if policy == dispatcher.LoginPassword && c.UsersFile == "" {
		return fmt.Errorf("password login policy requires a users file")
	}

	switch cache := strings.ToLower(c.AuthCache); cache {
	case "", "none":
	case "memory", "redis":
		if cache == "redis" && c.RedisAddr == "" {
			return fmt.Errorf("redis auth cache requires a redis address")
		}
		// Both backends treat a zero TTL as "never expires".
		if c.AuthCacheTTL <= 0 {
			return fmt.Errorf("%s auth cache requires a positive ttl, got %s", cache, c.AuthCacheTTL)
		}
	default:
		return fmt.Errorf("unknown auth cache %q", c.AuthCache)
	}

	if strings.ContainsAny(c.SystemType, "\r\n") {
		return fmt.Errorf("system type must be a single line")
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	return nil
}
