package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so CLI flags, the YAML file and the
// environment overlay agree on them.

const (
	// DefaultListenAddr is the standard control port on every interface.
	DefaultListenAddr = ":21"

	// DefaultMaxSessions bounds concurrently served control connections.
	DefaultMaxSessions = 256

	// DefaultIdleTimeout closes control connections silent for this long.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultWriteTimeout bounds the time to flush one reply.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultMaxLineLength is the longest accepted command line.
	DefaultMaxLineLength = 4096

	// DefaultLoginPolicy logs users in on USER alone.
	DefaultLoginPolicy = "immediate"

	// DefaultAuthCache disables verdict caching.
	DefaultAuthCache = "none"

	// DefaultAuthCacheTTL is how long an authentication verdict is reused.
	DefaultAuthCacheTTL = time.Minute

	// DefaultRedisAddr is used by the redis verdict cache.
	DefaultRedisAddr = "127.0.0.1:6379"

	// DefaultRootDir is served when no root directory is configured.
	DefaultRootDir = "."

	// DefaultSystemType is the SYST reply.
	DefaultSystemType = "UNIX Type: L8"

	// DefaultLogLevel is the minimum log level.
	DefaultLogLevel = "info"

	// DefaultLogFormat writes JSON lines.
	DefaultLogFormat = "json"

	// DefaultServiceName tags every log entry.
	DefaultServiceName = "ftpd"

	// EnvPrefix prefixes every supported environment variable.
	EnvPrefix = "FTPD_"
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		ListenAddr:    DefaultListenAddr,
		MaxSessions:   DefaultMaxSessions,
		IdleTimeout:   DefaultIdleTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		MaxLineLength: DefaultMaxLineLength,
		LoginPolicy:   DefaultLoginPolicy,
		AuthCache:     DefaultAuthCache,
		AuthCacheTTL:  DefaultAuthCacheTTL,
		RedisAddr:     DefaultRedisAddr,
		RootDir:       DefaultRootDir,
		SystemType:    DefaultSystemType,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
		ServiceName:   DefaultServiceName,
	}
}
