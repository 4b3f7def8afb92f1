// Package server assembles the control-connection server from a
// config.Config: authentication, directory resolution, the command
// dispatcher, connection workers and the bounded TCP acceptor.
package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/go-ftpd/auth"
	"github.com/cyberinferno/go-ftpd/config"
	"github.com/cyberinferno/go-ftpd/dispatcher"
	"github.com/cyberinferno/go-ftpd/fsys"
	"github.com/cyberinferno/go-ftpd/logger"
	"github.com/cyberinferno/go-ftpd/metrics"
	"github.com/cyberinferno/go-ftpd/protocol"
	"github.com/cyberinferno/go-ftpd/tcpserver"
	"github.com/cyberinferno/go-ftpd/worker"
)

const (
	redisKeyPrefix = "ftpd:auth:"
	rejectTimeout  = time.Second
	closeTimeout   = time.Second
)

// Server is one configured control-connection server.
type Server struct {
	cfg        *config.Config
	log        logger.Logger
	metrics    *metrics.Collector
	authn      dispatcher.Authenticator
	transfer   dispatcher.DataTransfer
	redis      *redis.Client
	cache      auth.VerdictCache
	dispatcher *dispatcher.Dispatcher
	tcp        *tcpserver.TCPServer
}

// Option customizes a Server beyond what the configuration expresses.
type Option func(*Server)

// WithMetrics makes the server report into m instead of a private collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAuthenticator replaces the users file as the source of credentials.
// Verdict caching from the configuration still applies.
func WithAuthenticator(a dispatcher.Authenticator) Option {
	return func(s *Server) { s.authn = a }
}

// WithDataTransfer enables PASV, RETR and STOR.
func WithDataTransfer(t dispatcher.DataTransfer) Option {
	return func(s *Server) { s.transfer = t }
}

// New validates cfg and builds every component. Nothing is bound until
// Start, Serve or Run.
//
// Parameters:
//   - cfg: The validated configuration is not copied; do not modify it after
//   - log: Logger for the server and its sessions
//   - opts: Optional overrides
//
// Returns:
//   - The Server, or an error if the configuration or a collaborator is invalid
func New(cfg *config.Config, log logger.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	dopts := []dispatcher.Option{
		dispatcher.WithLoginPolicy(policy),
		dispatcher.WithDisabledCommands(cfg.DisabledCommands...),
	}

	if cfg.SystemType != "" {
		dopts = append(dopts, dispatcher.WithSystemType(cfg.SystemType))
	}

	if policy == dispatcher.LoginPassword {
		authn, err := s.buildAuthenticator()
		if err != nil {
			s.closeRedis()
			return nil, err
		}
		dopts = append(dopts, dispatcher.WithAuthenticator(authn))
	}

	if cfg.RootDir != "" {
		resolver, err := fsys.NewOSResolver(cfg.RootDir)
		if err != nil {
			s.closeRedis()
			return nil, err
		}
		dopts = append(dopts, dispatcher.WithDirResolver(resolver))
		log.Info("serving directory", logger.Field{Key: "root", Value: resolver.Root()})
	}

	if s.transfer != nil {
		dopts = append(dopts, dispatcher.WithDataTransfer(s.transfer))
	}

	s.dispatcher, err = dispatcher.New(dopts...)
	if err != nil {
		s.closeRedis()
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	log.Info("dispatcher ready",
		logger.Field{Key: "login_policy", Value: s.dispatcher.Policy().String()},
		logger.Field{Key: "commands", Value: s.dispatcher.Commands()},
	)

	wcfg := worker.Config{
		Greeting:      protocol.ReplyServiceReady,
		IdleTimeout:   cfg.IdleTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		MaxLineLength: cfg.MaxLineLength,
	}

	s.tcp = &tcpserver.TCPServer{
		Logger:      log,
		Name:        cfg.ServiceName,
		Addr:        cfg.ListenAddr,
		MaxSessions: cfg.MaxSessions,
		Metrics:     s.metrics,
		NewSession: func(id string, conn net.Conn) tcpserver.TCPServerSession {
			return worker.New(id, conn, s.dispatcher, wcfg, log, s.metrics)
		},
		Reject: s.reject,
	}

	return s, nil
}

// buildAuthenticator loads credentials and wraps them with the configured
// verdict cache.
func (s *Server) buildAuthenticator() (dispatcher.Authenticator, error) {
	var next auth.Authenticator = s.authn
	if next == nil {
		users, err := auth.LoadUsersFile(s.cfg.UsersFile)
		if err != nil {
			return nil, err
		}
		s.log.Info("users loaded", logger.Field{Key: "count", Value: users.Len()})
		next = users
	}

	var cache auth.VerdictCache
	switch strings.ToLower(s.cfg.AuthCache) {
	case "memory":
		cache = auth.NewMemoryVerdictCache(s.cfg.AuthCacheTTL, 2*s.cfg.AuthCacheTTL)
	case "redis":
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		cache = auth.NewRedisVerdictCache(s.redis, redisKeyPrefix, s.log)
	default:
		return next, nil
	}

	cached, err := auth.NewCached(next, cache, s.cfg.AuthCacheTTL, []byte(s.cfg.AuthCacheSecret))
	if err != nil {
		return nil, err
	}
	s.cache = cache

	s.log.Info("authentication cache enabled",
		logger.Field{Key: "backend", Value: s.cfg.AuthCache},
		logger.Field{Key: "ttl", Value: s.cfg.AuthCacheTTL.String()},
	)
	return cached, nil
}

// reject tells a client turned away at the session bound why, best effort.
func (s *Server) reject(conn net.Conn) {
	b, err := protocol.Encode(protocol.ReplyTooManyUsers)
	if err != nil {
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(rejectTimeout))
	if _, err := conn.Write(b); err == nil {
		s.metrics.ReplySent(int(protocol.ReplyTooManyUsers.Code))
	}
}

// Start binds the configured address and begins accepting in the background.
func (s *Server) Start(ctx context.Context) error {
	return s.tcp.Start(ctx)
}

// Serve begins accepting on ln in the background.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	return s.tcp.Serve(ctx, ln)
}

// Run binds, serves until ctx is cancelled or accepting fails, and waits for
// every session to end.
//
// Parameters:
//   - ctx: Cancelling it shuts the server down
//
// Returns:
//   - nil after a requested shutdown, the bind error, or the accept error
//     that ended the loop
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.tcp.Wait()
	return s.tcp.Err()
}

// Stop closes the listener and every session.
func (s *Server) Stop() {
	s.tcp.Stop()
}

// Wait blocks until the accept loop and every session have finished.
func (s *Server) Wait() {
	s.tcp.Wait()
}

// Close releases resources owned by the server, such as the Redis client.
// Call it after the server has stopped.
func (s *Server) Close() error {
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		n, err := s.cache.Len(ctx)
		cancel()
		if err != nil {
			s.log.Debug("failed to count cached verdicts", logger.Err(err))
		} else {
			s.log.Info("authentication cache released", logger.Field{Key: "verdicts", Value: n})
		}
		s.cache = nil
	}
	return s.closeRedis()
}

func (s *Server) closeRedis() error {
	if s.redis == nil {
		return nil
	}
	err := s.redis.Close()
	s.redis = nil
	return err
}

// Addr returns the bound address, or nil before the server starts.
func (s *Server) Addr() net.Addr {
	return s.tcp.ListenerAddr()
}

// Metrics returns the server's collector.
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.tcp.SessionCount()
}
