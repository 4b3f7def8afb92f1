// Package tcpserver accepts TCP connections and runs one session per
// connection, with an upper bound on how many sessions may be live at once.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cyberinferno/go-ftpd/logger"
	"github.com/cyberinferno/go-ftpd/metrics"
	"github.com/cyberinferno/go-ftpd/safemap"
)

const (
	// DefaultMaxSessions is used when MaxSessions is not positive.
	DefaultMaxSessions = 256

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

var (
	// ErrServerRunning is returned by Start when the server is already running.
	ErrServerRunning = errors.New("server already running")
	// ErrNoSessionFunc is returned by Start when NewSession is nil.
	ErrNoSessionFunc = errors.New("NewSession must be set")
)

// NewSessionFunc creates the session for an accepted connection. It receives
// the assigned session ID and the connection, which the session then owns.
type NewSessionFunc func(id string, conn net.Conn) TCPServerSession

// RejectFunc is called with a connection turned away because MaxSessions
// sessions are already live. The server closes the connection afterwards.
type RejectFunc func(conn net.Conn)

// TCPServer accepts connections on Addr and delegates each one to a session
// created by NewSession. Sessions beyond MaxSessions are handed to Reject and
// closed without ever reaching NewSession. Exported fields must be set before
// Start and not changed afterwards.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	MaxSessions int64
	NewSession  NewSessionFunc
	Reject      RejectFunc
	Metrics     *metrics.Collector

	// NewID generates session IDs; defaults to random UUIDs.
	NewID func() string

	mu      sync.Mutex
	cur     *run
	running atomic.Bool
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// run is the state of one Serve call. A stale accept loop or watcher only
// ever acts on its own run, never on one started after it.
type run struct {
	ln       net.Listener
	sessions *safemap.SafeMap[TCPServerSession]
	slots    *semaphore.Weighted
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start binds to Addr and begins the accept loop in a goroutine.
//
// Parameters:
//   - ctx: Parent context; cancelling it stops the server
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server %s: %w", s.Name, ErrServerRunning)
	}
	if s.Logger == nil {
		s.Logger = logger.NewNopLogger()
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	if err := s.Serve(ctx, ln); err != nil {
		_ = ln.Close()
		return err
	}
	return nil
}

// Serve begins the accept loop on an existing listener in a goroutine. The
// server takes ownership of ln and closes it on Stop.
//
// Parameters:
//   - ctx: Parent context; cancelling it stops the server
//   - ln: The listener to accept from
//
// Returns:
//   - An error if the server is already running or is misconfigured
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	if s.NewSession == nil {
		return ErrNoSessionFunc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("server %s: %w", s.Name, ErrServerRunning)
	}

	if s.Logger == nil {
		s.Logger = logger.NewNopLogger()
	}
	if s.NewID == nil {
		s.NewID = uuid.NewString
	}
	if s.MaxSessions <= 0 {
		s.MaxSessions = DefaultMaxSessions
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ln:       ln,
		sessions: safemap.New[TCPServerSession](),
		slots:    semaphore.NewWeighted(s.MaxSessions),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.cur = r
	s.setErr(nil)
	s.running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name),
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "max_sessions", Value: s.MaxSessions},
	)

	go s.acceptLoop(loopCtx, r)
	go func() {
		// A cancelled parent context stops the server like an explicit Stop.
		select {
		case <-loopCtx.Done():
			s.stopRun(r)
		case <-r.done:
		}
	}()

	return nil
}

// Stop closes the listener, cancels every session context and closes every
// live session. It does not wait for session goroutines; use Wait for that.
// Safe to call when the server is not running and safe to call repeatedly.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(s.cur)
}

// stopRun stops r if it is still the current run.
func (s *TCPServer) stopRun(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == r {
		s.stopLocked(r)
	}
}

func (s *TCPServer) stopLocked(r *run) {
	if r == nil || !s.running.Load() {
		return
	}
	s.running.Store(false)

	r.cancel()
	_ = r.ln.Close()

	r.sessions.Range(func(_ string, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

func (s *TCPServer) current() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Wait blocks until the accept loop has exited and every session goroutine
// has returned.
func (s *TCPServer) Wait() {
	if r := s.current(); r != nil {
		<-r.done
	}
	s.wg.Wait()
}

// Err returns the error that ended the accept loop, or nil if it ended
// because of Stop or is still running.
func (s *TCPServer) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *TCPServer) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Running reports whether the accept loop is active.
func (s *TCPServer) Running() bool {
	return s.running.Load()
}

// ListenerAddr returns the bound address, or nil before Start.
func (s *TCPServer) ListenerAddr() net.Addr {
	r := s.current()
	if r == nil {
		return nil
	}
	return r.ln.Addr()
}

// SessionCount returns the number of live sessions.
func (s *TCPServer) SessionCount() int {
	r := s.current()
	if r == nil {
		return 0
	}
	return r.sessions.Len()
}

// GetSession returns the live session with the given id, if present.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (s *TCPServer) GetSession(id string) (TCPServerSession, bool) {
	r := s.current()
	if r == nil {
		return nil, false
	}
	return r.sessions.Load(id)
}

// acceptLoop accepts connections for r until r is stopped or a fatal accept
// error occurs. Transient errors are retried with exponential backoff.
func (s *TCPServer) acceptLoop(ctx context.Context, r *run) {
	defer close(r.done)

	var backoff time.Duration
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			if isTransient(err) {
				s.Metrics.AcceptError()
				backoff = nextBackoff(backoff)

				s.Logger.Warn(fmt.Sprintf("%s server accept error, retrying", s.Name),
					logger.Err(err),
					logger.Field{Key: "backoff", Value: backoff.String()},
				)

				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return
				}
			}

			s.Logger.Error(fmt.Sprintf("%s server accept failed", s.Name), logger.Err(err))
			s.setErr(fmt.Errorf("accept: %w", err))
			s.stopRun(r)
			return
		}
		backoff = 0

		if !r.slots.TryAcquire(1) {
			s.reject(conn)
			continue
		}

		s.launch(ctx, r, conn)
	}
}

func (s *TCPServer) launch(ctx context.Context, r *run, conn net.Conn) {
	id := s.NewID()
	session := s.NewSession(id, conn)
	r.sessions.Store(id, session)
	s.Metrics.ConnectionOpened()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer r.slots.Release(1)
		defer s.Metrics.ConnectionClosed()
		defer r.sessions.Delete(id)

		session.Handle(ctx)
	}()
}

// reject runs Reject off the accept loop so a slow client cannot stall it.
func (s *TCPServer) reject(conn net.Conn) {
	s.Metrics.ConnectionRejected()
	s.Logger.Warn(fmt.Sprintf("%s server at capacity, rejecting connection", s.Name),
		logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer conn.Close()

		if s.Reject != nil {
			s.Reject(conn)
		}
	}()
}

func nextBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	if next := prev * 2; next < maxAcceptBackoff {
		return next
	}
	return maxAcceptBackoff
}

// isTransient reports whether an accept error is worth retrying: descriptor
// exhaustion, a connection aborted before accept, or a timeout.
func isTransient(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}

	for _, errno := range []syscall.Errno{syscall.ECONNABORTED, syscall.ECONNRESET, syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM, syscall.EINTR} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
