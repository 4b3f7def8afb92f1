// Package worker runs one control connection: greeting, then a strict
// read-parse-dispatch-reply loop until the client quits, the connection
// breaks, or the server stops.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-ftpd/dispatcher"
	"github.com/cyberinferno/go-ftpd/logger"
	"github.com/cyberinferno/go-ftpd/metrics"
	"github.com/cyberinferno/go-ftpd/perfmonitor"
	"github.com/cyberinferno/go-ftpd/protocol"
	"github.com/cyberinferno/go-ftpd/session"
)

// Phase is the lifecycle position of a Worker.
type Phase int32

const (
	// PhaseGreeting is the initial phase, until the 220 greeting is sent.
	PhaseGreeting Phase = iota
	// PhaseReady reads and answers commands.
	PhaseReady
	// PhaseClosing is entered after a reply that ends the session.
	PhaseClosing
	// PhaseClosed is terminal; the connection has been released.
	PhaseClosed
)

// String returns the lower-case phase name, or "phase(n)" for unknown values.
func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "greeting"
	case PhaseReady:
		return "ready"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Dispatcher is what a Worker needs from the command dispatcher.
// *dispatcher.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd protocol.Command, s *session.State) dispatcher.Result
	Known(action string) bool
}

// ReplyIdleTimeout is sent when a client stays silent past the idle timeout.
var ReplyIdleTimeout = protocol.NewReply(protocol.CodeServiceUnavailable, "Idle timeout, closing control connection.")

// Config holds per-connection limits. Zero timeouts disable the deadline.
type Config struct {
	Greeting      protocol.Reply
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxLineLength int
}

// DefaultConfig returns the limits used when the server is not told otherwise.
func DefaultConfig() Config {
	return Config{
		Greeting:      protocol.ReplyServiceReady,
		IdleTimeout:   5 * time.Minute,
		WriteTimeout:  30 * time.Second,
		MaxLineLength: protocol.MaxLineLength,
	}
}

// Worker owns one accepted control connection and its session state. It
// implements tcpserver.TCPServerSession.
type Worker struct {
	id         string
	conn       net.Conn
	reader     *protocol.Reader
	writer     *bufio.Writer
	state      *session.State
	dispatcher Dispatcher
	cfg        Config
	log        logger.Logger
	metrics    *metrics.Collector

	phase     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// New creates a Worker for conn. The worker takes ownership of conn.
//
// Parameters:
//   - id: Session ID assigned by the acceptor
//   - conn: The accepted control connection
//   - d: The shared, read-only command dispatcher
//   - cfg: Per-connection limits
//   - log: Logger; the worker adds session_id and remote_addr fields
//   - m: Metrics collector, may be nil
//
// Returns:
//   - A Worker in PhaseGreeting
func New(id string, conn net.Conn, d Dispatcher, cfg Config, log logger.Logger, m *metrics.Collector) *Worker {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Greeting.Code == 0 {
		cfg.Greeting = protocol.ReplyServiceReady
	}

	return &Worker{
		id:         id,
		conn:       conn,
		reader:     protocol.NewReaderSize(conn, cfg.MaxLineLength),
		writer:     bufio.NewWriter(conn),
		state:      session.New(id, conn.RemoteAddr()),
		dispatcher: d,
		cfg:        cfg,
		log: log.With(
			logger.Field{Key: "session_id", Value: id},
			logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
		),
		metrics: m,
	}
}

// ID returns the session ID.
func (w *Worker) ID() string {
	return w.id
}

// Phase returns the current lifecycle phase. Safe to call from any goroutine.
func (w *Worker) Phase() Phase {
	return Phase(w.phase.Load())
}

// Close closes the connection, unblocking a pending read. Safe to call
// repeatedly and from any goroutine.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// Handle runs the connection to completion. It sends the greeting, then
// processes commands one at a time, sending exactly one reply per command.
// The connection is always closed and the phase is PhaseClosed when Handle
// returns. A panic in a handler is contained to this connection.
//
// Parameters:
//   - ctx: Cancelling it closes the connection
func (w *Worker) Handle(ctx context.Context) {
	defer func() {
		w.phase.Store(int32(PhaseClosed))
		_ = w.Close()
		w.log.Info("session closed",
			logger.Field{Key: "commands", Value: w.state.Commands()},
			logger.Field{Key: "duration", Value: time.Since(w.state.StartedAt()).String()},
		)
	}()

	defer func() {
		if r := recover(); r != nil {
			w.metrics.WorkerFault()
			w.log.Error("session aborted by panic",
				logger.Field{Key: "panic", Value: fmt.Sprint(r)},
				logger.Field{Key: "stack", Value: string(debug.Stack())},
			)
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	w.log.Info("session opened")

	if err := w.send(w.cfg.Greeting); err != nil {
		w.log.Debug("failed to send greeting", logger.Err(err))
		return
	}
	w.metrics.ReplySent(int(w.cfg.Greeting.Code))
	w.phase.Store(int32(PhaseReady))

	for w.serveOne(ctx) {
	}
}

// serveOne reads and answers one command. It returns false when the
// connection must end.
func (w *Worker) serveOne(ctx context.Context) bool {
	if w.cfg.IdleTimeout > 0 {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.cfg.IdleTimeout))
	}

	line, err := w.reader.ReadLine()
	if err != nil {
		return w.readFailed(err)
	}

	cmd := protocol.Parse(line)
	n := w.state.CountCommand()

	perf := perfmonitor.NewPerformanceMonitor()
	perf.Start()
	res := w.dispatcher.Dispatch(ctx, cmd, w.state)
	perf.Stop()

	if !w.dispatcher.Known(cmd.Action) {
		w.metrics.UnknownCommand()
	}
	w.metrics.CommandDispatched(int(res.Reply.Code))

	w.log.Debug("command handled",
		logger.Field{Key: "seq", Value: n},
		logger.Field{Key: "command", Value: redact(cmd)},
		logger.Field{Key: "reply", Value: int(res.Reply.Code)},
		logger.Field{Key: "elapsed_ms", Value: perf.ElapsedMilliseconds()},
	)

	if res.Err != nil {
		w.log.Warn("command failed",
			logger.Field{Key: "command", Value: cmd.Action},
			logger.Field{Key: "reply", Value: int(res.Reply.Code)},
			logger.Err(res.Err),
		)
	}

	if res.Signal == dispatcher.Close {
		w.phase.Store(int32(PhaseClosing))
	}

	if err := w.send(res.Reply); err != nil {
		return false
	}

	return res.Signal != dispatcher.Close
}

func (w *Worker) readFailed(err error) bool {
	if errors.Is(err, protocol.ErrLineTooLong) {
		w.log.Warn("command line too long")
		w.metrics.CommandDispatched(int(protocol.ReplyLineTooLong.Code))
		return w.send(protocol.ReplyLineTooLong) == nil
	}

	if errors.Is(err, protocol.ErrConnectionClosed) {
		w.log.Debug("client closed the connection")
		return false
	}

	var ioErr *protocol.IoError
	if errors.As(err, &ioErr) && ioErr.Timeout() {
		w.log.Info("session idle, closing", logger.Field{Key: "timeout", Value: w.cfg.IdleTimeout.String()})
		w.phase.Store(int32(PhaseClosing))
		if w.send(ReplyIdleTimeout) == nil {
			w.metrics.ReplySent(int(ReplyIdleTimeout.Code))
		}
		return false
	}

	w.log.Warn("read failed", logger.Err(err))
	return false
}

// send encodes r and flushes it as one unit. Encoding failures are worker
// faults: nothing is written and the connection ends.
func (w *Worker) send(r protocol.Reply) error {
	b, err := protocol.Encode(r)
	if err != nil {
		w.metrics.WorkerFault()
		w.log.Error("failed to encode reply", logger.Err(err))
		return err
	}

	if w.cfg.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}

	if _, err := w.writer.Write(b); err != nil {
		w.log.Debug("failed to write reply", logger.Err(err))
		return err
	}

	if err := w.writer.Flush(); err != nil {
		w.log.Debug("failed to flush reply", logger.Err(err))
		return err
	}

	return nil
}

// redact hides the PASS argument from logs.
func redact(cmd protocol.Command) string {
	if cmd.Action == "PASS" && cmd.Arg != "" {
		return "PASS ****"
	}
	if cmd.Arg == "" {
		return cmd.Action
	}
	return cmd.Action + " " + cmd.Arg
}
