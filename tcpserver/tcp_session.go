package tcpserver

import "context"

// TCPServerSession is the interface that must be implemented by each connection
// session. The server creates a session per accepted connection and runs Handle
// in its own goroutine; the session owns the connection and must close it
// before Handle returns.
type TCPServerSession interface {
	// ID returns the session's unique identifier assigned by the server.
	//
	// Returns:
	//   - The session ID
	ID() string

	// Handle runs the session's main loop until the client leaves, an
	// unrecoverable error occurs, or ctx is cancelled by Stop.
	//
	// Parameters:
	//   - ctx: Cancelled when the server stops
	Handle(ctx context.Context)

	// Close forces the session to end, unblocking any pending read. It must
	// be safe to call multiple times and concurrently with Handle.
	//
	// Returns:
	//   - An error if closing failed
	Close() error
}
