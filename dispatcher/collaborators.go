package dispatcher

import (
	"context"
	"net"

	"github.com/cyberinferno/go-ftpd/session"
)

// Authenticator verifies a username/password pair. auth.Static and
// auth.Cached satisfy it.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// DirResolver resolves a client-supplied directory name against the current
// directory. It returns an error wrapping fsys.ErrNotFound when the target
// does not exist. fsys.OSResolver satisfies it.
type DirResolver interface {
	ResolveDir(cwd, name string) (string, error)
}

// Direction tells a data channel which way bytes flow.
type Direction int

const (
	// Retrieve sends a resource to the client (RETR).
	Retrieve Direction = iota
	// Store receives a resource from the client (STOR).
	Store
)

// String returns "retrieve" or "store".
func (d Direction) String() string {
	if d == Store {
		return "store"
	}
	return "retrieve"
}

// DataParams are the data connection parameters negotiated on the control
// connection.
type DataParams struct {
	SessionID string
	Mode      session.DataMode
	Addr      *net.TCPAddr
}

// DataTransfer opens data connections and moves bytes. The control core only
// negotiates parameters and maps outcomes to reply codes.
type DataTransfer interface {
	// Passive prepares a passive-mode endpoint for the session and returns
	// the address the client should connect to.
	Passive(ctx context.Context, sessionID string) (*net.TCPAddr, error)

	// Open establishes the data connection described by params.
	Open(ctx context.Context, params DataParams) (DataChannel, error)
}

// DataChannel is one open data connection.
type DataChannel interface {
	// Transfer moves resource in the given direction and representation
	// type. Errors wrapping fsys.ErrNotFound or os.ErrNotExist are reported
	// to the client as 550.
	Transfer(ctx context.Context, resource string, dir Direction, t session.TransferType) (int64, error)

	Close() error
}
