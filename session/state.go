// Package session holds the per-connection state that command handlers read
// and mutate. A State is owned by exactly one connection worker and is never
// shared, so it carries no locking.
package session

import (
	"net"
	"time"
)

// RootDir is the virtual directory every session starts in.
const RootDir = "/"

// TransferType is the representation type negotiated with TYPE.
type TransferType int

// Representation types negotiated with TYPE.
const (
	TypeASCII TransferType = iota
	TypeImage
	TypeLocal
)

// String returns the TYPE argument for t, such as "A" or "L 8".
func (t TransferType) String() string {
	switch t {
	case TypeASCII:
		return "A"
	case TypeImage:
		return "I"
	case TypeLocal:
		return "L 8"
	default:
		return "?"
	}
}

// FormatControl is the second TYPE parameter for ASCII transfers.
type FormatControl int

// Format controls for the ASCII type.
const (
	FormatNonPrint FormatControl = iota
	FormatTelnet
	FormatCarriage
)

// DataMode records which data connection parameters have been negotiated.
type DataMode int

// Data connection modes. DataNone means neither PORT nor PASV is pending.
const (
	DataNone DataMode = iota
	DataActive
	DataPassive
)

// State is the mutable state of one control connection.
type State struct {
	id         string
	remoteAddr net.Addr
	startedAt  time.Time

	username      string
	hasUsername   bool
	authenticated bool

	transferType  TransferType
	formatControl FormatControl
	currentDir    string

	dataMode DataMode
	dataAddr *net.TCPAddr

	commands int
}

// New creates the initial state for a connection.
//
// Parameters:
//   - id: Session identifier used in logs and by data transfer collaborators
//   - remoteAddr: Address of the control connection peer; may be nil
//
// Returns:
//   - A State with no user, ASCII non-print type and the root directory
func New(id string, remoteAddr net.Addr) *State {
	s := &State{
		id:         id,
		remoteAddr: remoteAddr,
		startedAt:  time.Now(),
	}
	s.Reset()
	return s
}

// Reset returns the state to what a freshly connected client sees. Identity
// of the connection (ID, peer, start time, command count) is kept.
func (s *State) Reset() {
	s.username = ""
	s.hasUsername = false
	s.authenticated = false
	s.transferType = TypeASCII
	s.formatControl = FormatNonPrint
	s.currentDir = RootDir
	s.ClearDataParams()
}

// ID returns the session identifier assigned by the acceptor.
func (s *State) ID() string { return s.id }

// RemoteAddr returns the control connection peer address.
func (s *State) RemoteAddr() net.Addr { return s.remoteAddr }

// StartedAt returns when the session was created.
func (s *State) StartedAt() time.Time { return s.startedAt }

// RemoteIP returns the IP of the control connection peer, or nil if the peer
// address is not an IP address.
func (s *State) RemoteIP() net.IP {
	switch a := s.remoteAddr.(type) {
	case *net.TCPAddr:
		return a.IP
	case nil:
		return nil
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// SetUsername records the name given with USER and drops any previous login.
func (s *State) SetUsername(name string) {
	s.username = name
	s.hasUsername = true
	s.authenticated = false
}

// Username returns the recorded name and whether USER has been accepted.
func (s *State) Username() (string, bool) {
	return s.username, s.hasUsername
}

// MarkAuthenticated completes the login for the recorded user.
func (s *State) MarkAuthenticated() {
	s.authenticated = true
}

// Logout forgets the user and the login.
func (s *State) Logout() {
	s.username = ""
	s.hasUsername = false
	s.authenticated = false
}

// Authenticated reports whether login has completed.
func (s *State) Authenticated() bool { return s.authenticated }

// SetType records the negotiated representation type.
func (s *State) SetType(t TransferType, f FormatControl) {
	s.transferType = t
	s.formatControl = f
}

// TransferType returns the representation type set by TYPE; ASCII by default.
func (s *State) TransferType() TransferType { return s.transferType }

// FormatControl returns the format control set by TYPE; non-print by default.
func (s *State) FormatControl() FormatControl { return s.formatControl }

// CurrentDir returns the working directory handle. It is an opaque virtual
// path interpreted by the directory resolver.
func (s *State) CurrentDir() string { return s.currentDir }

// SetCurrentDir replaces the working directory handle. The caller has already
// resolved dir.
//
// Parameters:
//   - dir: The resolved virtual directory
func (s *State) SetCurrentDir(dir string) { s.currentDir = dir }

// SetActive records the client address given with PORT.
func (s *State) SetActive(addr *net.TCPAddr) {
	s.dataMode = DataActive
	s.dataAddr = addr
}

// SetPassive records the server address advertised by PASV.
func (s *State) SetPassive(addr *net.TCPAddr) {
	s.dataMode = DataPassive
	s.dataAddr = addr
}

// DataParams returns the negotiated data connection mode and address.
func (s *State) DataParams() (DataMode, *net.TCPAddr) {
	return s.dataMode, s.dataAddr
}

// ClearDataParams forgets negotiated data parameters; they are single use.
func (s *State) ClearDataParams() {
	s.dataMode = DataNone
	s.dataAddr = nil
}

// CountCommand increments the number of commands processed and returns it.
func (s *State) CountCommand() int {
	s.commands++
	return s.commands
}

// Commands returns the number of commands processed so far.
func (s *State) Commands() int { return s.commands }
