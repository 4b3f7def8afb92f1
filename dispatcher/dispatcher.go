// Package dispatcher maps control commands to their handlers. The handler
// table is fixed when a Dispatcher is built and never changes afterwards, so
// one Dispatcher is shared read-only by every connection worker.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cyberinferno/go-ftpd/protocol"
	"github.com/cyberinferno/go-ftpd/session"
)

// Signal tells the worker whether to keep the connection after replying.
type Signal int

const (
	// Continue keeps the connection open for the next command.
	Continue Signal = iota
	// Close ends the connection once the reply has been sent.
	Close
)

// String returns "continue" or "close".
func (s Signal) String() string {
	if s == Close {
		return "close"
	}
	return "continue"
}

// Result is the outcome of one command: exactly one reply, and whether the
// connection ends after it is sent. Err optionally carries the internal
// cause of a failure reply for logging; it is never sent to the client.
type Result struct {
	Reply  protocol.Reply
	Signal Signal
	Err    error
}

func reply(r protocol.Reply) Result {
	return Result{Reply: r, Signal: Continue}
}

func replyErr(r protocol.Reply, err error) Result {
	return Result{Reply: r, Signal: Continue, Err: err}
}

func closeWith(r protocol.Reply) Result {
	return Result{Reply: r, Signal: Close}
}

// LoginPolicy selects how USER completes a login.
type LoginPolicy int

const (
	// LoginImmediate logs the user in as soon as USER names them; PASS is
	// superfluous.
	LoginImmediate LoginPolicy = iota
	// LoginPassword requires USER followed by PASS, verified by the
	// configured Authenticator.
	LoginPassword
)

// String returns the policy name accepted by ParseLoginPolicy.
func (p LoginPolicy) String() string {
	if p == LoginPassword {
		return "password"
	}
	return "immediate"
}

// ParseLoginPolicy converts "immediate" or "password" to a LoginPolicy.
func ParseLoginPolicy(name string) (LoginPolicy, error) {
	switch strings.ToLower(name) {
	case "", "immediate":
		return LoginImmediate, nil
	case "password":
		return LoginPassword, nil
	default:
		return LoginImmediate, fmt.Errorf("unknown login policy %q", name)
	}
}

type handlerFunc func(d *Dispatcher, ctx context.Context, s *session.State, cmd protocol.Command) Result

type entry struct {
	handle     handlerFunc
	needsLogin bool
	syntax     string
}

// commandTable lists every supported command. Adding a command is one entry
// here plus one handler method. Handlers validate their own parameters.
var commandTable = map[string]entry{
	// Access control
	"USER": {(*Dispatcher).handleUSER, false, "USER <username>"},
	"PASS": {(*Dispatcher).handlePASS, false, "PASS <password>"},
	"ACCT": {(*Dispatcher).handleACCT, false, "ACCT <account>"},
	"REIN": {(*Dispatcher).handleREIN, false, "REIN"},
	"QUIT": {(*Dispatcher).handleQUIT, false, "QUIT"},

	// Information
	"NOOP": {(*Dispatcher).handleNOOP, false, "NOOP"},
	"SYST": {(*Dispatcher).handleSYST, false, "SYST"},
	"HELP": {(*Dispatcher).handleHELP, false, "HELP [command]"},

	// Directories
	"PWD":  {(*Dispatcher).handlePWD, true, "PWD"},
	"XPWD": {(*Dispatcher).handlePWD, true, "XPWD"},
	"CWD":  {(*Dispatcher).handleCWD, true, "CWD <path>"},
	"XCWD": {(*Dispatcher).handleCWD, true, "XCWD <path>"},
	"CDUP": {(*Dispatcher).handleCDUP, true, "CDUP"},
	"XCUP": {(*Dispatcher).handleCDUP, true, "XCUP"},

	// Transfer parameters
	"TYPE": {(*Dispatcher).handleTYPE, true, "TYPE <A [N|T|C] | I | L 8>"},
	"MODE": {(*Dispatcher).handleMODE, true, "MODE <S>"},
	"STRU": {(*Dispatcher).handleSTRU, true, "STRU <F>"},
	"PORT": {(*Dispatcher).handlePORT, true, "PORT <h1,h2,h3,h4,p1,p2>"},
	"PASV": {(*Dispatcher).handlePASV, true, "PASV"},

	// Transfers
	"RETR": {(*Dispatcher).handleRETR, true, "RETR <path>"},
	"STOR": {(*Dispatcher).handleSTOR, true, "STOR <path>"},
}

// Dispatcher routes parsed commands to handlers.
type Dispatcher struct {
	commands   map[string]entry
	names      []string
	policy     LoginPolicy
	auth       Authenticator
	resolver   DirResolver
	transfer   DataTransfer
	systemType string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithLoginPolicy selects the login flow. LoginPassword requires
// WithAuthenticator.
func WithLoginPolicy(p LoginPolicy) Option {
	return func(d *Dispatcher) error {
		d.policy = p
		return nil
	}
}

// WithAuthenticator sets the credential verifier used by PASS.
func WithAuthenticator(a Authenticator) Option {
	return func(d *Dispatcher) error {
		d.auth = a
		return nil
	}
}

// WithDirResolver sets the directory resolver used by CWD and CDUP. Without
// one, those commands reply 502.
func WithDirResolver(r DirResolver) Option {
	return func(d *Dispatcher) error {
		d.resolver = r
		return nil
	}
}

// WithDataTransfer sets the data transfer collaborator used by PASV, RETR
// and STOR. Without one, those commands reply 502.
func WithDataTransfer(t DataTransfer) Option {
	return func(d *Dispatcher) error {
		d.transfer = t
		return nil
	}
}

// WithSystemType overrides the SYST reply text (default "UNIX Type: L8").
func WithSystemType(name string) Option {
	return func(d *Dispatcher) error {
		if name == "" || strings.ContainsAny(name, "\r\n") {
			return fmt.Errorf("invalid system type %q", name)
		}
		d.systemType = name
		return nil
	}
}

// WithDisabledCommands removes commands from the table; clients then get the
// same 500 reply as for any unknown command. USER and QUIT cannot be
// disabled.
func WithDisabledCommands(names ...string) Option {
	return func(d *Dispatcher) error {
		for _, name := range names {
			upper := strings.ToUpper(strings.TrimSpace(name))
			if upper == "USER" || upper == "QUIT" {
				return fmt.Errorf("command %s cannot be disabled", upper)
			}
			delete(d.commands, upper)
		}
		return nil
	}
}

// ErrAuthenticatorRequired is returned by New when LoginPassword is selected
// without an Authenticator.
var ErrAuthenticatorRequired = errors.New("password login policy requires an authenticator")

// New builds a Dispatcher. The resulting handler table is read-only.
//
// Parameters:
//   - options: Functional options configuring policy and collaborators
//
// Returns:
//   - The Dispatcher, or an error if an option is invalid
func New(options ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		commands:   make(map[string]entry, len(commandTable)),
		systemType: "UNIX Type: L8",
	}
	for name, e := range commandTable {
		d.commands[name] = e
	}

	for _, opt := range options {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	if d.policy == LoginPassword && d.auth == nil {
		return nil, ErrAuthenticatorRequired
	}

	d.names = make([]string, 0, len(d.commands))
	for name := range d.commands {
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)

	return d, nil
}

// Dispatch runs the handler for cmd against s. Unknown actions, including
// the empty action of a blank line, get 500 and the connection continues.
// Commands that need a login get 530 until the session is authenticated.
//
// Parameters:
//   - ctx: Context of the owning connection
//   - cmd: The parsed command
//   - s: The session state of the calling worker
//
// Returns:
//   - The Result holding exactly one reply
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command, s *session.State) Result {
	e, ok := d.commands[cmd.Action]
	if !ok {
		return reply(protocol.ReplyUnrecognized)
	}

	if e.needsLogin && !s.Authenticated() {
		return reply(protocol.ReplyNotLoggedIn)
	}

	return e.handle(d, ctx, s, cmd)
}

// Known reports whether action has a handler.
func (d *Dispatcher) Known(action string) bool {
	_, ok := d.commands[action]
	return ok
}

// Commands returns the supported command names in sorted order.
func (d *Dispatcher) Commands() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Policy returns the configured login policy.
func (d *Dispatcher) Policy() LoginPolicy {
	return d.policy
}
