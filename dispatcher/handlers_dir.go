package dispatcher

import (
	"context"
	"errors"
	"strings"

	"github.com/cyberinferno/go-ftpd/fsys"
	"github.com/cyberinferno/go-ftpd/protocol"
	"github.com/cyberinferno/go-ftpd/session"
)

func (d *Dispatcher) handlePWD(_ context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 0 {
		return reply(protocol.ReplyBadParameters)
	}

	// Embedded quotes are doubled so clients can find the closing quote.
	dir := strings.ReplaceAll(s.CurrentDir(), `"`, `""`)
	return reply(protocol.Replyf(protocol.CodePathCreated, "\"%s\" is the current directory.", dir))
}

func (d *Dispatcher) handleCWD(_ context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arg == "" {
		return reply(protocol.ReplyBadParameters)
	}

	return d.changeDir(s, cmd.Arg)
}

func (d *Dispatcher) handleCDUP(_ context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 0 {
		return reply(protocol.ReplyBadParameters)
	}

	return d.changeDir(s, "..")
}

func (d *Dispatcher) changeDir(s *session.State, name string) Result {
	if d.resolver == nil {
		return reply(protocol.ReplyNotImplemented)
	}

	dir, err := d.resolver.ResolveDir(s.CurrentDir(), name)
	switch {
	case errors.Is(err, fsys.ErrNotFound):
		return reply(protocol.ReplyFileUnavailable)
	case err != nil:
		return replyErr(protocol.NewReply(protocol.CodeLocalError, "Requested action aborted: local error in processing."), err)
	}

	s.SetCurrentDir(dir)
	return reply(protocol.ReplyFileActionOK)
}
