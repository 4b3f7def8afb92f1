package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyberinferno/go-ftpd/protocol"
	"github.com/cyberinferno/go-ftpd/session"
)

func (d *Dispatcher) handleUSER(_ context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 1 {
		return reply(protocol.ReplyBadParameters)
	}

	s.SetUsername(cmd.Params[0])
	if d.policy == LoginImmediate {
		s.MarkAuthenticated()
		return reply(protocol.ReplyLoggedIn)
	}

	return reply(protocol.ReplyNeedPassword)
}

func (d *Dispatcher) handlePASS(ctx context.Context, s *session.State, cmd protocol.Command) Result {
	name, ok := s.Username()
	if !ok {
		return reply(protocol.ReplyBadSequence)
	}

	if d.policy == LoginImmediate {
		return reply(protocol.ReplySuperfluous)
	}

	if s.Authenticated() {
		return reply(protocol.ReplyBadSequence)
	}

	// Passwords may contain spaces, so the raw argument is used.
	if cmd.Arg == "" {
		return reply(protocol.ReplyBadParameters)
	}

	accepted, err := d.auth.Authenticate(ctx, name, cmd.Arg)
	if err != nil {
		res := closeWith(protocol.ReplyServiceUnavailable)
		res.Err = fmt.Errorf("authenticate %q: %w", name, err)
		return res
	}

	if !accepted {
		s.Logout()
		return reply(protocol.ReplyNotLoggedIn)
	}

	s.MarkAuthenticated()
	return reply(protocol.ReplyLoggedIn)
}

func (d *Dispatcher) handleACCT(_ context.Context, _ *session.State, _ protocol.Command) Result {
	return reply(protocol.ReplySuperfluous)
}

func (d *Dispatcher) handleREIN(_ context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 0 {
		return reply(protocol.ReplyBadParameters)
	}

	s.Reset()
	return reply(protocol.ReplyServiceReady)
}

func (d *Dispatcher) handleQUIT(_ context.Context, _ *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 0 {
		return reply(protocol.ReplyBadParameters)
	}

	return closeWith(protocol.ReplyServiceClosing)
}

func (d *Dispatcher) handleNOOP(_ context.Context, _ *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 0 {
		return reply(protocol.ReplyBadParameters)
	}

	return reply(protocol.ReplyCommandOK)
}

func (d *Dispatcher) handleSYST(_ context.Context, _ *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 0 {
		return reply(protocol.ReplyBadParameters)
	}

	return reply(protocol.NewReply(protocol.CodeSystemType, d.systemType))
}

func (d *Dispatcher) handleHELP(_ context.Context, _ *session.State, cmd protocol.Command) Result {
	switch cmd.Arity() {
	case 0:
		return reply(protocol.Replyf(protocol.CodeHelp,
			"The following commands are recognized: %s.", strings.Join(d.names, " ")))
	case 1:
		topic := strings.ToUpper(cmd.Params[0])
		e, ok := d.commands[topic]
		if !ok {
			return reply(protocol.Replyf(protocol.CodeNotImplemented, "Unknown command %s.", topic))
		}
		return reply(protocol.Replyf(protocol.CodeHelp, "Syntax: %s", e.syntax))
	default:
		return reply(protocol.ReplyBadParameters)
	}
}
