package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/cyberinferno/go-ftpd/fsys"
	"github.com/cyberinferno/go-ftpd/protocol"
	"github.com/cyberinferno/go-ftpd/session"
)

func (d *Dispatcher) handleTYPE(_ context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arity() < 1 || cmd.Arity() > 2 {
		return reply(protocol.ReplyBadParameters)
	}

	code := strings.ToUpper(cmd.Params[0])
	switch code {
	case "A":
		format := session.FormatNonPrint
		if cmd.Arity() == 2 {
			switch strings.ToUpper(cmd.Params[1]) {
			case "N":
			case "T":
				format = session.FormatTelnet
			case "C":
				format = session.FormatCarriage
			default:
				return reply(protocol.ReplyBadParameters)
			}
		}
		s.SetType(session.TypeASCII, format)
	case "I":
		if cmd.Arity() != 1 {
			return reply(protocol.ReplyBadParameters)
		}
		s.SetType(session.TypeImage, session.FormatNonPrint)
	case "L":
		if cmd.Arity() != 2 {
			return reply(protocol.ReplyBadParameters)
		}
		if cmd.Params[1] != "8" {
			return reply(protocol.ReplyParamNotSupported)
		}
		s.SetType(session.TypeLocal, session.FormatNonPrint)
	case "E":
		return reply(protocol.ReplyParamNotSupported)
	default:
		return reply(protocol.ReplyBadParameters)
	}

	return reply(protocol.Replyf(protocol.CodeCommandOK, "Type set to %s.", s.TransferType()))
}

func (d *Dispatcher) handleMODE(_ context.Context, _ *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 1 {
		return reply(protocol.ReplyBadParameters)
	}

	switch strings.ToUpper(cmd.Params[0]) {
	case "S":
		return reply(protocol.NewReply(protocol.CodeCommandOK, "Mode set to S."))
	case "B", "C":
		return reply(protocol.ReplyParamNotSupported)
	default:
		return reply(protocol.ReplyBadParameters)
	}
}

func (d *Dispatcher) handleSTRU(_ context.Context, _ *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 1 {
		return reply(protocol.ReplyBadParameters)
	}

	switch strings.ToUpper(cmd.Params[0]) {
	case "F":
		return reply(protocol.NewReply(protocol.CodeCommandOK, "Structure set to F."))
	case "R", "P":
		return reply(protocol.ReplyParamNotSupported)
	default:
		return reply(protocol.ReplyBadParameters)
	}
}

func (d *Dispatcher) handlePORT(_ context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 1 {
		return reply(protocol.ReplyBadParameters)
	}

	addr, err := ParseHostPort(cmd.Params[0])
	if err != nil {
		return reply(protocol.ReplyBadParameters)
	}

	// The data address must belong to the control peer; anything else is a
	// bounce attempt.
	if peer := s.RemoteIP(); peer != nil && !peer.Equal(addr.IP) {
		return reply(protocol.ReplyIllegalPort)
	}

	s.SetActive(addr)
	return reply(protocol.NewReply(protocol.CodeCommandOK, "PORT command successful."))
}

func (d *Dispatcher) handlePASV(ctx context.Context, s *session.State, cmd protocol.Command) Result {
	if cmd.Arity() != 0 {
		return reply(protocol.ReplyBadParameters)
	}

	if d.transfer == nil {
		return reply(protocol.ReplyNotImplemented)
	}

	addr, err := d.transfer.Passive(ctx, s.ID())
	if err != nil {
		return replyErr(protocol.NewReply(protocol.CodeCantOpenData, "Can't open passive connection."), err)
	}

	hostPort, err := FormatHostPort(addr)
	if err != nil {
		return replyErr(protocol.NewReply(protocol.CodeCantOpenData, "Can't open passive connection."), err)
	}

	s.SetPassive(addr)
	return reply(protocol.Replyf(protocol.CodePassiveMode, "Entering Passive Mode (%s).", hostPort))
}

func (d *Dispatcher) handleRETR(ctx context.Context, s *session.State, cmd protocol.Command) Result {
	return d.transferFile(ctx, s, cmd, Retrieve)
}

func (d *Dispatcher) handleSTOR(ctx context.Context, s *session.State, cmd protocol.Command) Result {
	return d.transferFile(ctx, s, cmd, Store)
}

func (d *Dispatcher) transferFile(ctx context.Context, s *session.State, cmd protocol.Command, dir Direction) Result {
	if cmd.Arg == "" {
		return reply(protocol.ReplyBadParameters)
	}

	if d.transfer == nil {
		return reply(protocol.ReplyNotImplemented)
	}

	mode, addr := s.DataParams()
	if mode == session.DataNone {
		return reply(protocol.ReplyNoDataParams)
	}

	// Data parameters are single use whether or not the transfer succeeds.
	s.ClearDataParams()

	ch, err := d.transfer.Open(ctx, DataParams{SessionID: s.ID(), Mode: mode, Addr: addr})
	if err != nil {
		return replyErr(protocol.ReplyCantOpenData, fmt.Errorf("open data channel: %w", err))
	}
	if ch == nil {
		return replyErr(protocol.ReplyCantOpenData, errNoDataChannel)
	}

	res := transferOver(ctx, ch, fsys.Join(s.CurrentDir(), cmd.Arg), dir, s.TransferType())

	// The reply already reflects the transfer; a close failure is only logged.
	if err := ch.Close(); err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("close data channel: %w", err))
	}
	return res
}

var errNoDataChannel = errors.New("data transfer opened no channel")

func transferOver(ctx context.Context, ch DataChannel, resource string, dir Direction, t session.TransferType) Result {
	if _, err := ch.Transfer(ctx, resource, dir, t); err != nil {
		if errors.Is(err, fsys.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return replyErr(protocol.ReplyFileUnavailable, err)
		}
		return replyErr(protocol.ReplyTransferAborted, fmt.Errorf("%s %s: %w", dir, resource, err))
	}
	return reply(protocol.ReplyTransferComplete)
}

// ParseHostPort decodes the h1,h2,h3,h4,p1,p2 form used by PORT.
//
// Parameters:
//   - arg: Six comma-separated decimal bytes
//
// Returns:
//   - The IPv4 address and port
//   - An error if the argument is malformed or the port is zero
func ParseHostPort(arg string) (*net.TCPAddr, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	var b [6]byte
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("invalid field %q", p)
		}
		b[i] = byte(n)
	}

	port := int(b[4])<<8 | int(b[5])
	if port == 0 {
		return nil, errors.New("port must not be zero")
	}

	return &net.TCPAddr{IP: net.IPv4(b[0], b[1], b[2], b[3]), Port: port}, nil
}

// FormatHostPort encodes addr in the h1,h2,h3,h4,p1,p2 form used by PASV.
// Only IPv4 addresses can be expressed.
func FormatHostPort(addr *net.TCPAddr) (string, error) {
	if addr == nil {
		return "", errors.New("nil address")
	}

	ip := addr.IP.To4()
	if ip == nil {
		return "", fmt.Errorf("address %s is not IPv4", addr.IP)
	}

	if addr.Port <= 0 || addr.Port > 65535 {
		return "", fmt.Errorf("invalid port %d", addr.Port)
	}

	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], addr.Port>>8, addr.Port&0xff), nil
}
