package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-ftpd/fsys"
	"github.com/cyberinferno/go-ftpd/protocol"
	"github.com/cyberinferno/go-ftpd/session"
)

var peerAddr = &net.TCPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 50000}

type authFunc func(ctx context.Context, username, password string) (bool, error)

func (f authFunc) Authenticate(ctx context.Context, username, password string) (bool, error) {
	return f(ctx, username, password)
}

type fakeResolver struct {
	dirs map[string]bool
	err  error
}

func (r *fakeResolver) ResolveDir(cwd, name string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	target := fsys.Join(cwd, name)
	if !r.dirs[target] {
		return "", fmt.Errorf("%s: %w", target, fsys.ErrNotFound)
	}
	return target, nil
}

type fakeChannel struct {
	transferErr error
	resource    string
	dir         Direction
	typ         session.TransferType
	closeErr    error
	closed      bool
}

func (c *fakeChannel) Transfer(_ context.Context, resource string, dir Direction, t session.TransferType) (int64, error) {
	c.resource, c.dir, c.typ = resource, dir, t
	if c.transferErr != nil {
		return 0, c.transferErr
	}
	return 42, nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return c.closeErr
}

type fakeTransfer struct {
	passiveAddr *net.TCPAddr
	passiveErr  error
	openErr     error
	opened      []DataParams
	channel     *fakeChannel
}

func (t *fakeTransfer) Passive(_ context.Context, _ string) (*net.TCPAddr, error) {
	return t.passiveAddr, t.passiveErr
}

func (t *fakeTransfer) Open(_ context.Context, params DataParams) (DataChannel, error) {
	t.opened = append(t.opened, params)
	if t.openErr != nil {
		return nil, t.openErr
	}
	if t.channel == nil {
		return nil, nil
	}
	return t.channel, nil
}

func newState() *session.State {
	return session.New("sess-1", peerAddr)
}

func run(t *testing.T, d *Dispatcher, s *session.State, line string) Result {
	t.Helper()
	return d.Dispatch(context.Background(), protocol.Parse(line), s)
}

func loggedIn(t *testing.T, _ *Dispatcher) *session.State {
	t.Helper()
	s := newState()
	s.SetUsername("alice")
	s.MarkAuthenticated()
	return s
}

func TestNew(t *testing.T) {
	t.Run("password policy needs an authenticator", func(t *testing.T) {
		_, err := New(WithLoginPolicy(LoginPassword))
		assert.ErrorIs(t, err, ErrAuthenticatorRequired)
	})

	t.Run("commands are sorted", func(t *testing.T) {
		d, err := New()
		require.NoError(t, err)
		names := d.Commands()
		assert.Contains(t, names, "USER")
		assert.IsNonDecreasing(t, names)
	})

	t.Run("disabled commands become unknown", func(t *testing.T) {
		d, err := New(WithDisabledCommands("pasv", " stor "))
		require.NoError(t, err)
		assert.False(t, d.Known("PASV"))
		assert.False(t, d.Known("STOR"))
		assert.True(t, d.Known("RETR"))

		res := run(t, d, loggedIn(t, d), "PASV")
		assert.Equal(t, protocol.CodeSyntaxError, res.Reply.Code)
	})

	t.Run("USER cannot be disabled", func(t *testing.T) {
		_, err := New(WithDisabledCommands("user"))
		assert.Error(t, err)
	})

	t.Run("system type must be a single line", func(t *testing.T) {
		_, err := New(WithSystemType("UNIX\r\nevil"))
		assert.Error(t, err)
	})
}

func TestParseLoginPolicy(t *testing.T) {
	p, err := ParseLoginPolicy("Password")
	require.NoError(t, err)
	assert.Equal(t, LoginPassword, p)

	p, err = ParseLoginPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LoginImmediate, p)

	_, err = ParseLoginPolicy("anonymous")
	assert.Error(t, err)
}

func TestDispatch_UnknownAndGating(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	t.Run("unknown command", func(t *testing.T) {
		res := run(t, d, newState(), "FOO bar")
		assert.Equal(t, protocol.CodeSyntaxError, res.Reply.Code)
		assert.Equal(t, Continue, res.Signal)
	})

	t.Run("empty line", func(t *testing.T) {
		res := run(t, d, newState(), "   ")
		assert.Equal(t, protocol.CodeSyntaxError, res.Reply.Code)
		assert.Equal(t, Continue, res.Signal)
	})

	t.Run("commands are case insensitive", func(t *testing.T) {
		res := run(t, d, newState(), "noop")
		assert.Equal(t, protocol.CodeCommandOK, res.Reply.Code)
	})

	gated := []string{"PWD", "XPWD", "CWD /", "XCWD /", "CDUP", "XCUP", "TYPE I", "MODE S", "STRU F", "PORT 192,0,2,10,4,1", "PASV", "RETR a", "STOR a"}
	for _, line := range gated {
		t.Run("gated "+line, func(t *testing.T) {
			s := newState()
			res := run(t, d, s, line)
			assert.Equal(t, protocol.CodeNotLoggedIn, res.Reply.Code)
			assert.Equal(t, session.TypeASCII, s.TransferType())
		})
	}
}

func TestDispatch_ImmediateLogin(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	s := newState()

	res := run(t, d, s, "PASS early")
	assert.Equal(t, protocol.CodeBadSequence, res.Reply.Code)

	res = run(t, d, s, "USER")
	assert.Equal(t, protocol.CodeParameterSyntaxError, res.Reply.Code)
	assert.False(t, s.Authenticated())

	res = run(t, d, s, "USER alice")
	assert.Equal(t, protocol.CodeLoggedIn, res.Reply.Code)
	assert.True(t, s.Authenticated())

	res = run(t, d, s, "PASS whatever")
	assert.Equal(t, protocol.CodeSuperfluous, res.Reply.Code)

	res = run(t, d, s, "ACCT billing")
	assert.Equal(t, protocol.CodeSuperfluous, res.Reply.Code)

	res = run(t, d, s, "PWD")
	assert.Equal(t, protocol.CodePathCreated, res.Reply.Code)
	assert.Equal(t, `"/" is the current directory.`, res.Reply.Message)
}

func TestDispatch_PasswordLogin(t *testing.T) {
	var seen []string
	authn := authFunc(func(_ context.Context, user, pass string) (bool, error) {
		seen = append(seen, user+":"+pass)
		switch {
		case user == "broken":
			return false, errors.New("backend down")
		default:
			return user == "alice" && pass == "open sesame", nil
		}
	})

	d, err := New(WithLoginPolicy(LoginPassword), WithAuthenticator(authn))
	require.NoError(t, err)

	t.Run("USER then PASS", func(t *testing.T) {
		s := newState()
		res := run(t, d, s, "USER alice")
		assert.Equal(t, protocol.CodeNeedPassword, res.Reply.Code)
		assert.False(t, s.Authenticated())

		res = run(t, d, s, "PASS open sesame")
		assert.Equal(t, protocol.CodeLoggedIn, res.Reply.Code)
		assert.True(t, s.Authenticated())
		assert.Contains(t, seen, "alice:open sesame")

		res = run(t, d, s, "PASS open sesame")
		assert.Equal(t, protocol.CodeBadSequence, res.Reply.Code)
	})

	t.Run("wrong password forgets the user", func(t *testing.T) {
		s := newState()
		run(t, d, s, "USER alice")
		res := run(t, d, s, "PASS nope")
		assert.Equal(t, protocol.CodeNotLoggedIn, res.Reply.Code)
		_, ok := s.Username()
		assert.False(t, ok)
	})

	t.Run("missing password", func(t *testing.T) {
		s := newState()
		run(t, d, s, "USER alice")
		res := run(t, d, s, "PASS")
		assert.Equal(t, protocol.CodeParameterSyntaxError, res.Reply.Code)
	})

	t.Run("authenticator failure closes", func(t *testing.T) {
		s := newState()
		run(t, d, s, "USER broken")
		res := run(t, d, s, "PASS x")
		assert.Equal(t, protocol.CodeServiceUnavailable, res.Reply.Code)
		assert.Equal(t, Close, res.Signal)
		assert.Error(t, res.Err)
	})

	t.Run("new USER drops the login", func(t *testing.T) {
		s := newState()
		run(t, d, s, "USER alice")
		run(t, d, s, "PASS open sesame")
		run(t, d, s, "USER bob")
		assert.False(t, s.Authenticated())
	})
}

func TestDispatch_InformationCommands(t *testing.T) {
	d, err := New(WithSystemType("UNIX Type: L8 go-ftpd"))
	require.NoError(t, err)
	s := newState()

	res := run(t, d, s, "SYST")
	assert.Equal(t, protocol.CodeSystemType, res.Reply.Code)
	assert.Equal(t, "UNIX Type: L8 go-ftpd", res.Reply.Message)

	res = run(t, d, s, "NOOP extra")
	assert.Equal(t, protocol.CodeParameterSyntaxError, res.Reply.Code)

	res = run(t, d, s, "HELP")
	assert.Equal(t, protocol.CodeHelp, res.Reply.Code)
	assert.Contains(t, res.Reply.Message, "RETR")

	res = run(t, d, s, "HELP type")
	assert.Equal(t, protocol.CodeHelp, res.Reply.Code)
	assert.True(t, strings.HasPrefix(res.Reply.Message, "Syntax: TYPE"))

	res = run(t, d, s, "HELP SITE")
	assert.Equal(t, protocol.CodeNotImplemented, res.Reply.Code)

	res = run(t, d, s, "QUIT now")
	assert.Equal(t, protocol.CodeParameterSyntaxError, res.Reply.Code)
	assert.Equal(t, Continue, res.Signal)

	res = run(t, d, s, "QUIT")
	assert.Equal(t, protocol.CodeServiceClosing, res.Reply.Code)
	assert.Equal(t, Close, res.Signal)
}

func TestDispatch_REIN(t *testing.T) {
	d, err := New(WithDirResolver(&fakeResolver{dirs: map[string]bool{"/pub": true}}))
	require.NoError(t, err)
	s := loggedIn(t, d)

	run(t, d, s, "CWD pub")
	run(t, d, s, "TYPE I")
	require.Equal(t, "/pub", s.CurrentDir())

	res := run(t, d, s, "REIN")
	assert.Equal(t, protocol.CodeServiceReady, res.Reply.Code)
	assert.False(t, s.Authenticated())
	assert.Equal(t, session.RootDir, s.CurrentDir())
	assert.Equal(t, session.TypeASCII, s.TransferType())
}

func TestDispatch_Directories(t *testing.T) {
	t.Run("without a resolver", func(t *testing.T) {
		d, err := New()
		require.NoError(t, err)
		s := loggedIn(t, d)
		res := run(t, d, s, "CWD /tmp")
		assert.Equal(t, protocol.CodeNotImplemented, res.Reply.Code)
	})

	d, err := New(WithDirResolver(&fakeResolver{dirs: map[string]bool{"/": true, "/pub": true, "/pub/my dir": true}}))
	require.NoError(t, err)

	t.Run("CWD keeps spaces in the argument", func(t *testing.T) {
		s := loggedIn(t, d)
		res := run(t, d, s, "CWD pub")
		assert.Equal(t, protocol.CodeFileActionOK, res.Reply.Code)

		res = run(t, d, s, "XCWD my dir")
		assert.Equal(t, protocol.CodeFileActionOK, res.Reply.Code)
		assert.Equal(t, "/pub/my dir", s.CurrentDir())

		res = run(t, d, s, "XPWD")
		assert.Equal(t, `"/pub/my dir" is the current directory.`, res.Reply.Message)

		res = run(t, d, s, "CDUP")
		assert.Equal(t, protocol.CodeFileActionOK, res.Reply.Code)
		assert.Equal(t, "/pub", s.CurrentDir())
	})

	t.Run("missing directory", func(t *testing.T) {
		s := loggedIn(t, d)
		res := run(t, d, s, "CWD nowhere")
		assert.Equal(t, protocol.CodeFileUnavailable, res.Reply.Code)
		assert.Equal(t, session.RootDir, s.CurrentDir())
	})

	t.Run("missing argument", func(t *testing.T) {
		s := loggedIn(t, d)
		res := run(t, d, s, "CWD")
		assert.Equal(t, protocol.CodeParameterSyntaxError, res.Reply.Code)
	})

	t.Run("resolver failure", func(t *testing.T) {
		d, err := New(WithDirResolver(&fakeResolver{err: errors.New("io")}))
		require.NoError(t, err)
		res := run(t, d, loggedIn(t, d), "CWD x")
		assert.Equal(t, protocol.CodeLocalError, res.Reply.Code)
		assert.Error(t, res.Err)
	})

	t.Run("quotes are doubled", func(t *testing.T) {
		s := loggedIn(t, d)
		s.SetCurrentDir(`/say "hi"`)
		res := run(t, d, s, "PWD")
		assert.Equal(t, `"/say ""hi""" is the current directory.`, res.Reply.Message)
	})
}

func TestDispatch_TransferParameters(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	tests := []struct {
		line string
		code protocol.Code
		typ  session.TransferType
	}{
		{"TYPE I", protocol.CodeCommandOK, session.TypeImage},
		{"TYPE i", protocol.CodeCommandOK, session.TypeImage},
		{"TYPE A", protocol.CodeCommandOK, session.TypeASCII},
		{"TYPE A N", protocol.CodeCommandOK, session.TypeASCII},
		{"TYPE A T", protocol.CodeCommandOK, session.TypeASCII},
		{"TYPE L 8", protocol.CodeCommandOK, session.TypeLocal},
		{"TYPE L 16", protocol.CodeParameterNotSupported, session.TypeASCII},
		{"TYPE E", protocol.CodeParameterNotSupported, session.TypeASCII},
		{"TYPE X", protocol.CodeParameterSyntaxError, session.TypeASCII},
		{"TYPE", protocol.CodeParameterSyntaxError, session.TypeASCII},
		{"TYPE A X", protocol.CodeParameterSyntaxError, session.TypeASCII},
		{"TYPE I N", protocol.CodeParameterSyntaxError, session.TypeASCII},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			s := loggedIn(t, d)
			res := run(t, d, s, tt.line)
			assert.Equal(t, tt.code, res.Reply.Code)
			assert.Equal(t, tt.typ, s.TransferType())
		})
	}

	t.Run("TYPE A C records the format", func(t *testing.T) {
		s := loggedIn(t, d)
		res := run(t, d, s, "TYPE A C")
		assert.Equal(t, "Type set to A.", res.Reply.Message)
		assert.Equal(t, session.FormatCarriage, s.FormatControl())
	})

	modes := map[string]protocol.Code{
		"MODE S": protocol.CodeCommandOK,
		"MODE B": protocol.CodeParameterNotSupported,
		"MODE Z": protocol.CodeParameterSyntaxError,
		"STRU F": protocol.CodeCommandOK,
		"STRU R": protocol.CodeParameterNotSupported,
		"STRU":   protocol.CodeParameterSyntaxError,
	}
	for line, code := range modes {
		t.Run(line, func(t *testing.T) {
			res := run(t, d, loggedIn(t, d), line)
			assert.Equal(t, code, res.Reply.Code)
		})
	}
}

func TestDispatch_PORT(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	t.Run("records the client address", func(t *testing.T) {
		s := loggedIn(t, d)
		res := run(t, d, s, "PORT 192,0,2,10,19,137")
		assert.Equal(t, protocol.CodeCommandOK, res.Reply.Code)

		mode, addr := s.DataParams()
		assert.Equal(t, session.DataActive, mode)
		assert.Equal(t, 5001, addr.Port)
	})

	t.Run("rejects a third-party address", func(t *testing.T) {
		s := loggedIn(t, d)
		res := run(t, d, s, "PORT 198,51,100,7,19,137")
		assert.Equal(t, protocol.CodeSyntaxError, res.Reply.Code)
		mode, _ := s.DataParams()
		assert.Equal(t, session.DataNone, mode)
	})

	for _, line := range []string{"PORT", "PORT 1,2,3", "PORT 192,0,2,10,300,1", "PORT 192,0,2,10,0,0", "PORT a,b,c,d,e,f"} {
		t.Run(line, func(t *testing.T) {
			res := run(t, d, loggedIn(t, d), line)
			assert.Equal(t, protocol.CodeParameterSyntaxError, res.Reply.Code)
		})
	}
}

func TestDispatch_PASV(t *testing.T) {
	t.Run("without a data transfer", func(t *testing.T) {
		d, err := New()
		require.NoError(t, err)
		res := run(t, d, loggedIn(t, d), "PASV")
		assert.Equal(t, protocol.CodeNotImplemented, res.Reply.Code)
	})

	t.Run("advertises the passive address", func(t *testing.T) {
		ft := &fakeTransfer{passiveAddr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 50001}}
		d, err := New(WithDataTransfer(ft))
		require.NoError(t, err)
		s := loggedIn(t, d)

		res := run(t, d, s, "PASV")
		assert.Equal(t, protocol.CodePassiveMode, res.Reply.Code)
		assert.Equal(t, "Entering Passive Mode (10,0,0,1,195,81).", res.Reply.Message)
		mode, _ := s.DataParams()
		assert.Equal(t, session.DataPassive, mode)
	})

	t.Run("listener failure", func(t *testing.T) {
		d, err := New(WithDataTransfer(&fakeTransfer{passiveErr: errors.New("no ports")}))
		require.NoError(t, err)
		res := run(t, d, loggedIn(t, d), "PASV")
		assert.Equal(t, protocol.CodeCantOpenData, res.Reply.Code)
		assert.Error(t, res.Err)
	})

	t.Run("IPv6 cannot be advertised", func(t *testing.T) {
		d, err := New(WithDataTransfer(&fakeTransfer{passiveAddr: &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 50001}}))
		require.NoError(t, err)
		res := run(t, d, loggedIn(t, d), "PASV")
		assert.Equal(t, protocol.CodeCantOpenData, res.Reply.Code)
	})
}

func TestDispatch_Transfers(t *testing.T) {
	newDispatcher := func(t *testing.T, ft *fakeTransfer) *Dispatcher {
		t.Helper()
		d, err := New(WithDataTransfer(ft))
		require.NoError(t, err)
		return d
	}

	t.Run("requires data parameters", func(t *testing.T) {
		ft := &fakeTransfer{channel: &fakeChannel{}}
		d := newDispatcher(t, ft)
		res := run(t, d, loggedIn(t, d), "RETR file.txt")
		assert.Equal(t, protocol.CodeCantOpenData, res.Reply.Code)
		assert.Empty(t, ft.opened)
	})

	t.Run("retrieve succeeds", func(t *testing.T) {
		ch := &fakeChannel{}
		ft := &fakeTransfer{channel: ch}
		d := newDispatcher(t, ft)
		s := loggedIn(t, d)
		s.SetCurrentDir("/pub")
		run(t, d, s, "TYPE I")
		run(t, d, s, "PORT 192,0,2,10,19,137")

		res := run(t, d, s, "RETR my file.txt")
		assert.Equal(t, protocol.CodeTransferComplete, res.Reply.Code)
		assert.Equal(t, "/pub/my file.txt", ch.resource)
		assert.Equal(t, Retrieve, ch.dir)
		assert.Equal(t, session.TypeImage, ch.typ)
		assert.True(t, ch.closed)

		require.Len(t, ft.opened, 1)
		assert.Equal(t, "sess-1", ft.opened[0].SessionID)
		assert.Equal(t, session.DataActive, ft.opened[0].Mode)

		mode, _ := s.DataParams()
		assert.Equal(t, session.DataNone, mode)
	})

	t.Run("store maps a missing resource to 550", func(t *testing.T) {
		ch := &fakeChannel{transferErr: fmt.Errorf("open: %w", os.ErrNotExist)}
		d := newDispatcher(t, &fakeTransfer{channel: ch})
		s := loggedIn(t, d)
		run(t, d, s, "PORT 192,0,2,10,19,137")

		res := run(t, d, s, "STOR missing/x")
		assert.Equal(t, protocol.CodeFileUnavailable, res.Reply.Code)
		assert.Equal(t, Store, ch.dir)
	})

	t.Run("broken transfer", func(t *testing.T) {
		ch := &fakeChannel{transferErr: errors.New("reset by peer")}
		d := newDispatcher(t, &fakeTransfer{channel: ch})
		s := loggedIn(t, d)
		run(t, d, s, "PORT 192,0,2,10,19,137")

		res := run(t, d, s, "RETR x")
		assert.Equal(t, protocol.CodeTransferAborted, res.Reply.Code)
		assert.Error(t, res.Err)
		assert.True(t, ch.closed)
	})

	t.Run("data channel cannot be opened", func(t *testing.T) {
		ft := &fakeTransfer{openErr: errors.New("refused")}
		d := newDispatcher(t, ft)
		s := loggedIn(t, d)
		run(t, d, s, "PORT 192,0,2,10,19,137")

		res := run(t, d, s, "RETR x")
		assert.Equal(t, protocol.CodeCantOpenData, res.Reply.Code)
		mode, _ := s.DataParams()
		assert.Equal(t, session.DataNone, mode)
	})

	t.Run("open without a channel", func(t *testing.T) {
		ft := &fakeTransfer{}
		d := newDispatcher(t, ft)
		s := loggedIn(t, d)
		run(t, d, s, "PORT 192,0,2,10,19,137")

		res := run(t, d, s, "RETR x")
		assert.Equal(t, protocol.CodeCantOpenData, res.Reply.Code)
		assert.ErrorIs(t, res.Err, errNoDataChannel)
		assert.Len(t, ft.opened, 1)
	})

	t.Run("close failure is reported", func(t *testing.T) {
		closeErr := errors.New("fin lost")
		ch := &fakeChannel{closeErr: closeErr}
		d := newDispatcher(t, &fakeTransfer{channel: ch})
		s := loggedIn(t, d)
		run(t, d, s, "PORT 192,0,2,10,19,137")

		res := run(t, d, s, "STOR x")
		assert.Equal(t, protocol.CodeTransferComplete, res.Reply.Code)
		assert.ErrorIs(t, res.Err, closeErr)
		assert.True(t, ch.closed)
	})

	t.Run("close failure joins a transfer failure", func(t *testing.T) {
		transferErr := errors.New("reset by peer")
		closeErr := errors.New("fin lost")
		ch := &fakeChannel{transferErr: transferErr, closeErr: closeErr}
		d := newDispatcher(t, &fakeTransfer{channel: ch})
		s := loggedIn(t, d)
		run(t, d, s, "PORT 192,0,2,10,19,137")

		res := run(t, d, s, "RETR x")
		assert.Equal(t, protocol.CodeTransferAborted, res.Reply.Code)
		assert.ErrorIs(t, res.Err, transferErr)
		assert.ErrorIs(t, res.Err, closeErr)
	})

	t.Run("missing path", func(t *testing.T) {
		d := newDispatcher(t, &fakeTransfer{})
		res := run(t, d, loggedIn(t, d), "STOR")
		assert.Equal(t, protocol.CodeParameterSyntaxError, res.Reply.Code)
	})
}

func TestHostPort(t *testing.T) {
	addr, err := ParseHostPort("127,0,0,1,4,1")
	require.NoError(t, err)
	assert.Equal(t, 1025, addr.Port)
	assert.True(t, addr.IP.Equal(net.IPv4(127, 0, 0, 1)))

	s, err := FormatHostPort(addr)
	require.NoError(t, err)
	assert.Equal(t, "127,0,0,1,4,1", s)

	_, err = FormatHostPort(nil)
	assert.Error(t, err)
}
