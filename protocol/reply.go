// Package protocol implements the wire layer of the FTP control connection:
// encoding numeric replies, reading CRLF-terminated command lines, and
// splitting those lines into an action and its parameters.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Code is a three-digit FTP reply code. The first digit selects the reply
// class (1 preliminary, 2 completion, 3 intermediate, 4 transient failure,
// 5 permanent failure).
type Code int

// Reply codes used by the server. Names follow the meaning of each code in
// the protocol, not the single command that happens to send it.
const (
	CodeServiceReady          Code = 220
	CodeCommandOK             Code = 200
	CodeSuperfluous           Code = 202
	CodeSystemType            Code = 215
	CodeHelp                  Code = 214
	CodeServiceClosing        Code = 221
	CodeTransferComplete      Code = 226
	CodePassiveMode           Code = 227
	CodeLoggedIn              Code = 230
	CodeFileActionOK          Code = 250
	CodePathCreated           Code = 257
	CodeNeedPassword          Code = 331
	CodeServiceUnavailable    Code = 421
	CodeCantOpenData          Code = 425
	CodeTransferAborted       Code = 426
	CodeLocalError            Code = 451
	CodeSyntaxError           Code = 500
	CodeParameterSyntaxError  Code = 501
	CodeNotImplemented        Code = 502
	CodeBadSequence           Code = 503
	CodeParameterNotSupported Code = 504
	CodeNotLoggedIn           Code = 530
	CodeFileUnavailable       Code = 550
)

// Valid reports whether c is a three-digit code in the 1xx..5xx range.
func (c Code) Valid() bool {
	return c >= 100 && c <= 599
}

// Class returns the leading digit of the code.
func (c Code) Class() int {
	return int(c) / 100
}

var (
	// ErrInvalidCode is returned by Encode for codes outside 100..599.
	ErrInvalidCode = errors.New("reply code must be in range 100-599")

	// ErrEmbeddedTerminator is returned by Encode when the message carries a
	// CR or LF, which would split the reply into several wire lines.
	ErrEmbeddedTerminator = errors.New("reply message contains a line terminator")
)

// Reply is a single-line server response.
type Reply struct {
	Code    Code
	Message string
}

// NewReply builds a Reply. It exists mostly for readability in handler tables.
//
// Parameters:
//   - code: The reply code
//   - message: Human-readable text; must not contain CR or LF
//
// Returns:
//   - The Reply value
func NewReply(code Code, message string) Reply {
	return Reply{Code: code, Message: message}
}

// Replyf builds a Reply with a formatted message.
func Replyf(code Code, format string, args ...any) Reply {
	return Reply{Code: code, Message: fmt.Sprintf(format, args...)}
}

// String renders the reply without the trailing CRLF.
func (r Reply) String() string {
	return strconv.Itoa(int(r.Code)) + " " + r.Message
}

// Encode formats r as "<code> <message>\r\n". It does not write anything;
// callers flush the returned bytes to the connection as one unit.
//
// Parameters:
//   - r: The reply to encode
//
// Returns:
//   - The wire bytes
//   - ErrInvalidCode or ErrEmbeddedTerminator if r cannot be represented
func Encode(r Reply) ([]byte, error) {
	if !r.Code.Valid() {
		return nil, fmt.Errorf("encode %d: %w", r.Code, ErrInvalidCode)
	}

	if strings.ContainsAny(r.Message, "\r\n") {
		return nil, fmt.Errorf("encode %d: %w", r.Code, ErrEmbeddedTerminator)
	}

	b := make([]byte, 0, len(r.Message)+6)
	b = strconv.AppendInt(b, int64(r.Code), 10)
	b = append(b, ' ')
	b = append(b, r.Message...)
	b = append(b, '\r', '\n')
	return b, nil
}
