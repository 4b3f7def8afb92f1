package protocol

import (
	"bufio"
	"errors"
	"io"
	"net"
)

// MaxLineLength is the longest command line, terminator excluded, that Reader
// accepts.
const MaxLineLength = 4096

var (
	// ErrConnectionClosed means the peer closed the stream in an orderly way.
	// Any unterminated fragment read before the close is discarded.
	ErrConnectionClosed = errors.New("connection closed by peer")

	// ErrLineTooLong means a line exceeded MaxLineLength. The remainder of
	// the line has been consumed, so the next ReadLine starts on a fresh line.
	ErrLineTooLong = errors.New("command line too long")
)

// IoError wraps any read failure other than an orderly close: resets,
// deadline expiry, reads on a locally closed socket.
type IoError struct {
	Err error
}

// Error implements error.
func (e *IoError) Error() string {
	return "read command: " + e.Err.Error()
}

// Unwrap returns the underlying read error.
func (e *IoError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a read deadline expiring.
func (e *IoError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Reader reads CRLF-terminated command lines from a control connection.
// It is not safe for concurrent use; each connection worker owns one.
type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader creates a Reader over r with the default MaxLineLength.
//
// Parameters:
//   - r: The read side of the control connection
//
// Returns:
//   - A new Reader
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, MaxLineLength)
}

// NewReaderSize creates a Reader that rejects lines longer than maxLine bytes.
// A non-positive maxLine selects MaxLineLength.
func NewReaderSize(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = MaxLineLength
	}

	return &Reader{r: bufio.NewReader(r), max: maxLine}
}

// ReadLine blocks until a full line is available and returns it with the
// terminator ("\r\n", or a bare "\n" from lenient clients) stripped. A line
// holding only the terminator yields "".
//
// Returns:
//   - The line content
//   - ErrConnectionClosed at end of stream, ErrLineTooLong for oversized
//     lines, or an *IoError for any other read failure
func (r *Reader) ReadLine() (string, error) {
	var line []byte
	tooLong := false

	for {
		chunk, err := r.r.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > r.max+2 {
				tooLong = true
				line = nil
			}
		}

		if err == nil {
			break
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if errors.Is(err, io.EOF) {
			return "", ErrConnectionClosed
		}

		return "", &IoError{Err: err}
	}

	if tooLong {
		return "", ErrLineTooLong
	}

	line = trimTerminator(line)
	if len(line) > r.max {
		return "", ErrLineTooLong
	}

	return string(line), nil
}

func trimTerminator(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
		if n > 0 && b[n-1] == '\r' {
			n--
		}
	}

	return b[:n]
}
