// Package frame implements the console wire protocol: logical lines
// terminated by a newline, a flush marker or an abort marker.
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// MessageEnd asks the console to evaluate and reply. The console echoes
	// it back to mark the end of a reply.
	MessageEnd = '\x04'

	// Interrupt discards the console's input buffer without a reply.
	Interrupt = '\x03'
)

// Signal is the control signal that terminated a logical line.
type Signal int

const (
	Newline Signal = iota
	Flush
	Abort
)

// String returns the signal name used in diagnostics.
func (s Signal) String() string {
	switch s {
	case Newline:
		return "newline"
	case Flush:
		return "message-end"
	case Abort:
		return "interrupt"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Line is one logical line. Text never contains its terminator.
type Line struct {
	Text string
	End  Signal
}

var (
	// ErrInterrupted is returned by ReadLine when the Interrupt marker is seen.
	ErrInterrupted = errors.New("interrupted")

	// ErrStreamClosed matches every StreamClosedError.
	ErrStreamClosed = errors.New("stream closed")
)

// StreamClosedError reports that the input ended. Partial holds text read
// after the last terminator, if any.
type StreamClosedError struct {
	Partial string
	Err     error
}

func (e *StreamClosedError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream closed mid-line after %d bytes: %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream closed: %v", e.Err)
}

func (e *StreamClosedError) Unwrap() error { return e.Err }

func (e *StreamClosedError) Is(target error) bool { return target == ErrStreamClosed }

// Reader yields logical lines from a character stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r. Buffering is internal; callers hand over the raw
// transport.
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReader(r)}
}

// ReadLine blocks until a terminator arrives. An Interrupt marker returns
// ErrInterrupted and drops the partial text; end of input returns a
// *StreamClosedError. Bytes are kept as sent, invalid UTF-8 included; the
// markers are ASCII and never occur inside a multi-byte sequence.
func (fr *Reader) ReadLine() (Line, error) {
	var buf strings.Builder
	for {
		c, err := fr.r.ReadByte()
		if err != nil {
			return Line{}, &StreamClosedError{Partial: buf.String(), Err: err}
		}
		switch c {
		case '\n':
			return Line{Text: buf.String(), End: Newline}, nil
		case MessageEnd:
			return Line{Text: buf.String(), End: Flush}, nil
		case Interrupt:
			return Line{}, ErrInterrupted
		}
		buf.WriteByte(c)
	}
}
