// Package console implements the incremental evaluation loop: it buffers
// logical lines until they form a complete program, runs it against one
// persistent namespace and acknowledges every flush.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/frame"
)

// State reports whether the console holds buffered input.
type State int

const (
	Idle State = iota
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "idle"
}

// truncatedMarker ends output cut at Options.MaxOutputChars.
const truncatedMarker = "\n... [output truncated]\n"

// Options configures a Console.
type Options struct {
	// In and Out default to the process's stdin and stdout.
	In  io.Reader
	Out io.Writer

	// Logger receives the diagnostic events. When nil, Run uses the logger
	// stored in its context.
	Logger pslog.Logger

	// Name identifies the console in the Started event.
	Name string

	// MaxOutputChars caps the output of one evaluation. Zero is unlimited.
	MaxOutputChars int
}

// Console is the state machine. It is driven by one goroutine.
type Console struct {
	ns        engine.Namespace
	in        io.Reader
	out       io.Writer
	log       pslog.Logger
	ctxLogger bool
	name      string
	session   string
	maxOutput int

	buffer []string
	more   bool
}

// New creates a console evaluating against ns.
func New(ns engine.Namespace, opts Options) *Console {
	c := &Console{
		ns:        ns,
		in:        opts.In,
		out:       opts.Out,
		log:       opts.Logger,
		name:      opts.Name,
		session:   uuid.NewString(),
		maxOutput: opts.MaxOutputChars,
	}
	if c.in == nil {
		c.in = os.Stdin
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.log == nil {
		c.ctxLogger = true
		c.log = pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	}
	return c
}

// Session identifies this console in its diagnostic events.
func (c *Console) Session() string { return c.session }

// Run serves the protocol until the input ends. A close at a line boundary
// returns nil; a close mid-line or a write failure returns the error. The
// context is checked between lines.
func (c *Console) Run(ctx context.Context) error {
	if c.ctxLogger {
		if logger := pslog.Ctx(ctx); logger != nil {
			c.log = logger
		}
	}
	c.log = c.log.With("session", c.session)
	c.log.Info("Started", "name", c.name)
	defer c.log.Info("Exited")

	fr := frame.NewReader(c.in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := fr.ReadLine()
		if errors.Is(err, frame.ErrInterrupted) {
			c.Abort()
			continue
		}
		if err != nil {
			var closed *frame.StreamClosedError
			if errors.As(err, &closed) && closed.Partial == "" && errors.Is(closed.Err, io.EOF) {
				return nil
			}
			return fmt.Errorf("console: read: %w", err)
		}

		if err := c.Handle(line); err != nil {
			return err
		}
	}
}

// Handle applies one logical line. The returned error is a write failure;
// errors from evaluated code are written as replies.
func (c *Console) Handle(line frame.Line) error {
	c.log.Info("Received", "line", line.Text, "end", line.End.String())

	switch {
	case line.End == frame.Abort:
		c.Abort()
		return nil
	case line.Text == "" && line.End == frame.Newline:
		return nil
	}

	// An unindented line, or a flush, closes an open block the way a blank
	// line would.
	if c.more && (line.End == frame.Flush || startsUnindented(line.Text)) {
		if err := c.push(""); err != nil {
			return err
		}
	}
	if err := c.push(line.Text); err != nil {
		return err
	}
	if line.End != frame.Flush {
		return nil
	}

	if c.more {
		c.reset()
		if err := c.write(engine.Render(engine.ErrIncompleteBlock) + "\n"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(c.out, string(frame.MessageEnd)); err != nil {
		return fmt.Errorf("console: write ack: %w", err)
	}
	return nil
}

// Abort discards buffered input without a reply.
func (c *Console) Abort() {
	c.log.Info("Aborted", "buffered", len(c.buffer))
	c.reset()
}

// State reports Idle or Accumulating.
func (c *Console) State() State {
	if c.more || len(c.buffer) > 0 {
		return Accumulating
	}
	return Idle
}

// Buffered returns a copy of the fragments awaiting completion.
func (c *Console) Buffered() []string {
	return append([]string(nil), c.buffer...)
}

func (c *Console) reset() {
	c.buffer = nil
	c.more = false
}

// push appends text and tries to compile the whole buffer.
func (c *Console) push(text string) error {
	c.buffer = append(c.buffer, text)
	compiled := c.ns.Compile(strings.Join(c.buffer, "\n"))

	switch compiled.Outcome {
	case engine.Incomplete:
		c.more = true
		return nil
	case engine.Invalid:
		c.reset()
		return c.write(engine.Render(compiled.Err) + "\n")
	}

	c.reset()
	var out bytes.Buffer
	if err := c.exec(compiled.Program, &out); err != nil {
		if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
			out.WriteByte('\n')
		}
		out.WriteString(engine.Render(err) + "\n")
	}
	c.log.Info("Finished computing")
	return c.write(out.String())
}

// exec runs prog, converting a panic into an evaluation error so nothing
// raised by submitted code ends the loop.
func (c *Console) exec(prog engine.Program, out io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("evaluation panicked", "panic", fmt.Sprint(r))
			err = &engine.EvaluationError{Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return c.ns.Exec(prog, out)
}

// write emits evaluation output with control markers neutralised.
func (c *Console) write(s string) error {
	if s == "" {
		return nil
	}
	if c.maxOutput > 0 && utf8.RuneCountInString(s) > c.maxOutput {
		s = string([]rune(s)[:c.maxOutput]) + truncatedMarker
	}
	if _, err := io.WriteString(c.out, frame.Sanitize(s)); err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}

func startsUnindented(text string) bool {
	r, _ := utf8.DecodeRuneInString(text)
	return text != "" && !unicode.IsSpace(r)
}
