// Package host drives a console from the other end of the pipe: it frames
// submissions, waits for the acknowledgment and keeps a transcript.
package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/itsmostafa/gosandbox/internal/frame"
)

// ErrControlCharacter is returned for input containing a protocol marker.
var ErrControlCharacter = errors.New("host: input contains a protocol control character")

// Reply is one completed exchange.
type Reply struct {
	Input   string
	Output  string
	Elapsed time.Duration
}

// Options configures the console subprocess.
type Options struct {
	// Command is the executable. Empty runs the current binary.
	Command string

	// Args default to ["console"].
	Args []string

	Env []string
	Dir string

	// Stderr receives the console's diagnostics. Nil uses os.Stderr.
	Stderr io.Writer
}

// Client talks to one console.
type Client struct {
	sendMu  sync.Mutex
	writeMu sync.Mutex

	w   io.WriteCloser
	r   *bufio.Reader
	cmd *exec.Cmd

	histMu  sync.Mutex
	history []Reply
}

// Start spawns the console and connects to its stdin and stdout.
func Start(ctx context.Context, opts Options) (*Client, error) {
	command := opts.Command
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("host: locate executable: %w", err)
		}
		command = exe
	}
	args := opts.Args
	if len(args) == 0 {
		args = []string{"console"}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("host: start %s: %w", command, err)
	}

	c := NewClient(stdin, stdout)
	c.cmd = cmd
	return c, nil
}

// NewClient wraps an existing pipe pair: w feeds the console's input and r
// carries its output.
func NewClient(w io.WriteCloser, r io.Reader) *Client {
	return &Client{w: w, r: bufio.NewReader(r)}
}

// Send submits input as one message and returns the reply with trailing
// newlines removed. Blank input is not sent.
func (c *Client) Send(input string) (Reply, error) {
	if strings.TrimSpace(input) == "" {
		return Reply{Input: input}, nil
	}
	if strings.ContainsAny(input, string(frame.MessageEnd)+string(frame.Interrupt)) {
		return Reply{}, ErrControlCharacter
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	start := time.Now()
	if err := c.write(frame.EncodeMessage(input)); err != nil {
		return Reply{}, err
	}
	output, err := frame.ReadReply(c.r)
	if err != nil {
		return Reply{}, fmt.Errorf("host: read reply: %w", err)
	}

	reply := Reply{
		Input:   input,
		Output:  strings.TrimRight(output, "\n"),
		Elapsed: time.Since(start),
	}
	c.histMu.Lock()
	c.history = append(c.history, reply)
	c.histMu.Unlock()
	return reply, nil
}

// Interrupt asks the console to discard its buffered input. It does not
// wait for a reply and may be called while Send is blocked.
func (c *Client) Interrupt() error {
	return c.write([]byte{frame.Interrupt})
}

// History returns the completed exchanges in order.
func (c *Client) History() []Reply {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]Reply(nil), c.history...)
}

// Close ends the console's input and, for a spawned console, waits for it
// to exit.
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.w.Close()
	c.writeMu.Unlock()
	if c.cmd != nil {
		if waitErr := c.cmd.Wait(); waitErr != nil && err == nil {
			err = fmt.Errorf("host: console exited: %w", waitErr)
		}
	}
	return err
}

func (c *Client) write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(p); err != nil {
		return fmt.Errorf("host: write: %w", err)
	}
	return nil
}
