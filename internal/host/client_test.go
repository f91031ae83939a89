package host

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/itsmostafa/gosandbox/internal/console"
	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/engine/jsengine"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

// startConsole wires a client to an in-process console over pipes.
func startConsole(t *testing.T) (*Client, <-chan error) {
	t.Helper()
	ns, err := jsengine.NewNamespace(engine.Options{Policy: policy.Default()})
	if err != nil {
		t.Fatalf("NewNamespace: %v", err)
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	c := console.New(ns, console.Options{In: inR, Out: outW})

	done := make(chan error, 1)
	go func() {
		err := c.Run(context.Background())
		outW.Close()
		done <- err
	}()
	return NewClient(inW, outR), done
}

func TestClient_SendRoundTrip(t *testing.T) {
	client, done := startConsole(t)

	tests := []struct {
		input string
		want  string
	}{
		{"x = 1", ""},
		{"x", "1"},
		{"if (true) {\n  y = x + 1\n}\ny", "2"},
		{"print('a')\nprint('b')", "a\nb"},
		{"require('os')", `ImportDenied: import of "os" is not permitted`},
	}
	for _, tt := range tests {
		reply, err := client.Send(tt.input)
		if err != nil {
			t.Fatalf("Send(%q): %v", tt.input, err)
		}
		if reply.Output != tt.want {
			t.Errorf("Send(%q) = %q, want %q", tt.input, reply.Output, tt.want)
		}
	}

	if got := len(client.History()); got != len(tests) {
		t.Errorf("expected %d history entries, got %d", len(tests), got)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("console ended with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("console did not exit after Close")
	}
}

func TestClient_BlankInputIsNotSent(t *testing.T) {
	client, _ := startConsole(t)
	defer client.Close()

	reply, err := client.Send("  \n")
	if err != nil || reply.Output != "" {
		t.Fatalf("unexpected reply %+v, %v", reply, err)
	}
	if len(client.History()) != 0 {
		t.Error("blank input should not be recorded")
	}
}

func TestClient_RejectsControlCharacters(t *testing.T) {
	client, _ := startConsole(t)
	defer client.Close()

	if _, err := client.Send("x\x04y"); !errors.Is(err, ErrControlCharacter) {
		t.Errorf("expected ErrControlCharacter, got %v", err)
	}
}

func TestClient_Interrupt(t *testing.T) {
	client, _ := startConsole(t)
	defer client.Close()

	// Leave a block open without flushing, then discard it.
	if err := client.write([]byte("if (true) {\n  z = 1\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	reply, err := client.Send("typeof z")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Output != `"undefined"` {
		t.Errorf("expected the block to be discarded, got %q", reply.Output)
	}
}

func TestClient_ConsoleGone(t *testing.T) {
	client, done := startConsole(t)
	client.w.Close()
	<-done

	if _, err := client.Send("1"); err == nil {
		t.Error("expected an error once the console is gone")
	}
}

func TestStart_Subprocess(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	// cat echoes the framed message back, which reads as a reply.
	client, err := Start(context.Background(), Options{Command: cat, Args: []string{"-"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply, err := client.Send("hello\n\n")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Output != "hello" {
		t.Errorf("expected hello, got %q", reply.Output)
	}
	if !strings.Contains(reply.Input, "hello") {
		t.Errorf("unexpected recorded input %q", reply.Input)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
