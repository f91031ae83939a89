package jsengine

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/itsmostafa/gosandbox/internal/capability"
	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

func newTestNamespace(t *testing.T, opts engine.Options) *Namespace {
	t.Helper()
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	ns, err := NewNamespace(opts)
	if err != nil {
		t.Fatalf("NewNamespace: %v", err)
	}
	return ns
}

// run compiles and executes source, returning what it wrote.
func run(t *testing.T, ns *Namespace, source string) (string, error) {
	t.Helper()
	c := ns.Compile(source)
	switch c.Outcome {
	case engine.Incomplete:
		t.Fatalf("%q: unexpectedly incomplete", source)
	case engine.Invalid:
		return "", c.Err
	}
	var out strings.Builder
	err := ns.Exec(c.Program, &out)
	return out.String(), err
}

func mustRun(t *testing.T, ns *Namespace, source string) string {
	t.Helper()
	out, err := run(t, ns, source)
	if err != nil {
		t.Fatalf("%q: unexpected error: %v", source, err)
	}
	return out
}

func TestNewNamespace_RequiresPolicy(t *testing.T) {
	if _, err := NewNamespace(engine.Options{}); !errors.Is(err, engine.ErrNoPolicy) {
		t.Errorf("expected ErrNoPolicy, got %v", err)
	}
}

func TestAssignmentThenLookup(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	if out := mustRun(t, ns, "x = 1"); out != "" {
		t.Errorf("assignment should not echo, got %q", out)
	}
	if out := mustRun(t, ns, "x"); out != "1\n" {
		t.Errorf("expected 1, got %q", out)
	}
}

func TestEcho(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"1 + 2", "3\n"},
		{"'a'", "\"a\"\n"},
		{"undefined", ""},
		{"null", "null\n"},
		{"var y = 2", ""},
		{"y += 1", ""},
		{"[1, 2]", "[1, 2]\n"},
		{"print('hi', 1)", "hi 1\n"},
		{"console.log('log')", "log\n"},
		{"if (true) { 5 }", ""},
	}

	ns := newTestNamespace(t, engine.Options{})
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			if got := mustRun(t, ns, tt.source); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompileOutcomes(t *testing.T) {
	tests := []struct {
		source string
		want   engine.Outcome
	}{
		{"if (true) {", engine.Incomplete},
		{"function f() {\n  return 1", engine.Incomplete},
		{"[1, 2", engine.Incomplete},
		{"if (true) {\n  z = 1\n}", engine.Complete},
		{"", engine.Complete},
		{"x = )", engine.Invalid},
	}

	ns := newTestNamespace(t, engine.Options{})
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			c := ns.Compile(tt.source)
			if c.Outcome != tt.want {
				t.Fatalf("got %v, want %v (err %v)", c.Outcome, tt.want, c.Err)
			}
			if tt.want == engine.Invalid {
				var syn *engine.SyntaxError
				if !errors.As(c.Err, &syn) {
					t.Errorf("expected *SyntaxError, got %T", c.Err)
				}
				if !strings.HasPrefix(engine.Render(c.Err), "SyntaxError: ") {
					t.Errorf("unexpected rendering %q", engine.Render(c.Err))
				}
			}
		})
	}
}

func TestCompileDoesNotMutate(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})
	before := ns.Names()
	ns.Compile("neverRun = 1")
	if !slices.Equal(before, ns.Names()) {
		t.Error("Compile changed the namespace")
	}
}

func TestRequireDenied(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})
	before := ns.Names()

	for _, source := range []string{"require('os')", "m = require('child_process')"} {
		_, err := run(t, ns, source)
		if !errors.Is(err, policy.ErrImportDenied) {
			t.Fatalf("%q: expected ErrImportDenied, got %v", source, err)
		}
		if got := engine.Render(err); !strings.HasPrefix(got, "ImportDenied: ") {
			t.Errorf("unexpected rendering %q", got)
		}
	}

	if !slices.Equal(before, ns.Names()) {
		t.Errorf("namespace changed after denied import:\nbefore %v\nafter  %v", before, ns.Names())
	}
}

func TestRequireAllowed(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	if out := mustRun(t, ns, "require('re').findAll('a', 'banana').length"); out != "3\n" {
		t.Errorf("expected 3, got %q", out)
	}
	if out := mustRun(t, ns, "require('strings').upper('abc')"); out != "\"ABC\"\n" {
		t.Errorf("expected ABC, got %q", out)
	}
	if out := mustRun(t, ns, "require('math') === require('math')"); out != "true\n" {
		t.Errorf("expected cached module, got %q", out)
	}
}

func TestRequireNotFound(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	// enum is allowlisted but has no JavaScript implementation.
	_, err := run(t, ns, "require('enum')")
	if !errors.Is(err, engine.ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
	if errors.Is(err, policy.ErrImportDenied) {
		t.Error("not found must not look like a denial")
	}
}

func TestBuiltinsRestricted(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	for _, name := range []string{"eval", "Proxy", "Reflect", "WebAssembly", "fetch"} {
		t.Run(name, func(t *testing.T) {
			if out := mustRun(t, ns, "typeof "+name); out != "\"undefined\"\n" {
				t.Errorf("expected %s to be absent, got %q", name, out)
			}
		})
	}
	for _, name := range []string{"print", "len", "Math", "JSON", "require"} {
		t.Run(name, func(t *testing.T) {
			if out := mustRun(t, ns, "typeof "+name); out == "\"undefined\"\n" {
				t.Errorf("expected %s to be present", name)
			}
		})
	}
}

func TestCustomPolicyRemovesPrimitives(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{Policy: policy.New(nil, []string{"print"})})

	if out := mustRun(t, ns, "typeof Math"); out != "\"undefined\"\n" {
		t.Errorf("expected Math removed, got %q", out)
	}
	if names := ns.Names(); slices.Contains(names, "len") {
		t.Errorf("len should not be exposed: %v", names)
	}
	if _, err := run(t, ns, "require('math')"); !errors.Is(err, policy.ErrImportDenied) {
		t.Errorf("expected denial with empty module list, got %v", err)
	}
}

func TestCodeGenerationBlocked(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	_, err := run(t, ns, "(function() {}).constructor('return 1')()")
	if err == nil || !strings.Contains(err.Error(), "code generation") {
		t.Errorf("expected code generation error, got %v", err)
	}
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"sum([1, 2, 3])", "6\n"},
		{"max(3, 9, 2)", "9\n"},
		{"min([4, 1])", "1\n"},
		{"len('héllo')", "5\n"},
		{"len([1, 2])", "2\n"},
		{"range(3)", "[0, 1, 2]\n"},
		{"range(5, 0, -2)", "[5, 3, 1]\n"},
		{"sorted([3, 1, 2])", "[1, 2, 3]\n"},
		{"sorted(['bb', 'a'], function(s) { return s.length })", "[\"a\", \"bb\"]\n"},
		{"enumerate(['a'])", "[[0,\"a\"]]\n"},
		{"all([1, 0])", "false\n"},
		{"any([0, 1])", "true\n"},
		{"filter(null, [0, 1, 2])", "[1, 2]\n"},
		{"map(function(x) { return x * 2 }, [1, 2])", "[2, 4]\n"},
		{"getattr({}, 'x', 5)", "5\n"},
		{"hasattr({a: 1}, 'a')", "true\n"},
	}

	ns := newTestNamespace(t, engine.Options{})
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			if got := mustRun(t, ns, tt.source); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVarsListsUserNames(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})
	mustRun(t, ns, "answer = 42")

	if out := mustRun(t, ns, "Object.keys(vars())"); out != "[\"answer\"]\n" {
		t.Errorf("expected [answer], got %q", out)
	}
}

func TestEvaluationError(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	_, err := run(t, ns, "throw new Error('boom')")
	if !errors.Is(err, engine.ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation, got %v", err)
	}
	if !strings.Contains(engine.Render(err), "boom") {
		t.Errorf("unexpected rendering %q", engine.Render(err))
	}

	// The namespace survives.
	if out := mustRun(t, ns, "1"); out != "1\n" {
		t.Errorf("expected 1, got %q", out)
	}
}

func TestMaxCallStack(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{MaxCallStack: 50})

	if _, err := run(t, ns, "function f() { return f() }; f()"); err == nil {
		t.Error("expected stack overflow error")
	}
}

func TestIdempotentAcrossNamespaces(t *testing.T) {
	sources := []string{"a = [3, 1, 2]", "sorted(a)", "len(a)", "require('os')", "a"}

	capture := func() []string {
		ns := newTestNamespace(t, engine.Options{})
		var outputs []string
		for _, src := range sources {
			out, err := run(t, ns, src)
			if err != nil {
				out = engine.Render(err)
			}
			outputs = append(outputs, out)
		}
		return outputs
	}

	first, second := capture(), capture()
	if !slices.Equal(first, second) {
		t.Errorf("outputs differ:\n%v\n%v", first, second)
	}
}

func TestFSModule(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644)
	fsys, err := capability.OpenFS(dir)
	if err != nil {
		t.Fatalf("OpenFS: %v", err)
	}
	defer fsys.Close()

	pol := policy.Default().With([]string{"fs"}, nil)
	ns := newTestNamespace(t, engine.Options{Policy: pol, FS: fsys})
	if out := mustRun(t, ns, "require('fs').read('a.txt')"); out != "\"hello\"\n" {
		t.Errorf("expected hello, got %q", out)
	}
	if out := mustRun(t, ns, "require('fs').exists('../a.txt')"); out != "false\n" {
		t.Errorf("expected escape to be hidden, got %q", out)
	}

	noFS := newTestNamespace(t, engine.Options{Policy: pol})
	if _, err := run(t, noFS, "require('fs')"); !errors.Is(err, engine.ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound without an FS, got %v", err)
	}
}

func TestFetchBuiltin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	fetcher := capability.NewFetcher(5*time.Second, nil)

	withoutGrant := newTestNamespace(t, engine.Options{Fetcher: fetcher})
	if out := mustRun(t, withoutGrant, "typeof fetch"); out != "\"undefined\"\n" {
		t.Errorf("fetch must need a policy grant, got %q", out)
	}

	pol := policy.Default().With(nil, []string{"fetch"})
	ns := newTestNamespace(t, engine.Options{Policy: pol, Fetcher: fetcher})
	if out := mustRun(t, ns, fmt.Sprintf("fetch(%q)", srv.URL)); out != "\"pong\"\n" {
		t.Errorf("expected pong, got %q", out)
	}
}

func TestEchoCyclicValues(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"var a = {}; a.self = a; a", "{\"self\":\"[Circular]\"}\n"},
		{"var b = []; b.push(b); b", "[\"[Circular]\"]\n"},
		{"var c = {n: 1}; c.list = [c, 2]; c", "{\"list\":[\"[Circular]\",2],\"n\":1}\n"},
		// A shared but acyclic value is printed in full each time.
		{"var s = [1]; ({x: s, y: s})", "{\"x\":[1],\"y\":[1]}\n"},
	}

	ns := newTestNamespace(t, engine.Options{})
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			if got := mustRun(t, ns, tt.source); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHelpersRejectBadLength(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	for _, source := range []string{"sum({length: -1})", "sum({length: 2e9})", "sorted({length: 1e12})"} {
		_, err := run(t, ns, source)
		if err == nil {
			t.Fatalf("%q: expected an error", source)
		}
		if got := engine.Render(err); !strings.Contains(got, "TypeError") {
			t.Errorf("%q: unexpected rendering %q", source, got)
		}
	}
	if out := mustRun(t, ns, "sum({length: 2, 0: 3, 1: 4})"); out != "7\n" {
		t.Errorf("array-like within range should work, got %q", out)
	}
}

func TestRequireDeniedBeforeRun(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})
	before := ns.Names()

	for _, source := range []string{
		"var os = require('os')",
		"const m = require(\"os\")",
		"print('side effect'); function f() { return require('subprocess') }",
	} {
		c := ns.Compile(source)
		if c.Outcome != engine.Invalid {
			t.Fatalf("%q: expected Invalid, got %v", source, c.Outcome)
		}
		if !errors.Is(c.Err, policy.ErrImportDenied) {
			t.Errorf("%q: expected ErrImportDenied, got %v", source, c.Err)
		}
	}
	if !slices.Equal(before, ns.Names()) {
		t.Errorf("namespace changed:\nbefore %v\nafter  %v", before, ns.Names())
	}

	// The rejected const left no binding behind.
	if out := mustRun(t, ns, "const m = require('math'); m.floor(2.5)"); out != "2\n" {
		t.Errorf("expected 2, got %q", out)
	}
}

func TestEchoTruncatesByRunes(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	out := mustRun(t, ns, "'é'.repeat(1500)")
	if !utf8.ValidString(out) {
		t.Fatalf("echo is not valid UTF-8: %q", out)
	}
	if !strings.HasSuffix(out, "... (truncated, total 1500 chars)\n") {
		t.Errorf("unexpected suffix in %q", out[len(out)-60:])
	}
	if got := strings.Count(out, "é"); got != 1000 {
		t.Errorf("expected 1000 runes kept, got %d", got)
	}
}
