package tengoengine

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

func TestAssignmentThenLookup(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	if out := mustRun(t, ns, "x := 1"); out != "" {
		t.Errorf("assignment should not echo, got %q", out)
	}
	if out := mustRun(t, ns, "x"); out != "1\n" {
		t.Errorf("expected 1, got %q", out)
	}
	mustRun(t, ns, "x = x + 1")
	if out := mustRun(t, ns, "x"); out != "2\n" {
		t.Errorf("expected 2, got %q", out)
	}
}

func TestEcho(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"1 + 2", "3\n"},
		{`"a"`, "\"a\"\n"},
		{"[1, 2]", "[1, 2]\n"},
		{`print("hi", 1)`, "hi 1\n"},
		{"m := {b: 2, a: 1}", ""},
		{"m", "{a: 1, b: 2}\n"},
		{"if true { 5 }", ""},
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
		{"if true {", engine.Incomplete},
		{"f := func() {\n  return 1", engine.Incomplete},
		{"if true {\n  y := 1\n}", engine.Complete},
		{"x := )", engine.Invalid},
		{"never_defined + 1", engine.Invalid},
	}

	ns := newTestNamespace(t, engine.Options{})
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			c := ns.Compile(tt.source)
			if c.Outcome != tt.want {
				t.Fatalf("got %v, want %v (err %v)", c.Outcome, tt.want, c.Err)
			}
			if tt.want == engine.Invalid && !strings.HasPrefix(engine.Render(c.Err), "SyntaxError: ") {
				t.Errorf("unexpected rendering %q", engine.Render(c.Err))
			}
		})
	}
}

func TestCompileDoesNotMutate(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})
	before := ns.Names()

	ns.Compile("never_run := 1")
	if !slices.Equal(before, ns.Names()) {
		t.Error("Compile changed the namespace")
	}
	// The name is still free.
	mustRun(t, ns, "never_run := 2")
}

func TestImportDenied(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})
	before := ns.Names()

	c := ns.Compile("a := 1\nos := import(\"os\")")
	if c.Outcome != engine.Invalid {
		t.Fatalf("expected Invalid, got %v", c.Outcome)
	}
	if !errors.Is(c.Err, policy.ErrImportDenied) {
		t.Fatalf("expected ErrImportDenied, got %v", c.Err)
	}
	if got := engine.Render(c.Err); got != `ImportDenied: import of "os" is not permitted` {
		t.Errorf("unexpected rendering %q", got)
	}

	if !slices.Equal(before, ns.Names()) {
		t.Errorf("namespace changed:\nbefore %v\nafter  %v", before, ns.Names())
	}
	// a was never bound, so it can be declared now.
	mustRun(t, ns, "a := 5")
}

func TestImportAllowed(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	mustRun(t, ns, `text := import("text")`)
	if out := mustRun(t, ns, `text.to_upper("abc")`); out != "\"ABC\"\n" {
		t.Errorf("expected ABC, got %q", out)
	}

	mustRun(t, ns, `re := import("re")`)
	if out := mustRun(t, ns, `len(re.find_all("a", "banana"))`); out != "3\n" {
		t.Errorf("expected 3, got %q", out)
	}
}

func TestImportNotFound(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	// random is allowlisted but Tengo has no module of that name.
	c := ns.Compile(`r := import("random")`)
	if !errors.Is(c.Err, engine.ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", c.Err)
	}
}

func TestCustomPolicyRestrictsBuiltins(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{Policy: policy.New(nil, []string{"print"})})

	names := ns.Names()
	if !slices.Contains(names, "print") || slices.Contains(names, "len") {
		t.Errorf("unexpected names %v", names)
	}
	if c := ns.Compile("len([1])"); c.Outcome != engine.Invalid {
		t.Errorf("expected len to be unresolved, got %v", c.Outcome)
	}
	if c := ns.Compile(`m := import("math")`); !errors.Is(c.Err, policy.ErrImportDenied) {
		t.Errorf("expected denial, got %v", c.Err)
	}
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"sum([1, 2, 3])", "6\n"},
		{"sum([1, 2.5])", "3.5\n"},
		{"max(3, 9, 2)", "9\n"},
		{"min([4, 1])", "1\n"},
		{"sorted([3, 1, 2])", "[1, 2, 3]\n"},
		{"range(3)", "[0, 1, 2]\n"},
		{`enumerate(["a"])`, "[[0, \"a\"]]\n"},
		{"all([1, 0])", "false\n"},
		{"any([0, 1])", "true\n"},
		{`getattr({a: 1}, "b", 5)`, "5\n"},
		{`hasattr({a: 1}, "a")`, "true\n"},
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
	mustRun(t, ns, "answer := 42")

	if out := mustRun(t, ns, "vars()"); out != "{answer: 42}\n" {
		t.Errorf("expected {answer: 42}, got %q", out)
	}
}

func TestRuntimeErrorKeepsEarlierAssignments(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	zero := mustRun(t, ns, "zero := 0")
	if zero != "" {
		t.Fatalf("unexpected output %q", zero)
	}
	_, err := run(t, ns, "a := 1\nb := 1 / zero")
	if !errors.Is(err, engine.ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation, got %v", err)
	}
	if out := mustRun(t, ns, "a"); out != "1\n" {
		t.Errorf("expected 1, got %q", out)
	}
	if out := mustRun(t, ns, "b"); out != "" {
		t.Errorf("expected b to be undefined, got %q", out)
	}
}

func TestBlockScopedSlots(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	mustRun(t, ns, "for i := 0; i < 2; i++ { y := i }")
	mustRun(t, ns, "z := 7")
	mustRun(t, ns, "w := 8")
	if out := mustRun(t, ns, "[z, w]"); out != "[7, 8]\n" {
		t.Errorf("expected [7, 8], got %q", out)
	}
}

func TestMaxAllocs(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{MaxAllocs: 100})

	_, err := run(t, ns, "a := []\nfor i := 0; i < 100000; i++ { a = append(a, i) }")
	if err == nil {
		t.Error("expected allocation limit error")
	}
}

func TestIdempotentAcrossNamespaces(t *testing.T) {
	sources := []string{"a := [3, 1, 2]", "sorted(a)", "len(a)", `os := import("os")`, "a"}

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

	ns := newTestNamespace(t, engine.Options{Policy: policy.Default().With([]string{"fs"}, nil), FS: fsys})
	mustRun(t, ns, `fs := import("fs")`)
	if out := mustRun(t, ns, `fs.read("a.txt")`); out != "\"hello\"\n" {
		t.Errorf("expected hello, got %q", out)
	}
	if out := mustRun(t, ns, `fs.exists("../a.txt")`); out != "false\n" {
		t.Errorf("expected false, got %q", out)
	}
}

func TestFetchBuiltin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	fetcher := capability.NewFetcher(5*time.Second, nil)

	withoutGrant := newTestNamespace(t, engine.Options{Fetcher: fetcher})
	if slices.Contains(withoutGrant.Names(), "fetch") {
		t.Error("fetch must need a policy grant")
	}

	ns := newTestNamespace(t, engine.Options{Policy: policy.Default().With(nil, []string{"fetch"}), Fetcher: fetcher})
	if out := mustRun(t, ns, fmt.Sprintf("fetch(%q)", srv.URL)); out != "\"pong\"\n" {
		t.Errorf("expected pong, got %q", out)
	}
}

func TestEchoCyclicValues(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	mustRun(t, ns, "m := {}\nm.self = m")
	if out := mustRun(t, ns, "m"); out != "{self: [Circular]}\n" {
		t.Errorf("unexpected echo %q", out)
	}
	if out := mustRun(t, ns, "print(m)"); out != "{self: [Circular]}\n" {
		t.Errorf("unexpected print %q", out)
	}

	mustRun(t, ns, "a := [1, 0]\na[1] = a")
	if out := mustRun(t, ns, "a"); out != "[1, [Circular]]\n" {
		t.Errorf("unexpected echo %q", out)
	}

	// Shared but acyclic values print in full.
	mustRun(t, ns, "s := [1]\nboth := {x: s, y: s}")
	if out := mustRun(t, ns, "both"); out != "{x: [1], y: [1]}\n" {
		t.Errorf("unexpected echo %q", out)
	}
}

func TestEchoSlotNotWritable(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	mustRun(t, ns, "__repl_echo__ := 7")
	if out := mustRun(t, ns, "1 + 1"); out != "2\n" {
		t.Errorf("expected 2, got %q", out)
	}
	if out := mustRun(t, ns, "__repl_echo__"); out != "7\n" {
		t.Errorf("expected 7, got %q", out)
	}
	for _, name := range ns.Names() {
		if strings.HasPrefix(name, "\x00") {
			t.Errorf("internal slot %q leaked into Names", name)
		}
	}
}

func TestRepeatedCompilesReportPositions(t *testing.T) {
	ns := newTestNamespace(t, engine.Options{})

	for i := range 200 {
		if c := ns.Compile(fmt.Sprintf("v%d := %d", i, i)); c.Outcome != engine.Complete {
			t.Fatalf("compile %d: %v", i, c.Err)
		}
	}

	c := ns.Compile("x := )")
	var syn *engine.SyntaxError
	if !errors.As(c.Err, &syn) {
		t.Fatalf("expected *SyntaxError, got %v", c.Err)
	}
	if syn.Line != 1 || syn.Column < 1 {
		t.Errorf("unexpected position %d:%d", syn.Line, syn.Column)
	}
}
