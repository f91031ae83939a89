// Package jsengine evaluates JavaScript in a goja runtime stripped down to
// the globals an allowlist permits.
package jsengine

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/itsmostafa/gosandbox/internal/capability"
	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

// Name is the engine name used in configuration.
const Name = "js"

// filename labels positions in error messages.
const filename = "<console>"

// unexpectedEOF is the parser message for source that ends inside a
// construct.
const unexpectedEOF = "Unexpected end of input"

// Engine creates JavaScript namespaces.
type Engine struct{}

// New returns the JavaScript engine.
func New() Engine { return Engine{} }

// Name implements engine.Engine.
func (Engine) Name() string { return Name }

// NewNamespace implements engine.Engine.
func (Engine) NewNamespace(opts engine.Options) (engine.Namespace, error) {
	return NewNamespace(opts)
}

// Namespace is one goja runtime. All submitted programs share it.
type Namespace struct {
	vm      *goja.Runtime
	policy  *policy.Policy
	modules map[string]moduleFactory
	loaded  map[string]goja.Value

	// initial holds the global names present right after setup; vars()
	// reports everything else.
	initial map[string]struct{}

	out     io.Writer
	regex   *capability.Regex
	fetcher *capability.Fetcher
	fs      *capability.FS
	rand    *rand.Rand
}

var _ engine.Namespace = (*Namespace)(nil)

// NewNamespace builds the runtime: code generation from strings is
// disabled, globals outside the allowlist are deleted, permitted Go builtins
// are bound and require is installed as the only import path.
func NewNamespace(opts engine.Options) (*Namespace, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	vm := goja.New()
	if opts.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(opts.MaxCallStack)
	}

	ns := &Namespace{
		vm:      vm,
		policy:  opts.Policy,
		loaded:  make(map[string]goja.Value),
		out:     io.Discard,
		regex:   capability.NewRegex(),
		fetcher: opts.Fetcher,
		fs:      opts.FS,
		rand:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	ns.modules = ns.moduleCatalog()

	if _, err := vm.RunString(disableCodeGeneration); err != nil {
		return nil, fmt.Errorf("jsengine: disable code generation: %w", err)
	}
	if err := ns.restrictGlobals(); err != nil {
		return nil, err
	}
	for name, value := range policy.Exposed(ns.policy, ns.builtinCatalog()) {
		if err := vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("jsengine: set %s: %w", name, err)
		}
	}
	if err := vm.Set("require", ns.require); err != nil {
		return nil, fmt.Errorf("jsengine: set require: %w", err)
	}

	ns.initial = make(map[string]struct{})
	for _, name := range ns.Names() {
		ns.initial[name] = struct{}{}
	}
	return ns, nil
}

// disableCodeGeneration replaces the constructors reachable through function
// prototypes, which would otherwise compile strings like eval does.
const disableCodeGeneration = `(function() {
	var blocked = function() { throw new TypeError("code generation from strings is disabled"); };
	var samples = [function() {}];
	try { samples.push(eval("(function*() {})")); } catch (e) {}
	try { samples.push(eval("(async function() {})")); } catch (e) {}
	samples.forEach(function(f) {
		try {
			Object.defineProperty(Object.getPrototypeOf(f), "constructor", {
				value: blocked, writable: false, configurable: false
			});
		} catch (e) {}
	});
})();`

// restrictGlobals deletes every global the policy does not name. The
// non-configurable value properties (undefined, NaN, Infinity) survive a
// delete attempt; they carry no capability.
func (ns *Namespace) restrictGlobals() error {
	global := ns.vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if ns.policy.MayExpose(name) {
			continue
		}
		switch name {
		case "undefined", "NaN", "Infinity":
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("jsengine: remove global %s: %w", name, err)
		}
	}
	return nil
}

// program is a compiled unit plus whether its completion value is echoed.
type program struct {
	compiled *goja.Program
	echo     bool
}

// Compile implements engine.Namespace. Imports named by a string literal are
// checked here, so a denied import never runs any of the program.
func (ns *Namespace) Compile(source string) engine.Compilation {
	prg, err := parser.ParseFile(nil, filename, source, 0)
	if err != nil {
		if isIncomplete(err) {
			return engine.Compilation{Outcome: engine.Incomplete}
		}
		return engine.Compilation{Outcome: engine.Invalid, Err: syntaxError(err)}
	}

	if err := ns.checkImports(prg); err != nil {
		return engine.Compilation{Outcome: engine.Invalid, Err: err}
	}

	compiled, err := goja.CompileAST(prg, false)
	if err != nil {
		return engine.Compilation{Outcome: engine.Invalid, Err: syntaxError(err)}
	}
	return engine.Compilation{
		Outcome: engine.Complete,
		Program: &program{compiled: compiled, echo: echoes(prg)},
	}
}

// Exec implements engine.Namespace.
func (ns *Namespace) Exec(prog engine.Program, out io.Writer) error {
	p, ok := prog.(*program)
	if !ok {
		return fmt.Errorf("jsengine: cannot run %T", prog)
	}

	ns.out = out
	defer func() { ns.out = io.Discard }()

	val, err := ns.vm.RunProgram(p.compiled)
	if err != nil {
		return evaluationError(err)
	}
	if p.echo && val != nil && !goja.IsUndefined(val) {
		if _, err := fmt.Fprintln(out, formatValue(val)); err != nil {
			return err
		}
	}
	return nil
}

// Names implements engine.Namespace. Names bound with let, const or class
// live outside the global object and are not listed.
func (ns *Namespace) Names() []string {
	names := ns.vm.GlobalObject().GetOwnPropertyNames()
	sort.Strings(names)
	return names
}

// isIncomplete reports whether a parse error means more input may fix it.
func isIncomplete(err error) bool {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return list[0].Message == unexpectedEOF
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return single.Message == unexpectedEOF
	}
	return strings.Contains(err.Error(), unexpectedEOF)
}

func syntaxError(err error) *engine.SyntaxError {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return &engine.SyntaxError{
			Message: list[0].Message,
			Line:    list[0].Position.Line,
			Column:  list[0].Position.Column,
		}
	}
	return &engine.SyntaxError{Message: err.Error()}
}

// echoes reports whether the completion value should be shown: the last
// statement is an expression that is not an assignment.
func echoes(prg *ast.Program) bool {
	if len(prg.Body) == 0 {
		return false
	}
	stmt, ok := prg.Body[len(prg.Body)-1].(*ast.ExpressionStatement)
	if !ok {
		return false
	}
	_, assign := stmt.Expression.(*ast.AssignExpression)
	return !assign
}

// evaluationError converts a goja failure into an engine.EvaluationError,
// keeping a Go error thrown by a builtin reachable through Unwrap.
func evaluationError(err error) error {
	return &engine.EvaluationError{Message: err.Error(), Err: goErrorOf(err)}
}

func goErrorOf(err error) error {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return err
	}
	obj, ok := exc.Value().(*goja.Object)
	if !ok {
		return nil
	}
	if v := obj.Get("value"); v != nil {
		if inner, ok := v.Export().(error); ok {
			return inner
		}
	}
	return nil
}

// throw raises err inside the runtime. A JavaScript exception is rethrown
// unchanged; any other error becomes a GoError.
func (ns *Namespace) throw(err error) {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		panic(exc)
	}
	panic(ns.vm.NewGoError(err))
}
