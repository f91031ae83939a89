// Package tengoengine evaluates Tengo scripts in a persistent REPL-style
// namespace: globals, constants and the symbol table outlive each program.
package tengoengine

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/parser"

	"github.com/itsmostafa/gosandbox/internal/capability"
	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

// Name is the engine name used in configuration.
const Name = "tengo"

const (
	filename = "console"

	// echoName and slotPlaceholder start with a NUL byte, which no Tengo
	// identifier can contain, so submitted code cannot rebind them.
	echoName        = "\x00echo"
	slotPlaceholder = "\x00slot"

	// incompleteMarker appears in parser errors for input that ends early.
	incompleteMarker = "found 'EOF'"
)

// Engine creates Tengo namespaces.
type Engine struct{}

// New returns the Tengo engine.
func New() Engine { return Engine{} }

// Name implements engine.Engine.
func (Engine) Name() string { return Name }

// NewNamespace implements engine.Engine.
func (Engine) NewNamespace(opts engine.Options) (engine.Namespace, error) {
	return NewNamespace(opts)
}

// Namespace holds the state shared by every program compiled against it.
type Namespace struct {
	policy    *policy.Policy
	globals   []tengo.Object
	constants []tengo.Object
	modules   *guardedModules
	maxAllocs int64

	// builtins are the permitted tengo builtins, by index into
	// tengo.GetAllBuiltinFunctions.
	builtins map[int]string

	// slots maps each committed global index to its name. Slots used by
	// block-scoped variables have no name.
	slots   []string
	initial map[string]struct{}

	// pending is the slot table of the program being executed.
	pending []string

	out     io.Writer
	regex   *capability.Regex
	fetcher *capability.Fetcher
	fs      *capability.FS
}

var _ engine.Namespace = (*Namespace)(nil)

// NewNamespace defines the permitted builtins and helper functions and
// installs the guarded module table.
func NewNamespace(opts engine.Options) (*Namespace, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	maxAllocs := opts.MaxAllocs
	if maxAllocs <= 0 {
		maxAllocs = -1
	}

	ns := &Namespace{
		policy:    opts.Policy,
		globals:   make([]tengo.Object, tengo.GlobalsSize),
		maxAllocs: maxAllocs,
		builtins:  make(map[int]string),
		out:       io.Discard,
		regex:     capability.NewRegex(),
		fetcher:   opts.Fetcher,
		fs:        opts.FS,
	}
	ns.modules = &guardedModules{policy: opts.Policy, modules: ns.moduleMap()}

	functions := policy.Exposed(ns.policy, ns.functionCatalog())
	for idx, fn := range tengo.GetAllBuiltinFunctions() {
		if _, shadowed := functions[fn.Name]; shadowed || !ns.policy.MayExpose(fn.Name) {
			continue
		}
		ns.builtins[idx] = fn.Name
	}

	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)

	ns.slots = append([]string{echoName}, names...)
	ns.globals[0] = &tengo.UserFunction{Name: "echo", Value: ns.echo}
	for i, name := range names {
		ns.globals[i+1] = functions[name]
	}

	ns.initial = make(map[string]struct{})
	for _, name := range ns.Names() {
		ns.initial[name] = struct{}{}
	}
	return ns, nil
}

// symbolTable rebuilds the committed scope. Defining the slots in order
// reproduces their indexes; unnamed slots get placeholders source code
// cannot spell.
func (ns *Namespace) symbolTable() *tengo.SymbolTable {
	table := tengo.NewSymbolTable()
	for idx, name := range ns.builtins {
		table.DefineBuiltin(idx, name)
	}
	for i, name := range ns.slots {
		if name == "" {
			name = fmt.Sprintf("%s%d", slotPlaceholder, i)
		}
		table.Define(name)
	}
	return table
}

// slotsOf reads the global index assignment back out of a table.
func slotsOf(table *tengo.SymbolTable) []string {
	slots := make([]string, table.MaxSymbols())
	for _, name := range table.Names() {
		sym, _, ok := table.Resolve(name, false)
		if !ok || sym.Scope != tengo.ScopeGlobal || strings.HasPrefix(name, slotPlaceholder) {
			continue
		}
		for sym.Index >= len(slots) {
			slots = append(slots, "")
		}
		slots[sym.Index] = name
	}
	return slots
}

type program struct {
	bytecode *tengo.Bytecode
	slots    []string
}

// Compile implements engine.Namespace. It compiles against a rebuilt copy
// of the scope, so a failed compile leaves the namespace untouched.
func (ns *Namespace) Compile(source string) engine.Compilation {
	srcFile := parser.NewFileSet().AddFile(filename, -1, len(source))
	p := parser.NewParser(srcFile, []byte(source), nil)
	file, err := p.ParseFile()
	if err != nil {
		if isIncomplete(err) {
			return engine.Compilation{Outcome: engine.Incomplete}
		}
		return engine.Compilation{Outcome: engine.Invalid, Err: syntaxError(err)}
	}

	table := ns.symbolTable()
	ns.modules.reset()
	c := tengo.NewCompiler(srcFile, table, slices.Clip(ns.constants), ns.modules, nil)
	if err := c.Compile(withEcho(file)); err != nil {
		return engine.Compilation{Outcome: engine.Invalid, Err: ns.modules.explain(err)}
	}

	return engine.Compilation{
		Outcome: engine.Complete,
		Program: &program{bytecode: c.Bytecode(), slots: slotsOf(table)},
	}
}

// Exec implements engine.Namespace. Names defined by the program are kept
// even when it fails at run time, like assignments that ran before the
// failure.
func (ns *Namespace) Exec(prog engine.Program, out io.Writer) error {
	p, ok := prog.(*program)
	if !ok {
		return fmt.Errorf("tengoengine: cannot run %T", prog)
	}

	ns.out = out
	ns.pending = p.slots
	defer func() {
		ns.out = io.Discard
		ns.pending = nil
	}()

	machine := tengo.NewVM(p.bytecode, ns.globals, ns.maxAllocs)
	runErr := machine.Run()

	ns.slots = p.slots
	ns.constants = p.bytecode.Constants
	for i := range ns.slots {
		if ns.globals[i] == nil {
			ns.globals[i] = tengo.UndefinedValue
		}
	}

	if runErr != nil {
		return &engine.EvaluationError{Message: runErr.Error(), Err: runErr}
	}
	return nil
}

// Names implements engine.Namespace.
func (ns *Namespace) Names() []string {
	names := make([]string, 0, len(ns.builtins)+len(ns.slots))
	for _, name := range ns.builtins {
		names = append(names, name)
	}
	names = append(names, userNames(ns.currentSlots())...)
	sort.Strings(names)
	return slices.Compact(names)
}

func (ns *Namespace) currentSlots() []string {
	if ns.pending != nil {
		return ns.pending
	}
	return ns.slots
}

func userNames(slots []string) []string {
	var names []string
	for _, name := range slots {
		if name != "" && name != echoName {
			names = append(names, name)
		}
	}
	return names
}

// withEcho routes the value of a trailing expression statement through the
// echo function.
func withEcho(file *parser.File) *parser.File {
	if len(file.Stmts) == 0 {
		return file
	}
	last, ok := file.Stmts[len(file.Stmts)-1].(*parser.ExprStmt)
	if !ok {
		return file
	}
	stmts := append([]parser.Stmt(nil), file.Stmts[:len(file.Stmts)-1]...)
	stmts = append(stmts, &parser.ExprStmt{
		Expr: &parser.CallExpr{
			Func:   &parser.Ident{Name: echoName, NamePos: last.Pos()},
			LParen: last.Pos(),
			Args:   []parser.Expr{last.Expr},
			RParen: last.End(),
		},
	})
	return &parser.File{InputFile: file.InputFile, Stmts: stmts}
}

func (ns *Namespace) echo(args ...tengo.Object) (tengo.Object, error) {
	if len(args) == 1 && args[0] != tengo.UndefinedValue {
		fmt.Fprintln(ns.out, formatObject(args[0]))
	}
	return tengo.UndefinedValue, nil
}

func isIncomplete(err error) bool {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return strings.Contains(list[0].Msg, incompleteMarker)
	}
	return strings.Contains(err.Error(), incompleteMarker)
}

func syntaxError(err error) *engine.SyntaxError {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return &engine.SyntaxError{
			Message: list[0].Msg,
			Line:    list[0].Pos.Line,
			Column:  list[0].Pos.Column,
		}
	}
	return &engine.SyntaxError{Message: err.Error()}
}
