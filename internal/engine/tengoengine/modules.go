package tengoengine

import (
	"errors"
	"fmt"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

// guardedModules is the only module table the compiler sees. It consults
// the policy before the underlying map and remembers why a lookup failed,
// since the compiler reports every failure as "not found".
type guardedModules struct {
	policy  *policy.Policy
	modules *tengo.ModuleMap

	denied  error
	missing string
}

var _ tengo.ModuleGetter = (*guardedModules)(nil)

func (g *guardedModules) Get(name string) tengo.Importable {
	if err := g.policy.CheckImport(name); err != nil {
		if g.denied == nil {
			g.denied = err
		}
		return nil
	}
	mod := g.modules.Get(name)
	if mod == nil && g.missing == "" {
		g.missing = name
	}
	return mod
}

func (g *guardedModules) reset() {
	g.denied = nil
	g.missing = ""
}

// explain turns a compile error into the error reported to the submitter.
func (g *guardedModules) explain(err error) error {
	switch {
	case g.denied != nil:
		return g.denied
	case g.missing != "":
		return fmt.Errorf("%w: %q", engine.ErrModuleNotFound, g.missing)
	}
	var compileErr *tengo.CompilerError
	if errors.As(err, &compileErr) {
		return &engine.SyntaxError{Message: compileErr.Err.Error()}
	}
	return &engine.SyntaxError{Message: err.Error()}
}

// moduleMap holds every module the engine implements; the guard filters
// it per lookup. os is left out entirely.
func (ns *Namespace) moduleMap() *tengo.ModuleMap {
	names := make([]string, 0, len(stdlib.AllModuleNames()))
	for _, name := range stdlib.AllModuleNames() {
		if name != "os" {
			names = append(names, name)
		}
	}
	modules := stdlib.GetModuleMap(names...)
	modules.AddBuiltinModule("re", ns.regexModule())
	if ns.fs != nil {
		modules.AddBuiltinModule("fs", ns.fsModule())
	}
	return modules
}

func (ns *Namespace) regexModule() map[string]tengo.Object {
	strArgs := func(args []tengo.Object, n int) ([]string, error) {
		if len(args) < n {
			return nil, tengo.ErrWrongNumArguments
		}
		out := make([]string, n)
		for i := range n {
			s, ok := tengo.ToString(args[i])
			if !ok {
				return nil, tengo.ErrInvalidArgumentType{Name: fmt.Sprintf("argument %d", i+1), Expected: "string", Found: args[i].TypeName()}
			}
			out[i] = s
		}
		return out, nil
	}
	fail := func(err error) (tengo.Object, error) {
		return &tengo.Error{Value: &tengo.String{Value: err.Error()}}, nil
	}

	return map[string]tengo.Object{
		"find_all": &tengo.UserFunction{Name: "find_all", Value: func(args ...tengo.Object) (tengo.Object, error) {
			s, err := strArgs(args, 2)
			if err != nil {
				return nil, err
			}
			matches, err := ns.regex.FindAll(s[0], s[1])
			if err != nil {
				return fail(err)
			}
			return stringArray(matches), nil
		}},
		"search": &tengo.UserFunction{Name: "search", Value: func(args ...tengo.Object) (tengo.Object, error) {
			s, err := strArgs(args, 2)
			if err != nil {
				return nil, err
			}
			match, err := ns.regex.Search(s[0], s[1])
			if err != nil {
				return fail(err)
			}
			return &tengo.String{Value: match}, nil
		}},
		"match": &tengo.UserFunction{Name: "match", Value: func(args ...tengo.Object) (tengo.Object, error) {
			s, err := strArgs(args, 2)
			if err != nil {
				return nil, err
			}
			ok, err := ns.regex.Match(s[0], s[1])
			if err != nil {
				return fail(err)
			}
			return tengo.FromInterface(ok)
		}},
		"split": &tengo.UserFunction{Name: "split", Value: func(args ...tengo.Object) (tengo.Object, error) {
			s, err := strArgs(args, 2)
			if err != nil {
				return nil, err
			}
			n := int64(-1)
			if len(args) > 2 {
				n, _ = tengo.ToInt64(args[2])
			}
			parts, err := ns.regex.Split(s[0], s[1], int(n))
			if err != nil {
				return fail(err)
			}
			return stringArray(parts), nil
		}},
		"replace": &tengo.UserFunction{Name: "replace", Value: func(args ...tengo.Object) (tengo.Object, error) {
			s, err := strArgs(args, 3)
			if err != nil {
				return nil, err
			}
			result, err := ns.regex.Replace(s[0], s[1], s[2])
			if err != nil {
				return fail(err)
			}
			return &tengo.String{Value: result}, nil
		}},
	}
}

func (ns *Namespace) fsModule() map[string]tengo.Object {
	pathArg := func(args []tengo.Object) string {
		if len(args) == 0 {
			return "."
		}
		p, _ := tengo.ToString(args[0])
		return p
	}
	fail := func(err error) (tengo.Object, error) {
		return &tengo.Error{Value: &tengo.String{Value: err.Error()}}, nil
	}

	return map[string]tengo.Object{
		"list": &tengo.UserFunction{Name: "list", Value: func(args ...tengo.Object) (tengo.Object, error) {
			entries, err := ns.fs.List(pathArg(args))
			if err != nil {
				return fail(err)
			}
			return entriesArray(entries), nil
		}},
		"read": &tengo.UserFunction{Name: "read", Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) < 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			content, err := ns.fs.Read(pathArg(args))
			if err != nil {
				return fail(err)
			}
			return &tengo.String{Value: content}, nil
		}},
		"glob": &tengo.UserFunction{Name: "glob", Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) < 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			matches, err := ns.fs.Glob(pathArg(args))
			if err != nil {
				return fail(err)
			}
			return stringArray(matches), nil
		}},
		"exists": &tengo.UserFunction{Name: "exists", Value: func(args ...tengo.Object) (tengo.Object, error) {
			return tengo.FromInterface(ns.fs.Exists(pathArg(args)))
		}},
		"tree": &tengo.UserFunction{Name: "tree", Value: func(args ...tengo.Object) (tengo.Object, error) {
			depth := int64(3)
			if len(args) > 1 {
				depth, _ = tengo.ToInt64(args[1])
			}
			tree, err := ns.fs.Tree(pathArg(args), int(depth))
			if err != nil {
				return fail(err)
			}
			return entriesArray(tree), nil
		}},
	}
}

func stringArray(items []string) *tengo.Array {
	arr := make([]tengo.Object, len(items))
	for i, item := range items {
		arr[i] = &tengo.String{Value: item}
	}
	return &tengo.Array{Value: arr}
}

// entriesArray converts directory listings, including nested children.
func entriesArray(entries []map[string]any) *tengo.Array {
	arr := make([]tengo.Object, 0, len(entries))
	for _, entry := range entries {
		m := make(map[string]tengo.Object, len(entry))
		for k, v := range entry {
			if children, ok := v.([]map[string]any); ok {
				m[k] = entriesArray(children)
				continue
			}
			obj, err := tengo.FromInterface(v)
			if err != nil {
				obj = &tengo.String{Value: fmt.Sprint(v)}
			}
			m[k] = obj
		}
		arr = append(arr, &tengo.ImmutableMap{Value: m})
	}
	return &tengo.Array{Value: arr}
}
