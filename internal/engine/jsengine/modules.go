package jsengine

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

// moduleFactory builds a module object on first import.
type moduleFactory func() *goja.Object

func (ns *Namespace) moduleCatalog() map[string]moduleFactory {
	catalog := map[string]moduleFactory{
		"math":    ns.mathModule,
		"strings": ns.stringsModule,
		"json":    ns.jsonModule,
		"re":      ns.regexModule,
		"time":    ns.timeModule,
		"random":  ns.randomModule,
		"base64":  ns.base64Module,
		"hex":     ns.hexModule,
	}
	if ns.fs != nil {
		catalog["fs"] = ns.fsModule
	}
	return catalog
}

// resolveModule is the single import path: the policy is consulted before
// the catalog, so a denied name never reaches a factory.
func resolveModule(p *policy.Policy, catalog map[string]moduleFactory, name string) (moduleFactory, error) {
	if err := p.CheckImport(name); err != nil {
		return nil, err
	}
	factory, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrModuleNotFound, name)
	}
	return factory, nil
}

// require implements require(name). Modules are built once per namespace.
func (ns *Namespace) require(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if mod, ok := ns.loaded[name]; ok {
		return mod
	}
	factory, err := resolveModule(ns.policy, ns.modules, name)
	if err != nil {
		ns.throw(err)
	}
	mod := factory()
	ns.loaded[name] = mod
	return mod
}

// object builds a module object from named functions.
func (ns *Namespace) object(members map[string]any) *goja.Object {
	obj := ns.vm.NewObject()
	for name, member := range members {
		_ = obj.Set(name, member)
	}
	return obj
}

func (ns *Namespace) mathModule() *goja.Object {
	unary := func(fn func(float64) float64) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return ns.number(fn(call.Argument(0).ToFloat()))
		}
	}
	return ns.object(map[string]any{
		"pi":    math.Pi,
		"e":     math.E,
		"inf":   math.Inf(1),
		"sqrt":  unary(math.Sqrt),
		"floor": unary(math.Floor),
		"ceil":  unary(math.Ceil),
		"fabs":  unary(math.Abs),
		"log":   unary(math.Log),
		"log2":  unary(math.Log2),
		"log10": unary(math.Log10),
		"exp":   unary(math.Exp),
		"sin":   unary(math.Sin),
		"cos":   unary(math.Cos),
		"tan":   unary(math.Tan),
		"pow": func(call goja.FunctionCall) goja.Value {
			return ns.number(math.Pow(call.Argument(0).ToFloat(), call.Argument(1).ToFloat()))
		},
		"isclose": func(call goja.FunctionCall) goja.Value {
			a, b := call.Argument(0).ToFloat(), call.Argument(1).ToFloat()
			return ns.vm.ToValue(math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b)))
		},
	})
}

func (ns *Namespace) stringsModule() *goja.Object {
	str := func(fn func(string) string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(fn(call.Argument(0).String()))
		}
	}
	pred := func(fn func(string, string) bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(fn(call.Argument(0).String(), call.Argument(1).String()))
		}
	}
	return ns.object(map[string]any{
		"upper":      str(strings.ToUpper),
		"lower":      str(strings.ToLower),
		"trim":       str(strings.TrimSpace),
		"contains":   pred(strings.Contains),
		"has_prefix": pred(strings.HasPrefix),
		"has_suffix": pred(strings.HasSuffix),
		"split": func(call goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(strings.Split(call.Argument(0).String(), call.Argument(1).String()))
		},
		"join": func(call goja.FunctionCall) goja.Value {
			items := ns.items(call.Argument(0))
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = item.String()
			}
			return ns.vm.ToValue(strings.Join(parts, call.Argument(1).String()))
		},
		"replace": func(call goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(strings.ReplaceAll(call.Argument(0).String(), call.Argument(1).String(), call.Argument(2).String()))
		},
		"repeat": func(call goja.FunctionCall) goja.Value {
			n := call.Argument(1).ToInteger()
			if n < 0 || n > maxRange {
				panic(ns.vm.NewTypeError("repeat count out of range"))
			}
			return ns.vm.ToValue(strings.Repeat(call.Argument(0).String(), int(n)))
		},
	})
}

func (ns *Namespace) jsonModule() *goja.Object {
	return ns.object(map[string]any{
		"dumps": func(call goja.FunctionCall) goja.Value {
			var (
				data []byte
				err  error
			)
			if indent := call.Argument(1); !goja.IsUndefined(indent) {
				data, err = json.MarshalIndent(call.Argument(0).Export(), "", strings.Repeat(" ", int(indent.ToInteger())))
			} else {
				data, err = json.Marshal(call.Argument(0).Export())
			}
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(string(data))
		},
		"loads": func(call goja.FunctionCall) goja.Value {
			var v any
			if err := json.Unmarshal([]byte(call.Argument(0).String()), &v); err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(v)
		},
	})
}

// regexModule exposes the regex helpers under their JavaScript names.
func (ns *Namespace) regexModule() *goja.Object {
	two := func(name string) string {
		return fmt.Sprintf("%s requires 2 arguments: pattern, text", name)
	}
	return ns.object(map[string]any{
		"findAll": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				panic(ns.vm.NewTypeError(two("findAll")))
			}
			matches, err := ns.regex.FindAll(call.Arguments[0].String(), call.Arguments[1].String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(matches)
		},
		"search": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				panic(ns.vm.NewTypeError(two("search")))
			}
			match, err := ns.regex.Search(call.Arguments[0].String(), call.Arguments[1].String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(match)
		},
		"match": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				panic(ns.vm.NewTypeError(two("match")))
			}
			ok, err := ns.regex.Match(call.Arguments[0].String(), call.Arguments[1].String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(ok)
		},
		"split": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				panic(ns.vm.NewTypeError("split requires at least 2 arguments: pattern, text"))
			}
			n := -1
			if len(call.Arguments) >= 3 {
				n = int(call.Arguments[2].ToInteger())
			}
			parts, err := ns.regex.Split(call.Arguments[0].String(), call.Arguments[1].String(), n)
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(parts)
		},
		"replace": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 3 {
				panic(ns.vm.NewTypeError("replace requires 3 arguments: pattern, text, replacement"))
			}
			result, err := ns.regex.Replace(call.Arguments[0].String(), call.Arguments[1].String(), call.Arguments[2].String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(result)
		},
	})
}

func (ns *Namespace) timeModule() *goja.Object {
	return ns.object(map[string]any{
		"time": func(goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(float64(time.Now().UnixNano()) / 1e9)
		},
		"time_ns": func(goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(time.Now().UnixNano())
		},
		"isoformat": func(goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(time.Now().UTC().Format(time.RFC3339))
		},
	})
}

func (ns *Namespace) randomModule() *goja.Object {
	return ns.object(map[string]any{
		"random": func(goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(ns.rand.Float64())
		},
		"randint": func(call goja.FunctionCall) goja.Value {
			lo, hi := call.Argument(0).ToInteger(), call.Argument(1).ToInteger()
			if hi < lo {
				panic(ns.vm.NewTypeError("randint: empty range"))
			}
			return ns.vm.ToValue(lo + ns.rand.Int64N(hi-lo+1))
		},
		"choice": func(call goja.FunctionCall) goja.Value {
			items := ns.items(call.Argument(0))
			if len(items) == 0 {
				panic(ns.vm.NewTypeError("choice from an empty sequence"))
			}
			return items[ns.rand.IntN(len(items))]
		},
	})
}

func (ns *Namespace) base64Module() *goja.Object {
	return ns.object(map[string]any{
		"encode": func(call goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
		},
		"decode": func(call goja.FunctionCall) goja.Value {
			data, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(string(data))
		},
	})
}

func (ns *Namespace) hexModule() *goja.Object {
	return ns.object(map[string]any{
		"encode": func(call goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(hex.EncodeToString([]byte(call.Argument(0).String())))
		},
		"decode": func(call goja.FunctionCall) goja.Value {
			data, err := hex.DecodeString(call.Argument(0).String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(string(data))
		},
	})
}

// fsModule binds the read-only filesystem view.
func (ns *Namespace) fsModule() *goja.Object {
	pathArg := func(call goja.FunctionCall) string {
		if len(call.Arguments) == 0 || goja.IsUndefined(call.Arguments[0]) {
			return "."
		}
		return call.Arguments[0].String()
	}
	return ns.object(map[string]any{
		"list": func(call goja.FunctionCall) goja.Value {
			entries, err := ns.fs.List(pathArg(call))
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(entries)
		},
		"read": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 1 {
				panic(ns.vm.NewTypeError("read requires 1 argument: path"))
			}
			content, err := ns.fs.Read(call.Arguments[0].String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(content)
		},
		"glob": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 1 {
				panic(ns.vm.NewTypeError("glob requires 1 argument: pattern"))
			}
			matches, err := ns.fs.Glob(call.Arguments[0].String())
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(matches)
		},
		"exists": func(call goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(ns.fs.Exists(pathArg(call)))
		},
		"tree": func(call goja.FunctionCall) goja.Value {
			depth := 3
			if len(call.Arguments) >= 2 {
				depth = int(call.Arguments[1].ToInteger())
			}
			tree, err := ns.fs.Tree(pathArg(call), depth)
			if err != nil {
				ns.throw(err)
			}
			return ns.vm.ToValue(tree)
		},
	})
}
