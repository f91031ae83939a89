package jsengine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/itsmostafa/gosandbox/internal/capability"
)

// maxRange caps the arrays range() materialises and the length of any
// array-like a builtin walks.
const maxRange = 1_000_000

// builtinCatalog lists every Go builtin the engine can offer. The policy
// picks the subset a namespace receives.
func (ns *Namespace) builtinCatalog() map[string]any {
	console := ns.vm.NewObject()
	_ = console.Set("log", ns.print)
	_ = console.Set("error", ns.print)

	catalog := map[string]any{
		"print":     ns.print,
		"console":   console,
		"len":       ns.length,
		"range":     ns.rangeFunc,
		"min":       ns.extreme(-1),
		"max":       ns.extreme(1),
		"sum":       ns.sum,
		"all":       ns.all,
		"any":       ns.any,
		"map":       ns.mapFunc,
		"filter":    ns.filter,
		"enumerate": ns.enumerate,
		"sorted":    ns.sorted,
		"getattr":   ns.getattr,
		"hasattr":   ns.hasattr,
		"vars":      ns.vars,
		"globals":   ns.globals,
	}
	if ns.fetcher != nil {
		catalog["fetch"] = ns.fetch
	}
	return catalog
}

// print writes its arguments separated by spaces.
func (ns *Namespace) print(call goja.FunctionCall) goja.Value {
	args := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		args[i] = arg.String()
	}
	fmt.Fprintln(ns.out, strings.Join(args, " "))
	return goja.Undefined()
}

func (ns *Namespace) length(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		panic(ns.vm.NewTypeError("len() requires a value"))
	}
	if s, ok := arg.Export().(string); ok {
		return ns.vm.ToValue(utf8.RuneCountInString(s))
	}
	obj := arg.ToObject(ns.vm)
	for _, prop := range []string{"length", "size"} {
		if v := obj.Get(prop); v != nil && !goja.IsUndefined(v) {
			return ns.vm.ToValue(v.ToInteger())
		}
	}
	return ns.vm.ToValue(len(obj.Keys()))
}

// rangeFunc implements range(stop) and range(start, stop[, step]).
func (ns *Namespace) rangeFunc(call goja.FunctionCall) goja.Value {
	var start, stop, step int64 = 0, 0, 1
	switch len(call.Arguments) {
	case 0:
		panic(ns.vm.NewTypeError("range() requires at least 1 argument"))
	case 1:
		stop = call.Argument(0).ToInteger()
	default:
		start = call.Argument(0).ToInteger()
		stop = call.Argument(1).ToInteger()
		if len(call.Arguments) > 2 {
			step = call.Argument(2).ToInteger()
		}
	}
	if step == 0 {
		panic(ns.vm.NewTypeError("range() step must not be zero"))
	}

	var out []any
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(out) >= maxRange {
			panic(ns.vm.NewTypeError("range() larger than %d items", maxRange))
		}
		out = append(out, i)
	}
	return ns.vm.NewArray(out...)
}

// extreme returns min (sign -1) or max (sign 1). It accepts one array or
// several arguments.
func (ns *Namespace) extreme(sign int) func(goja.FunctionCall) goja.Value {
	name := "max"
	if sign < 0 {
		name = "min"
	}
	return func(call goja.FunctionCall) goja.Value {
		items := call.Arguments
		if len(items) == 1 {
			items = ns.items(call.Argument(0))
		}
		if len(items) == 0 {
			panic(ns.vm.NewTypeError("%s() arg is an empty sequence", name))
		}
		best := items[0]
		for _, item := range items[1:] {
			if compareValues(item, best)*sign > 0 {
				best = item
			}
		}
		return best
	}
}

func (ns *Namespace) sum(call goja.FunctionCall) goja.Value {
	total := 0.0
	if len(call.Arguments) > 1 {
		total = call.Argument(1).ToFloat()
	}
	for _, item := range ns.items(call.Argument(0)) {
		total += item.ToFloat()
	}
	return ns.number(total)
}

func (ns *Namespace) all(call goja.FunctionCall) goja.Value {
	for _, item := range ns.items(call.Argument(0)) {
		if !item.ToBoolean() {
			return ns.vm.ToValue(false)
		}
	}
	return ns.vm.ToValue(true)
}

func (ns *Namespace) any(call goja.FunctionCall) goja.Value {
	for _, item := range ns.items(call.Argument(0)) {
		if item.ToBoolean() {
			return ns.vm.ToValue(true)
		}
	}
	return ns.vm.ToValue(false)
}

// mapFunc implements map(fn, items).
func (ns *Namespace) mapFunc(call goja.FunctionCall) goja.Value {
	fn := ns.callable(call.Argument(0), "map")
	var out []any
	for _, item := range ns.items(call.Argument(1)) {
		out = append(out, ns.call(fn, item))
	}
	return ns.vm.NewArray(out...)
}

// filter implements filter(fn, items). A null fn keeps truthy items.
func (ns *Namespace) filter(call goja.FunctionCall) goja.Value {
	var fn goja.Callable
	if pred := call.Argument(0); !goja.IsNull(pred) && !goja.IsUndefined(pred) {
		fn = ns.callable(pred, "filter")
	}
	var out []any
	for _, item := range ns.items(call.Argument(1)) {
		keep := item
		if fn != nil {
			keep = ns.call(fn, item)
		}
		if keep.ToBoolean() {
			out = append(out, item)
		}
	}
	return ns.vm.NewArray(out...)
}

// enumerate returns [index, item] pairs.
func (ns *Namespace) enumerate(call goja.FunctionCall) goja.Value {
	start := int64(0)
	if len(call.Arguments) > 1 {
		start = call.Argument(1).ToInteger()
	}
	var out []any
	for i, item := range ns.items(call.Argument(0)) {
		out = append(out, ns.vm.NewArray(start+int64(i), item))
	}
	return ns.vm.NewArray(out...)
}

// sorted returns a sorted copy, optionally ordered by key(item).
func (ns *Namespace) sorted(call goja.FunctionCall) goja.Value {
	items := append([]goja.Value(nil), ns.items(call.Argument(0))...)
	keys := items
	if keyArg := call.Argument(1); !goja.IsUndefined(keyArg) && !goja.IsNull(keyArg) {
		fn := ns.callable(keyArg, "sorted")
		keys = make([]goja.Value, len(items))
		for i, item := range items {
			keys[i] = ns.call(fn, item)
		}
	}

	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return compareValues(keys[idx[a]], keys[idx[b]]) < 0
	})

	out := make([]any, len(items))
	for i, j := range idx {
		out[i] = items[j]
	}
	return ns.vm.NewArray(out...)
}

// getattr implements getattr(obj, name[, default]).
func (ns *Namespace) getattr(call goja.FunctionCall) goja.Value {
	obj := call.Argument(0).ToObject(ns.vm)
	name := call.Argument(1).String()
	if v := obj.Get(name); v != nil && !goja.IsUndefined(v) {
		return v
	}
	if len(call.Arguments) > 2 {
		return call.Argument(2)
	}
	panic(ns.vm.NewTypeError("object has no attribute %q", name))
}

func (ns *Namespace) hasattr(call goja.FunctionCall) goja.Value {
	obj := call.Argument(0).ToObject(ns.vm)
	v := obj.Get(call.Argument(1).String())
	return ns.vm.ToValue(v != nil && !goja.IsUndefined(v))
}

// vars returns the own properties of its argument, or the names defined by
// submitted code when called without one.
func (ns *Namespace) vars(call goja.FunctionCall) goja.Value {
	result := ns.vm.NewObject()
	if len(call.Arguments) > 0 {
		obj := call.Argument(0).ToObject(ns.vm)
		for _, key := range obj.Keys() {
			_ = result.Set(key, obj.Get(key))
		}
		return result
	}
	global := ns.vm.GlobalObject()
	for _, name := range ns.Names() {
		if _, builtin := ns.initial[name]; builtin {
			continue
		}
		_ = result.Set(name, global.Get(name))
	}
	return result
}

// globals lists every visible global name.
func (ns *Namespace) globals(goja.FunctionCall) goja.Value {
	names := ns.Names()
	out := make([]any, len(names))
	for i, name := range names {
		out[i] = name
	}
	return ns.vm.NewArray(out...)
}

// fetch implements fetch(url[, options]) and returns the body text.
// Options: method, headers, params, data, json.
func (ns *Namespace) fetch(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 {
		panic(ns.vm.NewTypeError("fetch requires a url"))
	}
	req := capability.FetchRequest{URL: call.Argument(0).String()}
	if opts, ok := call.Argument(1).Export().(map[string]any); ok {
		req.Method = stringOption(opts["method"])
		req.Headers = stringMap(opts["headers"])
		req.Params = stringMap(opts["params"])
		req.Data = stringOption(opts["data"])
		req.JSON = opts["json"]
	}

	body, err := ns.fetcher.Fetch(context.Background(), req)
	if err != nil {
		ns.throw(err)
	}
	return ns.vm.ToValue(body)
}

// items converts an array-like value or a string into its elements.
func (ns *Namespace) items(v goja.Value) []goja.Value {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(ns.vm.NewTypeError("expected an array"))
	}
	if s, ok := v.Export().(string); ok {
		out := make([]goja.Value, 0, len(s))
		for _, r := range s {
			out = append(out, ns.vm.ToValue(string(r)))
		}
		return out
	}
	obj := v.ToObject(ns.vm)
	lengthVal := obj.Get("length")
	if lengthVal == nil || goja.IsUndefined(lengthVal) {
		panic(ns.vm.NewTypeError("expected an array"))
	}
	n := lengthVal.ToInteger()
	if n < 0 || n > maxRange {
		panic(ns.vm.NewTypeError("array length %d outside 0..%d", n, maxRange))
	}
	out := make([]goja.Value, 0, min(n, 1024))
	for i := int64(0); i < n; i++ {
		out = append(out, obj.Get(strconv.FormatInt(i, 10)))
	}
	return out
}

func (ns *Namespace) callable(v goja.Value, name string) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(ns.vm.NewTypeError("%s() requires a function", name))
	}
	return fn
}

func (ns *Namespace) call(fn goja.Callable, args ...goja.Value) goja.Value {
	res, err := fn(goja.Undefined(), args...)
	if err != nil {
		ns.throw(err)
	}
	return res
}

// number keeps integral results as integers so they print without a
// fraction.
func (ns *Namespace) number(f float64) goja.Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ns.vm.ToValue(int64(f))
	}
	return ns.vm.ToValue(f)
}

// compareValues orders strings lexically and everything else numerically.
func compareValues(a, b goja.Value) int {
	as, aok := a.Export().(string)
	bs, bok := b.Export().(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	af, bf := a.ToFloat(), b.ToFloat()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func stringOption(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}
