package tengoengine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/d5/tengo/v2"

	"github.com/itsmostafa/gosandbox/internal/capability"
)

// maxRange caps the arrays range() materialises.
const maxRange = 1_000_000

// functionCatalog lists the Go helpers a namespace can expose as globals.
func (ns *Namespace) functionCatalog() map[string]tengo.Object {
	fn := func(name string, value tengo.CallableFunc) tengo.Object {
		return &tengo.UserFunction{Name: name, Value: value}
	}
	catalog := map[string]tengo.Object{
		"print":     fn("print", ns.print),
		"min":       fn("min", extreme(-1)),
		"max":       fn("max", extreme(1)),
		"sum":       fn("sum", sum),
		"all":       fn("all", truthiness(true)),
		"any":       fn("any", truthiness(false)),
		"sorted":    fn("sorted", sorted),
		"enumerate": fn("enumerate", enumerate),
		"range":     fn("range", rangeFunc),
		"getattr":   fn("getattr", getattr),
		"hasattr":   fn("hasattr", hasattr),
		"vars":      fn("vars", ns.vars),
		"globals":   fn("globals", ns.globalNames),
	}
	if ns.fetcher != nil {
		catalog["fetch"] = fn("fetch", ns.fetch)
	}
	return catalog
}

func (ns *Namespace) print(args ...tengo.Object) (tengo.Object, error) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = objectToString(arg)
	}
	fmt.Fprintln(ns.out, strings.Join(parts, " "))
	return tengo.UndefinedValue, nil
}

// elements returns the items of an array, or the arguments themselves
// when there are several.
func elements(args []tengo.Object) ([]tengo.Object, error) {
	if len(args) == 1 {
		switch v := args[0].(type) {
		case *tengo.Array:
			return v.Value, nil
		case *tengo.ImmutableArray:
			return v.Value, nil
		default:
			return nil, tengo.ErrInvalidArgumentType{Name: "first", Expected: "array", Found: args[0].TypeName()}
		}
	}
	return args, nil
}

func extreme(sign int) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		items, err := elements(args)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, tengo.ErrWrongNumArguments
		}
		best := items[0]
		for _, item := range items[1:] {
			if compareObjects(item, best)*sign > 0 {
				best = item
			}
		}
		return best, nil
	}
}

func sum(args ...tengo.Object) (tengo.Object, error) {
	if len(args) < 1 {
		return nil, tengo.ErrWrongNumArguments
	}
	items, err := elements(args[:1])
	if err != nil {
		return nil, err
	}
	var (
		total   int64
		ftotal  float64
		isFloat bool
	)
	if len(args) > 1 {
		items = append([]tengo.Object{args[1]}, items...)
	}
	for i, item := range items {
		switch v := item.(type) {
		case *tengo.Int:
			total += v.Value
		case *tengo.Float:
			ftotal += v.Value
			isFloat = true
		default:
			return nil, tengo.ErrInvalidArgumentType{Name: fmt.Sprintf("array[%d]", i), Expected: "int or float", Found: item.TypeName()}
		}
	}
	if isFloat {
		return &tengo.Float{Value: ftotal + float64(total)}, nil
	}
	return &tengo.Int{Value: total}, nil
}

// truthiness builds all (every true) and any (some true).
func truthiness(every bool) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		items, err := elements(args)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.IsFalsy() == every {
				return tengo.FromInterface(!every)
			}
		}
		return tengo.FromInterface(every)
	}
}

func sorted(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 1 {
		return nil, tengo.ErrWrongNumArguments
	}
	items, err := elements(args)
	if err != nil {
		return nil, err
	}
	out := append([]tengo.Object(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		return compareObjects(out[i], out[j]) < 0
	})
	return &tengo.Array{Value: out}, nil
}

func enumerate(args ...tengo.Object) (tengo.Object, error) {
	if len(args) < 1 {
		return nil, tengo.ErrWrongNumArguments
	}
	items, err := elements(args[:1])
	if err != nil {
		return nil, err
	}
	start := int64(0)
	if len(args) > 1 {
		n, ok := tengo.ToInt64(args[1])
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "second", Expected: "int", Found: args[1].TypeName()}
		}
		start = n
	}
	out := make([]tengo.Object, len(items))
	for i, item := range items {
		out[i] = &tengo.Array{Value: []tengo.Object{&tengo.Int{Value: start + int64(i)}, item}}
	}
	return &tengo.Array{Value: out}, nil
}

func rangeFunc(args ...tengo.Object) (tengo.Object, error) {
	bounds := make([]int64, len(args))
	for i, arg := range args {
		n, ok := tengo.ToInt64(arg)
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: fmt.Sprintf("argument %d", i+1), Expected: "int", Found: arg.TypeName()}
		}
		bounds[i] = n
	}

	var start, stop, step int64 = 0, 0, 1
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	case 3:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	default:
		return nil, tengo.ErrWrongNumArguments
	}
	if step == 0 {
		return nil, fmt.Errorf("range() step must not be zero")
	}

	var out []tengo.Object
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(out) >= maxRange {
			return nil, fmt.Errorf("range() larger than %d items", maxRange)
		}
		out = append(out, &tengo.Int{Value: i})
	}
	return &tengo.Array{Value: out}, nil
}

// mapValue returns the entries of a map or immutable map.
func mapValue(obj tengo.Object) (map[string]tengo.Object, bool) {
	switch v := obj.(type) {
	case *tengo.Map:
		return v.Value, true
	case *tengo.ImmutableMap:
		return v.Value, true
	}
	return nil, false
}

func getattr(args ...tengo.Object) (tengo.Object, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, tengo.ErrWrongNumArguments
	}
	m, ok := mapValue(args[0])
	if !ok {
		return nil, tengo.ErrInvalidArgumentType{Name: "first", Expected: "map", Found: args[0].TypeName()}
	}
	key, _ := tengo.ToString(args[1])
	if v, ok := m[key]; ok {
		return v, nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return nil, fmt.Errorf("object has no attribute %q", key)
}

func hasattr(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 2 {
		return nil, tengo.ErrWrongNumArguments
	}
	m, ok := mapValue(args[0])
	if !ok {
		return tengo.FalseValue, nil
	}
	key, _ := tengo.ToString(args[1])
	if _, ok := m[key]; ok {
		return tengo.TrueValue, nil
	}
	return tengo.FalseValue, nil
}

// vars copies a map argument, or returns the globals defined by submitted
// code.
func (ns *Namespace) vars(args ...tengo.Object) (tengo.Object, error) {
	out := make(map[string]tengo.Object)
	if len(args) > 0 {
		m, ok := mapValue(args[0])
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "first", Expected: "map", Found: args[0].TypeName()}
		}
		for k, v := range m {
			out[k] = v
		}
		return &tengo.Map{Value: out}, nil
	}
	for i, name := range ns.currentSlots() {
		if name == "" || name == echoName {
			continue
		}
		if _, builtin := ns.initial[name]; builtin {
			continue
		}
		if v := ns.globals[i]; v != nil {
			out[name] = v
		}
	}
	return &tengo.Map{Value: out}, nil
}

func (ns *Namespace) globalNames(...tengo.Object) (tengo.Object, error) {
	names := ns.Names()
	out := make([]tengo.Object, len(names))
	for i, name := range names {
		out[i] = &tengo.String{Value: name}
	}
	return &tengo.Array{Value: out}, nil
}

// fetch implements fetch(url[, options]). Failures come back as error
// values.
func (ns *Namespace) fetch(args ...tengo.Object) (tengo.Object, error) {
	if len(args) < 1 {
		return nil, tengo.ErrWrongNumArguments
	}
	url, ok := tengo.ToString(args[0])
	if !ok {
		return nil, tengo.ErrInvalidArgumentType{Name: "first", Expected: "string", Found: args[0].TypeName()}
	}
	req := capability.FetchRequest{URL: url}
	if len(args) > 1 {
		opts, ok := mapValue(args[1])
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "second", Expected: "map", Found: args[1].TypeName()}
		}
		req.Method, _ = tengo.ToString(opts["method"])
		req.Data, _ = tengo.ToString(opts["data"])
		req.Headers = stringMap(opts["headers"])
		req.Params = stringMap(opts["params"])
		if j, ok := opts["json"]; ok {
			req.JSON = tengo.ToInterface(j)
		}
	}

	body, err := ns.fetcher.Fetch(context.Background(), req)
	if err != nil {
		return &tengo.Error{Value: &tengo.String{Value: err.Error()}}, nil
	}
	return &tengo.String{Value: body}, nil
}

func stringMap(obj tengo.Object) map[string]string {
	if obj == nil {
		return nil
	}
	m, ok := mapValue(obj)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = objectToString(v)
	}
	return out
}

// compareObjects orders strings lexically and numbers numerically.
func compareObjects(a, b tengo.Object) int {
	as, aok := a.(*tengo.String)
	bs, bok := b.(*tengo.String)
	if aok && bok {
		return strings.Compare(as.Value, bs.Value)
	}
	af, _ := tengo.ToFloat64(a)
	bf, _ := tengo.ToFloat64(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}
