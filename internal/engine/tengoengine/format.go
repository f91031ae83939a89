package tengoengine

import (
	"sort"
	"strconv"
	"strings"

	"github.com/d5/tengo/v2"
)

// objectToString converts a Tengo object to its printed form. Strings are
// written without quotes.
func objectToString(obj tengo.Object) string {
	switch v := obj.(type) {
	case *tengo.String:
		return v.Value
	case *tengo.Int:
		return strconv.FormatInt(v.Value, 10)
	case *tengo.Float:
		return strconv.FormatFloat(v.Value, 'g', -1, 64)
	case *tengo.Bool:
		if !v.IsFalsy() {
			return "true"
		}
		return "false"
	case *tengo.Undefined:
		return "undefined"
	default:
		return formatObject(obj)
	}
}

// circular marks a container already being printed further up.
const circular = "[Circular]"

// formatObject renders an echoed value. Map keys are sorted so the same
// value always prints the same way; a container that holds itself prints
// as [Circular].
func formatObject(obj tengo.Object) string {
	return formatNested(obj, make(map[tengo.Object]struct{}))
}

func formatNested(obj tengo.Object, seen map[tengo.Object]struct{}) string {
	switch obj.(type) {
	case *tengo.Array, *tengo.ImmutableArray, *tengo.Map, *tengo.ImmutableMap:
		if _, ok := seen[obj]; ok {
			return circular
		}
		seen[obj] = struct{}{}
		defer delete(seen, obj)
	}

	switch v := obj.(type) {
	case *tengo.String:
		return strconv.Quote(v.Value)
	case *tengo.Array:
		return formatArray(v.Value, seen)
	case *tengo.ImmutableArray:
		return formatArray(v.Value, seen)
	case *tengo.Map:
		return formatMap(v.Value, seen)
	case *tengo.ImmutableMap:
		return formatMap(v.Value, seen)
	case *tengo.Error:
		if s, ok := v.Value.(*tengo.String); ok {
			return "error: " + s.Value
		}
		return "error: " + formatNested(v.Value, seen)
	case *tengo.Int, *tengo.Float, *tengo.Bool, *tengo.Undefined:
		return objectToString(obj)
	default:
		return obj.String()
	}
}

func formatArray(items []tengo.Object, seen map[tengo.Object]struct{}) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = formatNested(item, seen)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatMap(m map[string]tengo.Object, seen map[tengo.Object]struct{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + formatNested(m[k], seen)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
