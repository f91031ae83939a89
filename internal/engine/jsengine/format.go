package jsengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

const (
	maxEchoString = 1000
	maxEchoItems  = 20
)

// circular marks a value already being printed further up.
const circular = "[Circular]"

// formatValue renders an echoed completion value.
func formatValue(val goja.Value) string {
	if goja.IsNull(val) {
		return "null"
	}

	switch v := val.Export().(type) {
	case string:
		if r := []rune(v); len(r) > maxEchoString {
			return fmt.Sprintf("%q... (truncated, total %d chars)", string(r[:maxEchoString]), len(r))
		}
		return fmt.Sprintf("%q", v)
	case []any:
		if len(v) == 0 {
			return "[]"
		}
		seen := map[uintptr]struct{}{reflect.ValueOf(v).Pointer(): {}}
		shown := v
		if len(v) > maxEchoItems {
			shown = v[:maxEchoItems]
		}
		items := make([]string, 0, len(shown)+1)
		for _, item := range shown {
			var b strings.Builder
			writeExported(&b, item, seen)
			items = append(items, b.String())
		}
		if len(v) > maxEchoItems {
			items = append(items, fmt.Sprintf("... (%d more items)", len(v)-maxEchoItems))
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		return formatExported(v)
	default:
		return val.String()
	}
}

// formatExported renders an exported value as compact JSON. A map or array
// that contains itself prints as [Circular] at the point of recursion.
func formatExported(v any) string {
	var b strings.Builder
	writeExported(&b, v, make(map[uintptr]struct{}))
	return b.String()
}

func writeExported(b *strings.Builder, v any, seen map[uintptr]struct{}) {
	switch x := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(x).Pointer()
		if _, ok := seen[ptr]; ok {
			b.WriteString(`"` + circular + `"`)
			return
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeScalar(b, k)
			b.WriteByte(':')
			writeExported(b, x[k], seen)
		}
		b.WriteByte('}')
	case []any:
		if len(x) > 0 {
			ptr := reflect.ValueOf(x).Pointer()
			if _, ok := seen[ptr]; ok {
				b.WriteString(`"` + circular + `"`)
				return
			}
			seen[ptr] = struct{}{}
			defer delete(seen, ptr)
		}
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeExported(b, item, seen)
		}
		b.WriteByte(']')
	default:
		writeScalar(b, x)
	}
}

// writeScalar writes a leaf value as JSON. Values JSON cannot express, like
// functions, print as null.
func writeScalar(b *strings.Builder, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		b.WriteString("null")
		return
	}
	b.WriteString(strings.TrimSuffix(buf.String(), "\n"))
}
