package jsengine

import (
	"reflect"

	"github.com/dop251/goja/ast"
)

var astPkgPath = reflect.TypeOf(ast.Program{}).PkgPath()

// staticImports lists the module names of every require("literal") call in
// prg, in source order. Calls with a computed argument are left to the
// run-time check in require.
func staticImports(prg *ast.Program) []string {
	var names []string
	walkAST(reflect.ValueOf(prg), func(call *ast.CallExpression) {
		callee, ok := call.Callee.(*ast.Identifier)
		if !ok || callee.Name != "require" || len(call.ArgumentList) == 0 {
			return
		}
		if lit, ok := call.ArgumentList[0].(*ast.StringLiteral); ok {
			names = append(names, lit.Value.String())
		}
	})
	return names
}

// checkImports resolves the static imports of prg before it runs, so a
// program that would fail on an import never starts.
func (ns *Namespace) checkImports(prg *ast.Program) error {
	for _, name := range staticImports(prg) {
		if _, err := resolveModule(ns.policy, ns.modules, name); err != nil {
			return err
		}
	}
	return nil
}

// walkAST visits every call expression reachable from v. Only values from
// the ast package are descended into.
func walkAST(v reflect.Value, visit func(*ast.CallExpression)) {
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			walkAST(v.Elem(), visit)
		}
	case reflect.Pointer:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct || v.Elem().Type().PkgPath() != astPkgPath {
			return
		}
		if call, ok := v.Interface().(*ast.CallExpression); ok {
			visit(call)
		}
		walkAST(v.Elem(), visit)
	case reflect.Struct:
		if v.Type().PkgPath() != astPkgPath {
			return
		}
		for i := range v.NumField() {
			if v.Type().Field(i).IsExported() {
				walkAST(v.Field(i), visit)
			}
		}
	case reflect.Slice:
		for i := range v.Len() {
			walkAST(v.Index(i), visit)
		}
	}
}
