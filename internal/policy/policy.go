// Package policy holds the capability allowlist that decides which modules
// sandboxed code may import and which builtins its namespace exposes.
//
// The policy is an allowlist: a name the policy does not list is denied,
// including names an engine adds in a later release.
package policy

import (
	"errors"
	"fmt"
	"sort"
)

// ErrImportDenied matches every ImportDeniedError.
var ErrImportDenied = errors.New("import not permitted")

// ImportDeniedError reports an import of a module outside the allowlist.
type ImportDeniedError struct {
	Module string
}

// Error returns the message shown to the submitter.
func (e *ImportDeniedError) Error() string {
	return fmt.Sprintf("import of %q is not permitted", e.Module)
}

// Is lets errors.Is match ErrImportDenied.
func (e *ImportDeniedError) Is(target error) bool {
	return target == ErrImportDenied
}

// Policy is an immutable pair of allowlists.
type Policy struct {
	modules  map[string]struct{}
	builtins map[string]struct{}
}

// New builds a policy from module and builtin names. Duplicates and empty
// names are ignored.
func New(modules, builtins []string) *Policy {
	return &Policy{
		modules:  toSet(modules),
		builtins: toSet(builtins),
	}
}

// Default returns the policy used when no configuration overrides it.
func Default() *Policy {
	return New(DefaultModules, DefaultBuiltins)
}

// With returns a copy of p that additionally permits the given names.
// It is the sign-off path for capabilities that are off by default.
func (p *Policy) With(modules, builtins []string) *Policy {
	return New(append(p.Modules(), modules...), append(p.ExposedBuiltins(), builtins...))
}

// MayImport reports whether code may import the named module.
func (p *Policy) MayImport(name string) bool {
	_, ok := p.modules[name]
	return ok
}

// CheckImport returns an *ImportDeniedError when name may not be imported.
func (p *Policy) CheckImport(name string) error {
	if !p.MayImport(name) {
		return &ImportDeniedError{Module: name}
	}
	return nil
}

// MayExpose reports whether the named builtin may appear in a namespace.
func (p *Policy) MayExpose(name string) bool {
	_, ok := p.builtins[name]
	return ok
}

// ExposedBuiltins returns the permitted builtin names, sorted.
func (p *Policy) ExposedBuiltins() []string {
	return sortedKeys(p.builtins)
}

// Modules returns the permitted module names, sorted.
func (p *Policy) Modules() []string {
	return sortedKeys(p.modules)
}

// Exposed filters an engine's catalog of candidate builtins down to the
// entries the policy permits. Catalog entries the policy does not name are
// dropped; policy names the catalog lacks are simply absent.
func Exposed[V any](p *Policy, catalog map[string]V) map[string]V {
	out := make(map[string]V, len(catalog))
	for name, value := range catalog {
		if p.MayExpose(name) {
			out[name] = value
		}
	}
	return out
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
