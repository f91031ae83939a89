// Package engine defines the pluggable restricted-compile capability the
// console drives, and the namespace an engine evaluates code against.
//
// Contract:
//   - Concurrency: a Namespace is owned by one goroutine. Implementations do
//     not lock.
//   - Compile never mutates the namespace. Exec does, and its effects persist
//     for later programs.
//   - Errors raised by submitted code are returned from Exec, never panicked.
package engine

import (
	"io"

	"github.com/itsmostafa/gosandbox/internal/capability"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

// Outcome classifies the result of trying to compile accumulated source.
type Outcome int

const (
	// Complete means the source compiled and Program is ready to run.
	Complete Outcome = iota
	// Incomplete means the source is valid so far but needs more lines.
	Incomplete
	// Invalid means the source can never become valid; Err explains why.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	default:
		return "invalid"
	}
}

// Program is an engine-specific compiled unit. Only the namespace that
// produced it may run it.
type Program interface{}

// Compilation is the tagged result of Namespace.Compile.
type Compilation struct {
	Outcome Outcome
	Program Program
	Err     error
}

// Namespace is the sandbox scope: created once, mutated by every Exec.
type Namespace interface {
	// Compile tries to compile source as one unit.
	Compile(source string) Compilation

	// Exec runs prog, writing printed output and echoed values to out.
	Exec(prog Program, out io.Writer) error

	// Names lists the global names currently visible to submitted code.
	Names() []string
}

// Engine creates namespaces.
type Engine interface {
	Name() string
	NewNamespace(opts Options) (Namespace, error)
}

// Options configures a new namespace.
type Options struct {
	// Policy decides imports and exposed builtins. Required.
	Policy *policy.Policy

	// Fetcher backs the fetch builtin. Nil leaves fetch undefined even when
	// the policy permits it.
	Fetcher *capability.Fetcher

	// FS backs the fs module. Nil leaves the module out of the catalog.
	FS *capability.FS

	// MaxCallStack bounds JavaScript call depth. Zero keeps the engine
	// default.
	MaxCallStack int

	// MaxAllocs bounds Tengo allocations per program. Zero or less is
	// unlimited.
	MaxAllocs int64
}

// Validate reports missing required fields.
func (o Options) Validate() error {
	if o.Policy == nil {
		return ErrNoPolicy
	}
	return nil
}
