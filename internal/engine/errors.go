package engine

import (
	"errors"
	"fmt"

	"github.com/itsmostafa/gosandbox/internal/policy"
)

// Sentinel errors for error classification.
var (
	// ErrEvaluation matches every EvaluationError.
	ErrEvaluation = errors.New("evaluation error")

	// ErrIncompleteBlock reports a flush while a compound statement was open.
	ErrIncompleteBlock = errors.New("unexpected EOF while parsing")

	// ErrModuleNotFound reports a permitted module the engine does not have.
	ErrModuleNotFound = errors.New("module not found")

	// ErrNoPolicy is returned when a namespace is requested without a policy.
	ErrNoPolicy = errors.New("engine: a policy is required")
)

// SyntaxError is a source error that more input cannot fix.
type SyntaxError struct {
	Message string

	// Line and Column are 1-based. Zero means unknown.
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, col %d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

// EvaluationError wraps an exception raised by submitted code.
type EvaluationError struct {
	// Message is the engine's rendering of the exception.
	Message string

	// Err is the Go error behind the exception, when there is one.
	Err error
}

func (e *EvaluationError) Error() string { return e.Message }

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

// Render turns an error from Compile or Exec into the text line written to
// the submitter.
func Render(err error) string {
	var (
		denied *policy.ImportDeniedError
		syn    *SyntaxError
		eval   *EvaluationError
	)
	switch {
	case errors.As(err, &denied):
		return "ImportDenied: " + denied.Error()
	case errors.Is(err, ErrIncompleteBlock):
		return "SyntaxError: " + ErrIncompleteBlock.Error()
	case errors.As(err, &syn):
		return "SyntaxError: " + syn.Error()
	case errors.As(err, &eval):
		return eval.Message
	default:
		return "Error: " + err.Error()
	}
}
