package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/itsmostafa/gosandbox/internal/policy"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "import denied inside evaluation error",
			err:  &EvaluationError{Message: "GoError: denied", Err: &policy.ImportDeniedError{Module: "os"}},
			want: `ImportDenied: import of "os" is not permitted`,
		},
		{
			name: "incomplete block",
			err:  fmt.Errorf("flush: %w", ErrIncompleteBlock),
			want: "SyntaxError: unexpected EOF while parsing",
		},
		{
			name: "syntax error with position",
			err:  &SyntaxError{Message: "Unexpected token )", Line: 1, Column: 4},
			want: "SyntaxError: Unexpected token ) (line 1, col 4)",
		},
		{
			name: "syntax error without position",
			err:  &SyntaxError{Message: "bad"},
			want: "SyntaxError: bad",
		},
		{
			name: "evaluation error",
			err:  &EvaluationError{Message: "ReferenceError: y is not defined"},
			want: "ReferenceError: y is not defined",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEvaluationError_Is(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("exec: %w", &EvaluationError{Message: "x", Err: inner})

	if !errors.Is(err, ErrEvaluation) {
		t.Error("expected ErrEvaluation")
	}
	if !errors.Is(err, inner) {
		t.Error("expected inner error to be reachable")
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := (Options{}).Validate(); !errors.Is(err, ErrNoPolicy) {
		t.Errorf("expected ErrNoPolicy, got %v", err)
	}
	if err := (Options{Policy: policy.Default()}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOutcome_String(t *testing.T) {
	if Complete.String() != "complete" || Incomplete.String() != "incomplete" || Invalid.String() != "invalid" {
		t.Error("unexpected outcome names")
	}
}
