package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Document is the on-disk form of a policy. Policy files are JSON extended
// with // line comments, /* block comments */ and trailing commas, so each
// entry can carry the reason it was approved.
type Document struct {
	Modules  []string `json:"modules"`
	Builtins []string `json:"builtins"`
}

// Parse strips JSONC comments from data and builds a policy. A document
// that omits a list falls back to the default for that list.
func Parse(data []byte) (*Policy, error) {
	stripped := jsonc.ToJSON(data)

	var doc Document
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if doc.Modules == nil {
		doc.Modules = DefaultModules
	}
	if doc.Builtins == nil {
		doc.Builtins = DefaultBuiltins
	}
	return New(doc.Modules, doc.Builtins), nil
}

// ParseFile reads a JSONC policy file from disk.
func ParseFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
