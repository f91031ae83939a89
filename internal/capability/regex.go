// Package capability holds the host services an engine may bind into a
// sandbox namespace. Each one is reachable from submitted code only through
// an allowlisted module or builtin name.
package capability

import (
	"fmt"
	"regexp"
	"sync"
)

// maxPatternCache bounds the compiled pattern cache.
const maxPatternCache = 128

// Regex provides regular expression helpers using RE2 syntax, so untrusted
// patterns run in linear time.
type Regex struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// NewRegex creates a Regex with an empty pattern cache.
func NewRegex() *Regex {
	return &Regex{cache: make(map[string]*regexp.Regexp)}
}

func (r *Regex) compile(pattern string) (*regexp.Regexp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	if len(r.cache) >= maxPatternCache {
		clear(r.cache)
	}
	r.cache[pattern] = re
	return re, nil
}

// FindAll finds all matches of pattern in text.
func (r *Regex) FindAll(pattern, text string) ([]string, error) {
	re, err := r.compile(pattern)
	if err != nil {
		return nil, err
	}
	matches := re.FindAllString(text, -1)
	if matches == nil {
		matches = []string{}
	}
	return matches, nil
}

// Search finds the first match of pattern in text.
func (r *Regex) Search(pattern, text string) (string, error) {
	re, err := r.compile(pattern)
	if err != nil {
		return "", err
	}
	return re.FindString(text), nil
}

// Match reports whether text contains a match of pattern.
func (r *Regex) Match(pattern, text string) (bool, error) {
	re, err := r.compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}

// Split splits text by pattern.
func (r *Regex) Split(pattern, text string, n int) ([]string, error) {
	re, err := r.compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.Split(text, n), nil
}

// Replace replaces matches of pattern in text with repl.
func (r *Regex) Replace(pattern, text, repl string) (string, error) {
	re, err := r.compile(pattern)
	if err != nil {
		return "", err
	}
	return re.ReplaceAllString(text, repl), nil
}
