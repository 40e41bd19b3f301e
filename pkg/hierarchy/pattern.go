package hierarchy

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned by Find when a glob cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// matcher tests relative keys against a search term. A term containing glob
// metacharacters is a doublestar pattern; anything else matches as a
// case-insensitive substring.
type matcher struct {
	glob   string
	needle string
}

func newMatcher(term string) (*matcher, error) {
	if !hasMeta(term) {
		return &matcher{needle: strings.ToLower(term)}, nil
	}
	normalized := normalizePattern(term)
	if !doublestar.ValidatePattern(normalized) {
		return nil, &PatternError{Pattern: term, Err: ErrInvalidPattern}
	}
	return &matcher{glob: normalized}, nil
}

func (m *matcher) match(rel string) bool {
	if m.glob == "" {
		return strings.Contains(strings.ToLower(rel), m.needle)
	}
	ok, err := doublestar.Match(m.glob, rel)
	return err == nil && ok
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// normalizePattern converts unescaped backslashes to forward slashes while
// keeping escapes of glob metacharacters ("data\2024\*.csv" ->
// "data/2024/*.csv", "file\*.txt" unchanged).
func normalizePattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}
