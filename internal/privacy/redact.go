// Package privacy masks configured patterns in outgoing status text.
package privacy

import (
	"fmt"
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// Redactor replaces every match of its patterns with [REDACTED]. A nil
// Redactor leaves text unchanged.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles patterns. An empty list yields a nil Redactor.
func NewRedactor(patterns []string) (*Redactor, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Apply returns text with all matches masked.
func (r *Redactor) Apply(text string) string {
	if r == nil {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
