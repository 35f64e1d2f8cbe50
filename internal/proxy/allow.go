package proxy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrHostNotAllowed is returned for upstream hosts outside the allow list.
var ErrHostNotAllowed = errors.New("host not allowed")

// AllowList restricts which upstream hosts may be proxied. Patterns are
// globs such as "*.example.com"; an empty list allows everything.
type AllowList struct {
	patterns []string
}

// NewAllowList validates and normalises patterns.
func NewAllowList(patterns []string) (*AllowList, error) {
	a := &AllowList{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, errors.New("invalid allowed host pattern: " + p)
		}
		a.patterns = append(a.patterns, p)
	}
	return a, nil
}

// Allowed reports whether hostname may be proxied.
func (a *AllowList) Allowed(hostname string) bool {
	if a == nil || len(a.patterns) == 0 {
		return true
	}
	hostname = strings.ToLower(hostname)
	for _, p := range a.patterns {
		if ok, err := doublestar.Match(p, hostname); err == nil && ok {
			return true
		}
	}
	return false
}

// Check returns ErrHostNotAllowed when hostname may not be proxied.
func (a *AllowList) Check(hostname string) error {
	if !a.Allowed(hostname) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, hostname)
	}
	return nil
}
