// Package rules holds the immutable rate limiting rule set: path pattern
// normalization, multi-match rule selection, and exemption checks. All state
// is built once at startup; matching is pure string work with no I/O.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
)

// ErrUnknownStrategy is returned when a rule names a strategy kind that does
// not exist. This is a configuration error and is rejected at startup, never
// at request time.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Spec is the configuration form of a rule: the numeric policy applied to
// one path pattern.
type Spec struct {
	// Limit is the number of requests admitted per window.
	Limit uint

	// Window is the window length in seconds.
	Window uint

	// Strategy selects the counting algorithm: "fixed", "sliding" or "moving".
	Strategy string
}

// Rule is a normalized, immutable rate limiting rule.
type Rule struct {
	// Pattern is the normalized path pattern (trailing slashes and any
	// wildcard marker stripped).
	Pattern string

	// Wildcard marks a prefix rule: it matches the pattern itself and any
	// path nested under it.
	Wildcard bool

	Limit  uint
	Window uint
	Kind   keyspace.Kind
}

// Matches reports whether the normalized path is covered by this rule.
func (r Rule) Matches(path string) bool {
	return matches(path, r.Pattern, r.Wildcard)
}

// Matcher selects the rules applying to an incoming request path. This is a
// multi-match system: every rule whose pattern covers the path is returned,
// and the evaluator combines their verdicts with AND semantics, so rule
// ordering never changes the outcome.
type Matcher struct {
	rules  []Rule
	exempt []pattern
}

type pattern struct {
	prefix   string
	wildcard bool
}

// NewMatcher normalizes the configured rules and exemption patterns.
// A pattern ending in "/*" matches the prefix and anything nested under it;
// any other pattern matches exactly. Unknown strategy names are rejected
// here so they can never surface at request time.
func NewMatcher(specs map[string]Spec, exempt []string) (*Matcher, error) {
	rs := make([]Rule, 0, len(specs))
	for path, spec := range specs {
		kind, ok := keyspace.ParseKind(strings.ToLower(spec.Strategy))
		if !ok {
			return nil, fmt.Errorf("%w: %q for path %q", ErrUnknownStrategy, spec.Strategy, path)
		}

		prefix, wildcard := normalize(path)
		rs = append(rs, Rule{
			Pattern:  prefix,
			Wildcard: wildcard,
			Limit:    spec.Limit,
			Window:   spec.Window,
			Kind:     kind,
		})
	}

	// Wildcard rules first (shortest prefix first), then exact rules
	// (longest first). Iteration order only affects which rule is reported
	// first, never the verdict.
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Wildcard != rs[j].Wildcard {
			return rs[i].Wildcard
		}
		if rs[i].Wildcard {
			return len(rs[i].Pattern) < len(rs[j].Pattern)
		}
		return len(rs[i].Pattern) > len(rs[j].Pattern)
	})

	ex := make([]pattern, 0, len(exempt))
	for _, p := range exempt {
		prefix, wildcard := normalize(p)
		ex = append(ex, pattern{prefix: prefix, wildcard: wildcard})
	}

	return &Matcher{rules: rs, exempt: ex}, nil
}

// Match returns every rule covering the given request path.
func (m *Matcher) Match(path string) []Rule {
	path = normalizePath(path)

	var matched []Rule
	for _, r := range m.rules {
		if r.Matches(path) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Exempt reports whether the path matches any exemption pattern. Exempt
// paths bypass rate limiting entirely, regardless of rule configuration.
func (m *Matcher) Exempt(path string) bool {
	path = normalizePath(path)

	for _, p := range m.exempt {
		if matches(path, p.prefix, p.wildcard) {
			return true
		}
	}
	return false
}

// Rules returns the normalized rule set in evaluation order.
func (m *Matcher) Rules() []Rule {
	return m.rules
}

func normalize(p string) (prefix string, wildcard bool) {
	if strings.HasSuffix(p, "/*") {
		return strings.TrimRight(p[:len(p)-2], "/"), true
	}
	return strings.TrimRight(p, "/"), false
}

func normalizePath(path string) string {
	return strings.TrimRight(path, "/")
}

func matches(path, prefix string, wildcard bool) bool {
	if wildcard {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return path == prefix
}
