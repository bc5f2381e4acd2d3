// Package matcher decides which discovered peripherals the application knows.
package matcher

import (
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/blecentral/internal/device"
)

// Rule is the comparison applied between an advertised name and a known name
type Rule string

const (
	RuleExact     Rule = "exact"
	RulePrefix    Rule = "prefix"
	RuleSubstring Rule = "substring"
)

// ParseRule converts a configuration value to a Rule
func ParseRule(s string) (Rule, error) {
	switch r := Rule(strings.ToLower(strings.TrimSpace(s))); r {
	case RuleExact, RulePrefix, RuleSubstring:
		return r, nil
	case "":
		return RuleExact, nil
	default:
		return "", fmt.Errorf("invalid match rule %q: must be one of [exact prefix substring]", s)
	}
}

// Options configures a Matcher
type Options struct {
	Rule Rule `default:"exact"`
	// CaseInsensitive folds case before comparing
	CaseInsensitive bool `default:"false"`
	// MatchIdentifiers also accepts a peripheral whose identifier equals a known name
	MatchIdentifiers bool `default:"false"`
	// AcceptAllWhenEmpty makes an empty name list accept every peripheral
	AcceptAllWhenEmpty bool `default:"false"`
}

// Matcher is an immutable allow-list of peripheral names
type Matcher struct {
	names  []string
	folded []string
	opts   Options
}

// New builds a Matcher over a copy of names. Empty names are dropped.
func New(names []string, opts Options) *Matcher {
	defaults.SetDefaults(&opts)

	m := &Matcher{opts: opts}
	for _, n := range names {
		if n == "" {
			continue
		}
		m.names = append(m.names, n)
		if opts.CaseInsensitive {
			m.folded = append(m.folded, strings.ToLower(n))
		} else {
			m.folded = append(m.folded, n)
		}
	}
	return m
}

// IsKnown reports whether a peripheral advertising name with the given
// identifier belongs to the application. It has no side effects.
func (m *Matcher) IsKnown(name, identifier string) bool {
	if len(m.folded) == 0 {
		return m.opts.AcceptAllWhenEmpty
	}

	candidate := m.fold(name)
	if candidate != "" {
		for _, known := range m.folded {
			if m.compare(candidate, known) {
				return true
			}
		}
	}

	// Identifiers compare in canonical form regardless of CaseInsensitive
	if id := device.NormalizeIdentifier(identifier); m.opts.MatchIdentifiers && id != "" {
		for _, known := range m.names {
			if id == device.NormalizeIdentifier(known) {
				return true
			}
		}
	}
	return false
}

// Names returns a copy of the configured names
func (m *Matcher) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Rule returns the comparison rule in effect
func (m *Matcher) Rule() Rule {
	return m.opts.Rule
}

func (m *Matcher) fold(s string) string {
	if m.opts.CaseInsensitive {
		return strings.ToLower(s)
	}
	return s
}

func (m *Matcher) compare(candidate, known string) bool {
	switch m.opts.Rule {
	case RulePrefix:
		return strings.HasPrefix(candidate, known)
	case RuleSubstring:
		return strings.Contains(candidate, known)
	default:
		return candidate == known
	}
}
