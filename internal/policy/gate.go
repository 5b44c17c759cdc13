// Package policy decides whether a proposed patch may be applied
// automatically.
//
// A Gate is a list of protected path rules. A rule matches a path when the
// path starts with it or contains it. Evaluation is pure: the same rules
// and patch always give the same Decision.
package policy

import (
	"strings"

	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
)

// Decision is the gate verdict for a patch.
type Decision struct {
	Blocked     bool   `json:"blocked"`
	MatchedRule string `json:"matched_rule,omitempty"`
	MatchedPath string `json:"matched_path,omitempty"`
}

// Gate holds protected path rules in evaluation order.
type Gate struct {
	Protected []string
}

// NewGate copies rules into a Gate, dropping blank entries.
func NewGate(rules []string) *Gate {
	g := &Gate{Protected: make([]string, 0, len(rules))}
	for _, r := range rules {
		if r = strings.TrimSpace(r); r != "" {
			g.Protected = append(g.Protected, r)
		}
	}
	return g
}

// Evaluate blocks the patch if any touched path matches a rule. Paths are
// checked in sorted order and rules in configured order; the first match
// wins. An empty patch is never blocked.
func (g *Gate) Evaluate(patch diagnosis.Patch) Decision {
	if g == nil || patch.Empty() {
		return Decision{}
	}
	for _, path := range patch.Paths() {
		if rule, ok := g.Match(path); ok {
			return Decision{Blocked: true, MatchedRule: rule, MatchedPath: path}
		}
	}
	return Decision{}
}

// Match returns the first rule protecting path.
func (g *Gate) Match(path string) (string, bool) {
	if g == nil {
		return "", false
	}
	for _, rule := range g.Protected {
		if rule == "" {
			continue
		}
		if strings.HasPrefix(path, rule) || strings.Contains(path, rule) {
			return rule, true
		}
	}
	return "", false
}
