// Package pathrule derives destination paths from source paths through an
// ordered list of literal search/replace pairs.
package pathrule

import (
	"fmt"
	"strings"
)

// Rule replaces every occurrence of Search with Replace. Search is literal
// text, never a pattern.
type Rule struct {
	Search  string
	Replace string
}

// Rules are applied left to right; each rule sees the previous output.
type Rules []Rule

// Apply runs every rule over src and returns the derived path. A rule with an
// empty Search is a no-op.
func (rs Rules) Apply(src string) string {
	dst := src
	for _, r := range rs {
		if r.Search == "" {
			continue
		}
		dst = strings.ReplaceAll(dst, r.Search, r.Replace)
	}
	return dst
}

// Apply is a convenience for Rules(rules).Apply(src).
func Apply(rules Rules, src string) string {
	return rules.Apply(src)
}

// Parse converts the [search, replace] pair form used in pipeline
// declarations.
func Parse(pairs [][]string) (Rules, error) {
	rules := make(Rules, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("rule %d: expected [search, replace], got %d values", i, len(p))
		}
		if p[0] == "" {
			return nil, fmt.Errorf("rule %d: empty search string", i)
		}
		rules = append(rules, Rule{Search: p[0], Replace: p[1]})
	}
	return rules, nil
}

func (rs Rules) String() string {
	var sb strings.Builder
	for i, r := range rs {
		if i > 0 {
			sb.WriteString(" -> ")
		}
		fmt.Fprintf(&sb, "%q=>%q", r.Search, r.Replace)
	}
	return sb.String()
}
