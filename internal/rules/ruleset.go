package rules

import (
	"slices"
	"sort"
	"strings"
)

// Logic combines the members of a RuleSet.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Predicate is a single filter condition.
type Predicate struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value"`
}

// RuleSet is a tree of predicates. Nested groups let an OR sit inside an AND.
type RuleSet struct {
	Logic      Logic       `json:"logic"`
	Predicates []Predicate `json:"predicates"`
	Groups     []RuleSet   `json:"groups,omitempty"`
}

// IsEmpty reports whether the rule set contains no predicates at any depth.
func (rs RuleSet) IsEmpty() bool {
	if len(rs.Predicates) > 0 {
		return false
	}
	for _, g := range rs.Groups {
		if !g.IsEmpty() {
			return false
		}
	}
	return true
}

// Fields returns the sorted set of field names referenced anywhere in the tree.
func (rs RuleSet) Fields() []string {
	seen := map[string]struct{}{}
	rs.walk(func(p Predicate) {
		seen[p.Field] = struct{}{}
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// References reports whether any predicate uses the named field.
func (rs RuleSet) References(field string) bool {
	return slices.Contains(rs.Fields(), field)
}

// TopLevel returns the predicates that constrain every match: the direct
// predicates of an AND set. OR sets return nil.
func (rs RuleSet) TopLevel() []Predicate {
	if rs.Logic == LogicOr && len(rs.Predicates)+len(rs.Groups) > 1 {
		return nil
	}
	return rs.Predicates
}

func (rs RuleSet) walk(fn func(Predicate)) {
	for _, p := range rs.Predicates {
		fn(p)
	}
	for _, g := range rs.Groups {
		g.walk(fn)
	}
}

func parseLogic(value Logic) (Logic, bool) {
	switch strings.ToUpper(strings.TrimSpace(string(value))) {
	case "", "AND", "ALL":
		return LogicAnd, true
	case "OR", "ANY":
		return LogicOr, true
	default:
		return "", false
	}
}
