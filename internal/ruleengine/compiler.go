package ruleengine

import (
	"fmt"
	"sort"
)

// compiledRule is an enabled rule ready for execution. A rule whose
// conditions fail to compile keeps err and is reported on every run in which
// its trigger matches.
type compiledRule struct {
	rule       LogicRule
	conditions []compiledCondition
	err        error
}

type compiledProfile struct {
	profile    PersonalizationProfile
	conditions []compiledCondition
	err        error
}

// RuleSet is the compiled, priority-ordered form of one flow's rules and
// profiles. It is immutable once built and safe for concurrent use, which
// lets it live in the in-memory cache.
type RuleSet struct {
	FlowID   string
	rules    []compiledRule
	profiles []compiledProfile
}

// Compile builds a RuleSet from stored rules and profiles. Disabled entries
// are dropped; the rest are ordered by ascending priority with storage order
// kept among equal priorities. Compile never fails: per-rule problems are
// carried into the set and surfaced as evaluation errors.
func Compile(flowID string, rules []LogicRule, profiles []PersonalizationProfile) *RuleSet {
	set := &RuleSet{FlowID: flowID}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		conds, err := compileConditions(r.Conditions)
		set.rules = append(set.rules, compiledRule{rule: r, conditions: conds, err: err})
	}
	sort.SliceStable(set.rules, func(i, j int) bool {
		return set.rules[i].rule.Priority < set.rules[j].rule.Priority
	})

	for _, p := range profiles {
		if !p.Enabled {
			continue
		}
		conds, err := compileConditions(p.Conditions)
		set.profiles = append(set.profiles, compiledProfile{profile: p, conditions: conds, err: err})
	}
	sort.SliceStable(set.profiles, func(i, j int) bool {
		return set.profiles[i].profile.Priority < set.profiles[j].profile.Priority
	})

	return set
}

func compileConditions(conditions []Condition) ([]compiledCondition, error) {
	out := make([]compiledCondition, 0, len(conditions))
	for i, c := range conditions {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, cc)
	}
	return out, nil
}

// RuleCount returns the number of enabled rules in the set.
func (s *RuleSet) RuleCount() int { return len(s.rules) }

// ProfileCount returns the number of enabled profiles in the set.
func (s *RuleSet) ProfileCount() int { return len(s.profiles) }

// Broken returns the names of enabled rules that failed to compile.
func (s *RuleSet) Broken() []string {
	var names []string
	for _, r := range s.rules {
		if r.err != nil {
			names = append(names, r.rule.Name)
		}
	}
	return names
}
