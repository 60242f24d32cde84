package ruleengine

import (
	"fmt"
	"strings"
)

const (
	MaxNameLength       = 255
	MaxConditionsPerSet = 50
	MaxActionsPerRule   = 20
)

// ValidateRule checks a rule before it is stored and returns every problem
// found. A nil slice means the rule is acceptable.
//
// Authoring is stricter than execution: new rules need at least one condition
// and one action, while the engine accepts rules without conditions.
func ValidateRule(r LogicRule) []string {
	var errs []string

	errs = append(errs, validateName(r.Name)...)
	if r.Type != "" && !r.Type.IsValid() {
		errs = append(errs, fmt.Sprintf("unknown rule type %q", r.Type))
	}
	if !r.Trigger.Event.IsValid() {
		errs = append(errs, fmt.Sprintf("unknown trigger event %q", r.Trigger.Event))
	}
	if r.Trigger.Delay < 0 {
		errs = append(errs, "trigger delay must not be negative")
	}
	if r.Trigger.Event == EventTimer && r.Trigger.Delay == 0 {
		errs = append(errs, "timer trigger requires a delay")
	}

	if len(r.Conditions) == 0 {
		errs = append(errs, "at least one condition is required")
	}
	errs = append(errs, ValidateConditions(r.Conditions)...)

	if len(r.Actions) == 0 {
		errs = append(errs, "at least one action is required")
	}
	if len(r.Actions) > MaxActionsPerRule {
		errs = append(errs, fmt.Sprintf("too many actions: %d > %d", len(r.Actions), MaxActionsPerRule))
	}
	for i, a := range r.Actions {
		if a.Config == nil {
			errs = append(errs, fmt.Sprintf("action %d: missing config", i))
			continue
		}
		if _, err := NewAction(a.Type, a.Config); err != nil {
			errs = append(errs, fmt.Sprintf("action %d: %s", i, err))
		}
	}

	return errs
}

// ValidateProfile checks a personalization profile before it is stored.
func ValidateProfile(p PersonalizationProfile) []string {
	var errs []string

	errs = append(errs, validateName(p.Name)...)
	errs = append(errs, ValidateConditions(p.Conditions)...)
	if len(p.Personalizations) == 0 {
		errs = append(errs, "at least one personalization is required")
	}
	for i, pz := range p.Personalizations {
		if strings.TrimSpace(pz.Target) == "" {
			errs = append(errs, fmt.Sprintf("personalization %d: target is required", i))
		}
		if !pz.ValueType.IsValid() {
			errs = append(errs, fmt.Sprintf("personalization %d: unknown value type %q", i, pz.ValueType))
		}
	}

	return errs
}

// ValidateConditions checks field, operator and operand shape of each condition.
func ValidateConditions(conditions []Condition) []string {
	var errs []string

	if len(conditions) > MaxConditionsPerSet {
		errs = append(errs, fmt.Sprintf("too many conditions: %d > %d", len(conditions), MaxConditionsPerSet))
	}
	for i, c := range conditions {
		if strings.TrimSpace(c.Field) == "" {
			errs = append(errs, fmt.Sprintf("condition %d: field is required", i))
		}
		if !c.Operator.IsValid() {
			errs = append(errs, fmt.Sprintf("condition %d: unknown operator %q", i, c.Operator))
			continue
		}
		switch c.LogicalOperator {
		case "", LogicalAnd, LogicalOr:
		default:
			errs = append(errs, fmt.Sprintf("condition %d: unknown logical operator %q", i, c.LogicalOperator))
		}
		if (c.Operator == OpIn || c.Operator == OpNotIn) && c.Value.Kind() != KindArray {
			errs = append(errs, fmt.Sprintf("condition %d: %s requires an array value", i, c.Operator))
		}
		if c.Operator == OpRegex {
			if _, err := compileCondition(c); err != nil {
				errs = append(errs, fmt.Sprintf("condition %d: %s", i, err))
			}
		}
	}

	return errs
}

func validateName(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return []string{"name is required"}
	}
	if len(name) > MaxNameLength {
		return []string{fmt.Sprintf("name exceeds %d characters", MaxNameLength)}
	}
	return nil
}
