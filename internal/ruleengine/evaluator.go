package ruleengine

import (
	"fmt"
	"regexp"
	"strings"
)

// operatorFunc compares a session value against a condition operand.
// re is only set for regex conditions that were compiled ahead of time.
type operatorFunc func(field, operand Value, re *regexp.Regexp) bool

// operatorTable is the strategy table for condition operators.
var operatorTable = map[Operator]operatorFunc{
	OpEquals:    func(f, v Value, _ *regexp.Regexp) bool { return f.StrictEqual(v) },
	OpNotEquals: func(f, v Value, _ *regexp.Regexp) bool { return !f.StrictEqual(v) },
	OpContains: func(f, v Value, _ *regexp.Regexp) bool {
		return strings.Contains(f.AsString(), v.AsString())
	},
	OpNotContains: func(f, v Value, _ *regexp.Regexp) bool {
		return !strings.Contains(f.AsString(), v.AsString())
	},
	OpStartsWith: func(f, v Value, _ *regexp.Regexp) bool {
		return strings.HasPrefix(f.AsString(), v.AsString())
	},
	OpEndsWith: func(f, v Value, _ *regexp.Regexp) bool {
		return strings.HasSuffix(f.AsString(), v.AsString())
	},
	// NaN on either side makes every ordered comparison false.
	OpGreaterThan:    func(f, v Value, _ *regexp.Regexp) bool { return f.AsNumber() > v.AsNumber() },
	OpLessThan:       func(f, v Value, _ *regexp.Regexp) bool { return f.AsNumber() < v.AsNumber() },
	OpGreaterOrEqual: func(f, v Value, _ *regexp.Regexp) bool { return f.AsNumber() >= v.AsNumber() },
	OpLessOrEqual:    func(f, v Value, _ *regexp.Regexp) bool { return f.AsNumber() <= v.AsNumber() },
	OpIsEmpty:        func(f, _ Value, _ *regexp.Regexp) bool { return f.IsEmpty() },
	OpIsNotEmpty:     func(f, _ Value, _ *regexp.Regexp) bool { return !f.IsEmpty() },
	// in and not_in are both false when the operand is not an array.
	OpIn: func(f, v Value, _ *regexp.Regexp) bool {
		if v.Kind() != KindArray {
			return false
		}
		return contains(v.Items(), f)
	},
	OpNotIn: func(f, v Value, _ *regexp.Regexp) bool {
		if v.Kind() != KindArray {
			return false
		}
		return !contains(v.Items(), f)
	},
	OpRegex: func(f, v Value, re *regexp.Regexp) bool {
		if re == nil {
			var err error
			if re, err = regexp.Compile(v.AsString()); err != nil {
				return false
			}
		}
		return re.MatchString(f.AsString())
	},
}

func contains(items []Value, needle Value) bool {
	for _, item := range items {
		if item.sameValueZero(needle) {
			return true
		}
	}
	return false
}

// Evaluate reports whether a single condition holds for state.
// Unknown operators and malformed regex patterns evaluate to false.
func Evaluate(state State, c Condition) bool {
	fn, ok := operatorTable[c.Operator]
	if !ok {
		return false
	}
	return fn(state.Get(c.Field), c.Value, nil)
}

// Combine left-folds conditions: the first sets the result and each later one
// is joined with its own logical operator. There is no precedence, so
// [A, OR B, AND C] is (A || B) && C. An empty list holds.
func Combine(state State, conditions []Condition) bool {
	if len(conditions) == 0 {
		return true
	}
	result := Evaluate(state, conditions[0])
	for _, c := range conditions[1:] {
		if c.LogicalOperator == LogicalOr {
			result = result || Evaluate(state, c)
		} else {
			result = result && Evaluate(state, c)
		}
	}
	return result
}

// compiledCondition is a condition with its operator resolved and any regex prepared.
type compiledCondition struct {
	Condition
	fn operatorFunc
	re *regexp.Regexp
}

// never backs operators the engine does not know; such conditions fold as false.
func never(Value, Value, *regexp.Regexp) bool { return false }

// compileCondition resolves the operator and prepares regex patterns. Only a
// malformed pattern is an error.
func compileCondition(c Condition) (compiledCondition, error) {
	fn, ok := operatorTable[c.Operator]
	if !ok {
		fn = never
	}
	cc := compiledCondition{Condition: c, fn: fn}
	if c.Operator == OpRegex {
		re, err := regexp.Compile(c.Value.AsString())
		if err != nil {
			return compiledCondition{}, fmt.Errorf("invalid regex pattern for field %q: %w", c.Field, err)
		}
		cc.re = re
	}
	return cc, nil
}

func (cc compiledCondition) eval(state State) bool {
	return cc.fn(state.Get(cc.Field), cc.Value, cc.re)
}

// combineCompiled is Combine over prepared conditions.
func combineCompiled(state State, conditions []compiledCondition) bool {
	if len(conditions) == 0 {
		return true
	}
	result := conditions[0].eval(state)
	for _, c := range conditions[1:] {
		if c.LogicalOperator == LogicalOr {
			result = result || c.eval(state)
		} else {
			result = result && c.eval(state)
		}
	}
	return result
}
