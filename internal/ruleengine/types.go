// Package ruleengine evaluates logic rules and personalization profiles
// against the session state of a lead-capture flow.
//
// A rule is a trigger, a left-folded list of conditions and an ordered list
// of actions. The engine selects the rules whose trigger matches the fired
// event, evaluates their conditions and returns the actions of every rule
// that matched, in ascending priority order. It never fails as a whole: a
// broken rule is reported in the result and the remaining rules still run.
package ruleengine

import "time"

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_equal"
	OpLessOrEqual    Operator = "less_equal"
	OpIsEmpty        Operator = "is_empty"
	OpIsNotEmpty     Operator = "is_not_empty"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
	OpRegex          Operator = "regex"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
	OpIsEmpty, OpIsNotEmpty, OpIn, OpNotIn, OpRegex,
}

// IsValid reports whether op is a known operator.
func (op Operator) IsValid() bool {
	_, ok := operatorTable[op]
	return ok
}

// LogicalOperator joins a condition to the accumulated result of the ones before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// DataType is an advisory hint describing the expected type of a condition operand.
// Evaluation does not depend on it; operators coerce at comparison time.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeArray   DataType = "array"
)

// Condition compares one session field against a value.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
	DataType DataType `json:"dataType,omitempty"`

	// LogicalOperator is ignored on the first condition of a list.
	// Anything other than OR is treated as AND.
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`
}

// RuleType classifies a rule for authoring tools. It does not affect evaluation.
type RuleType string

const (
	RuleTypeConditionalStep RuleType = "conditional_step"
	RuleTypeFieldPopulation RuleType = "field_population"
	RuleTypeRouting         RuleType = "routing"
	RuleTypePersonalization RuleType = "personalization"
	RuleTypeValidation      RuleType = "validation"
)

// IsValid reports whether t is a known rule type.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeConditionalStep, RuleTypeFieldPopulation, RuleTypeRouting,
		RuleTypePersonalization, RuleTypeValidation:
		return true
	}
	return false
}

// LogicRule is a stored rule as owned by a flow.
type LogicRule struct {
	ID          string      `json:"id"`
	FlowID      string      `json:"flowId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        RuleType    `json:"type"`
	Trigger     Trigger     `json:"trigger"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`

	// Priority orders execution ascending: lower runs first.
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PersonalizationValueType tells the renderer how to apply a personalization value.
type PersonalizationValueType string

const (
	ValueTypeText  PersonalizationValueType = "text"
	ValueTypeHTML  PersonalizationValueType = "html"
	ValueTypeImage PersonalizationValueType = "image"
	ValueTypeLink  PersonalizationValueType = "link"
	ValueTypeStyle PersonalizationValueType = "style"
)

// IsValid reports whether t is a known personalization value type.
func (t PersonalizationValueType) IsValid() bool {
	switch t {
	case ValueTypeText, ValueTypeHTML, ValueTypeImage, ValueTypeLink, ValueTypeStyle:
		return true
	}
	return false
}

// Personalization replaces the content of one rendered element.
type Personalization struct {
	Target    string                   `json:"target"`
	Value     string                   `json:"value"`
	ValueType PersonalizationValueType `json:"valueType"`
}

// PersonalizationProfile applies its personalizations when all of its
// conditions hold. Profiles are not gated by triggers.
type PersonalizationProfile struct {
	ID               string            `json:"id"`
	FlowID           string            `json:"flowId"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Conditions       []Condition       `json:"conditions"`
	Personalizations []Personalization `json:"personalizations"`
	Priority         int               `json:"priority"`
	Enabled          bool              `json:"enabled"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// ExecutionResult is the outcome of one engine run.
// Errors holds one "Rule '<name>': <message>" entry per rule that failed.
type ExecutionResult struct {
	Actions          []Action          `json:"actions"`
	Personalizations []Personalization `json:"personalizations"`
	Errors           []string          `json:"errors"`
}
