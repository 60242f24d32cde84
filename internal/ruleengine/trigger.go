package ruleengine

// TriggerEvent names a runtime event that can fire rules.
type TriggerEvent string

const (
	EventFlowStart     TriggerEvent = "flow_start"
	EventStepEnter     TriggerEvent = "step_enter"
	EventStepComplete  TriggerEvent = "step_complete"
	EventFieldChange   TriggerEvent = "field_change"
	EventTimer         TriggerEvent = "timer"
	EventExternalEvent TriggerEvent = "external_event"
)

// IsValid reports whether e is a known trigger event.
func (e TriggerEvent) IsValid() bool {
	switch e {
	case EventFlowStart, EventStepEnter, EventStepComplete, EventFieldChange, EventTimer, EventExternalEvent:
		return true
	}
	return false
}

// Trigger is both the gate declared on a rule and the event fired by the runtime.
// An empty StepID or FieldID on a rule acts as a wildcard.
type Trigger struct {
	Event   TriggerEvent `json:"event"`
	StepID  string       `json:"stepId,omitempty"`
	FieldID string       `json:"fieldId,omitempty"`

	// Delay is in milliseconds and only meaningful for timer. It plays no
	// part in matching; the runtime schedules the event.
	Delay int64 `json:"delay,omitempty"`
}

// MatchesTrigger reports whether the fired event selects rule.
// Events must be equal. A step or field scope on the rule must equal the
// fired one; an unscoped rule matches any step and any field.
func MatchesTrigger(rule LogicRule, fired Trigger) bool {
	return rule.Trigger.matches(fired)
}

func (t Trigger) matches(fired Trigger) bool {
	if t.Event != fired.Event {
		return false
	}
	if t.StepID != "" && t.StepID != fired.StepID {
		return false
	}
	if t.FieldID != "" && t.FieldID != fired.FieldID {
		return false
	}
	return true
}
