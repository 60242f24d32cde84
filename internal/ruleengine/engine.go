package ruleengine

import (
	"fmt"
	"log/slog"
	"time"
)

// MetricsRecorder receives one outcome per evaluated rule. Implementations
// must not block; a panicking recorder is contained by the engine.
type MetricsRecorder interface {
	RecordRuleExecution(ruleID string, success bool, latency time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordRuleExecution(string, bool, time.Duration) {}

// Engine runs compiled rule sets.
type Engine struct {
	logger   *slog.Logger
	recorder MetricsRecorder
}

// New creates a new Engine. A nil logger defaults to slog.Default and a nil
// recorder discards metrics.
func New(logger *slog.Logger, recorder MetricsRecorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{logger: logger, recorder: recorder}
}

// Execute selects the rules of set whose trigger matches fired, in ascending
// priority, and collects the actions of each rule whose conditions hold.
// Personalizations come from every enabled profile whose conditions hold.
//
// A failing rule adds "Rule '<name>': <message>" to Errors and is skipped;
// it never affects the other rules.
func (e *Engine) Execute(set *RuleSet, state State, fired Trigger) ExecutionResult {
	res := ExecutionResult{
		Actions:          []Action{},
		Personalizations: []Personalization{},
		Errors:           []string{},
	}
	if set == nil {
		return res
	}

	for i := range set.rules {
		r := &set.rules[i]
		if !r.rule.Trigger.matches(fired) {
			continue
		}

		start := time.Now()
		matched, err := e.runRule(r, state)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Rule '%s': %s", r.rule.Name, err))
			e.logger.Warn("rule evaluation failed",
				"rule_id", r.rule.ID,
				"rule_name", r.rule.Name,
				"error", err,
			)
			e.record(r.rule.ID, false, time.Since(start))
			continue
		}
		if matched {
			res.Actions = append(res.Actions, r.rule.Actions...)
			e.record(r.rule.ID, true, time.Since(start))
		}
	}

	for i := range set.profiles {
		p := &set.profiles[i]
		matched, err := safeCombine(p.conditions, p.err, state)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Profile '%s': %s", p.profile.Name, err))
			continue
		}
		if matched {
			res.Personalizations = append(res.Personalizations, p.profile.Personalizations...)
		}
	}

	return res
}

func (e *Engine) runRule(r *compiledRule, state State) (bool, error) {
	return safeCombine(r.conditions, r.err, state)
}

// safeCombine evaluates prepared conditions, turning a compile error or a
// panic into an error.
func safeCombine(conds []compiledCondition, compileErr error, state State) (matched bool, err error) {
	if compileErr != nil {
		return false, compileErr
	}
	defer func() {
		if p := recover(); p != nil {
			matched = false
			err = fmt.Errorf("evaluation panic: %v", p)
		}
	}()
	return combineCompiled(state, conds), nil
}

func (e *Engine) record(ruleID string, success bool, latency time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("rule metrics recorder panicked", "rule_id", ruleID, "panic", p)
		}
	}()
	e.recorder.RecordRuleExecution(ruleID, success, latency)
}
