package ruleengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// ActionType names what the runtime should do when a rule matches.
type ActionType string

const (
	ActionShowStep       ActionType = "show_step"
	ActionHideStep       ActionType = "hide_step"
	ActionSkipToStep     ActionType = "skip_to_step"
	ActionSetFieldValue  ActionType = "set_field_value"
	ActionShowField      ActionType = "show_field"
	ActionHideField      ActionType = "hide_field"
	ActionSendEmail      ActionType = "send_email"
	ActionCallWebhook    ActionType = "call_webhook"
	ActionUpdateStyling  ActionType = "update_styling"
	ActionShowMessage    ActionType = "show_message"
	ActionRedirect       ActionType = "redirect"
	ActionCalculateScore ActionType = "calculate_score"
)

// ErrInvalidAction is wrapped by every action decoding or validation failure.
var ErrInvalidAction = errors.New("invalid action")

// ActionConfig is the type-specific payload of an action.
type ActionConfig interface {
	validate() error
}

// StepConfig targets a step. Used by show_step, hide_step and skip_to_step.
type StepConfig struct {
	TargetStepID string `json:"targetStepId"`
}

func (c StepConfig) validate() error { return required("targetStepId", c.TargetStepID) }

// FieldConfig targets a field. Used by show_field and hide_field.
type FieldConfig struct {
	TargetFieldID string `json:"targetFieldId"`
}

func (c FieldConfig) validate() error { return required("targetFieldId", c.TargetFieldID) }

// SetFieldValueConfig writes Value into a field.
type SetFieldValueConfig struct {
	TargetFieldID string `json:"targetFieldId"`
	Value         Value  `json:"value"`
}

func (c SetFieldValueConfig) validate() error { return required("targetFieldId", c.TargetFieldID) }

// SendEmailConfig asks the runtime to send a templated or literal email.
// To defaults to the lead's email field when empty.
type SendEmailConfig struct {
	To            string `json:"to,omitempty"`
	Subject       string `json:"subject,omitempty"`
	EmailTemplate string `json:"emailTemplate,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (c SendEmailConfig) validate() error {
	if c.EmailTemplate == "" && c.Message == "" {
		return fmt.Errorf("%w: emailTemplate or message is required", ErrInvalidAction)
	}
	return nil
}

// WebhookConfig posts the session to an external endpoint.
type WebhookConfig struct {
	WebhookURL string            `json:"webhookUrl"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (c WebhookConfig) validate() error {
	if err := required("webhookUrl", c.WebhookURL); err != nil {
		return err
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: webhookUrl must be an absolute http(s) URL", ErrInvalidAction)
	}
	switch strings.ToUpper(c.Method) {
	case "", "POST", "PUT", "PATCH":
		return nil
	default:
		return fmt.Errorf("%w: unsupported webhook method %q", ErrInvalidAction, c.Method)
	}
}

// StylingConfig applies CSS to the flow, or to one step or field when targeted.
type StylingConfig struct {
	CSS           string `json:"css"`
	TargetStepID  string `json:"targetStepId,omitempty"`
	TargetFieldID string `json:"targetFieldId,omitempty"`
}

func (c StylingConfig) validate() error { return required("css", c.CSS) }

// MessageConfig shows a message to the visitor.
type MessageConfig struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

func (c MessageConfig) validate() error { return required("message", c.Message) }

// RedirectConfig sends the visitor elsewhere.
type RedirectConfig struct {
	URL string `json:"url"`
}

func (c RedirectConfig) validate() error { return required("url", c.URL) }

// ScoreConfig computes a lead score with Formula, optionally stored in a field.
type ScoreConfig struct {
	Formula       string `json:"formula"`
	TargetFieldID string `json:"targetFieldId,omitempty"`
}

func (c ScoreConfig) validate() error { return required("formula", c.Formula) }

func required(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidAction, key)
	}
	return nil
}

// newConfig returns an empty config of the right variant for t.
func newConfig(t ActionType) (ActionConfig, bool) {
	switch t {
	case ActionShowStep, ActionHideStep, ActionSkipToStep:
		return &StepConfig{}, true
	case ActionShowField, ActionHideField:
		return &FieldConfig{}, true
	case ActionSetFieldValue:
		return &SetFieldValueConfig{}, true
	case ActionSendEmail:
		return &SendEmailConfig{}, true
	case ActionCallWebhook:
		return &WebhookConfig{}, true
	case ActionUpdateStyling:
		return &StylingConfig{}, true
	case ActionShowMessage:
		return &MessageConfig{}, true
	case ActionRedirect:
		return &RedirectConfig{}, true
	case ActionCalculateScore:
		return &ScoreConfig{}, true
	}
	return nil, false
}

// Action is one instruction returned to the runtime. Config always holds
// the variant matching Type; NewAction and UnmarshalJSON enforce it.
type Action struct {
	Type   ActionType
	Config ActionConfig
}

// NewAction validates config against t and builds the action.
func NewAction(t ActionType, config ActionConfig) (Action, error) {
	want, ok := newConfig(t)
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown type %q", ErrInvalidAction, t)
	}
	if config == nil {
		return Action{}, fmt.Errorf("%w: %s requires a config", ErrInvalidAction, t)
	}
	if reflect.TypeOf(deref(config)) != reflect.TypeOf(deref(want)) {
		return Action{}, fmt.Errorf("%w: %T is not a valid config for %s", ErrInvalidAction, config, t)
	}
	if err := config.validate(); err != nil {
		return Action{}, fmt.Errorf("%s: %w", t, err)
	}
	return Action{Type: t, Config: deref(config)}, nil
}

// MustAction is NewAction for literals known to be valid. It panics otherwise.
func MustAction(t ActionType, config ActionConfig) Action {
	a, err := NewAction(t, config)
	if err != nil {
		panic(err)
	}
	return a
}

// deref stores configs by value so actions compare and copy cleanly.
func deref(c ActionConfig) ActionConfig {
	switch v := c.(type) {
	case *StepConfig:
		return *v
	case *FieldConfig:
		return *v
	case *SetFieldValueConfig:
		return *v
	case *SendEmailConfig:
		return *v
	case *WebhookConfig:
		return *v
	case *StylingConfig:
		return *v
	case *MessageConfig:
		return *v
	case *RedirectConfig:
		return *v
	case *ScoreConfig:
		return *v
	}
	return c
}

type actionWire struct {
	Type   ActionType      `json:"type"`
	Config json.RawMessage `json:"config"`
}

// MarshalJSON encodes the action as {"type": ..., "config": {...}}.
func (a Action) MarshalJSON() ([]byte, error) {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionWire{Type: a.Type, Config: cfg})
}

// UnmarshalJSON decodes and validates the config for the declared type.
func (a *Action) UnmarshalJSON(data []byte) error {
	var wire actionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	cfg, ok := newConfig(wire.Type)
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, wire.Type)
	}
	if len(bytes.TrimSpace(wire.Config)) == 0 || bytes.Equal(bytes.TrimSpace(wire.Config), []byte("null")) {
		wire.Config = []byte("{}")
	}
	if err := json.Unmarshal(wire.Config, cfg); err != nil {
		return fmt.Errorf("%w: %s config: %v", ErrInvalidAction, wire.Type, err)
	}
	built, err := NewAction(wire.Type, cfg)
	if err != nil {
		return err
	}
	*a = built
	return nil
}
