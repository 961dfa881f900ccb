package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operator is the comparison used by a structured rule condition.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpGreater    Operator = "greaterThan"
	OpLess       Operator = "lessThan"
	OpIsEmpty    Operator = "isEmpty"
	OpIsNotEmpty Operator = "isNotEmpty"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEquals, OpContains, OpStartsWith, OpGreater, OpLess, OpIsEmpty, OpIsNotEmpty,
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// Condition is the structured, machine-evaluable part of a rule condition.
type Condition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator Operator    `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate rejects conditions the evaluator could never run.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("%w: condition field is required", ErrValidation)
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: unknown condition operator %q", ErrValidation, c.Operator)
	}
	return nil
}

// Action is the structured assignment performed when a rule fires.
type Action struct {
	Field string      `json:"field" yaml:"field"`
	Value interface{} `json:"value" yaml:"value"`
}

// Validate rejects actions without a target field.
func (a Action) Validate() error {
	if strings.TrimSpace(a.Field) == "" {
		return fmt.Errorf("%w: action field is required", ErrValidation)
	}
	return nil
}

// RuleSource records how a rule came to exist. It only affects defaults.
type RuleSource string

const (
	// SourceExplicit is a rule created on request, e.g. the create_rule tool.
	SourceExplicit RuleSource = "explicit"
	// SourceLearned is a rule synthesized from a correction.
	SourceLearned RuleSource = "learned"
)

// Default confidences per source.
const (
	DefaultExplicitConfidence = 0.5
	DefaultLearnedConfidence  = 0.6
)

// Rule is a tenant- and module-scoped condition/action pair.
type Rule struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Module   string `json:"module" yaml:"module"`
	Name     string `json:"name" yaml:"name"`

	// Human-readable condition plus its optional structured JSON form
	Condition     string `json:"condition" yaml:"condition"`
	ConditionJSON string `json:"condition_json,omitempty" yaml:"condition_json,omitempty"`

	// Human-readable action plus its optional structured JSON form
	Action     string `json:"action" yaml:"action"`
	ActionJSON string `json:"action_json,omitempty" yaml:"action_json,omitempty"`

	Priority   int     `json:"priority" yaml:"priority"`
	Confidence float64 `json:"confidence" yaml:"confidence"`

	UsageCount   int        `json:"usage_count" yaml:"usage_count"`
	SuccessCount int        `json:"success_count" yaml:"success_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`

	IsActive             bool   `json:"is_active" yaml:"is_active"`
	SourceConversationID string `json:"source_conversation_id,omitempty" yaml:"source_conversation_id,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// StructuredCondition parses ConditionJSON. A rule without one returns nil, nil.
func (r Rule) StructuredCondition() (*Condition, error) {
	return ParseCondition(r.ConditionJSON)
}

// StructuredAction parses ActionJSON. A rule without one returns nil, nil.
func (r Rule) StructuredAction() (*Action, error) {
	return ParseAction(r.ActionJSON)
}

// ParseCondition decodes and validates a structured condition.
func ParseCondition(raw string) (*Condition, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var c Condition
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("parsing condition json: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseAction decodes and validates a structured action.
func ParseAction(raw string) (*Action, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var a Action
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("parsing action json: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// RuleDraft holds the caller-supplied fields of a new rule.
type RuleDraft struct {
	TenantID  string     `json:"tenant_id" yaml:"tenant_id"`
	Module    string     `json:"module" yaml:"module"`
	Name      string     `json:"name" yaml:"name"`
	Condition string     `json:"condition" yaml:"condition"`
	When      *Condition `json:"when,omitempty" yaml:"when,omitempty"`
	Action    string     `json:"action" yaml:"action"`
	Set       *Action    `json:"set,omitempty" yaml:"set,omitempty"`
	Priority  int        `json:"priority" yaml:"priority"`

	// Confidence overrides the per-source default when non-nil
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	Source               RuleSource `json:"source,omitempty" yaml:"source,omitempty"`
	SourceConversationID string     `json:"source_conversation_id,omitempty" yaml:"source_conversation_id,omitempty"`
}

// Validate checks required fields and the structured parts, if any.
func (d RuleDraft) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"tenant_id", d.TenantID},
		{"module", d.Module},
		{"name", d.Name},
		{"condition", d.Condition},
		{"action", d.Action},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: rule %s is required", ErrValidation, r.name)
		}
	}
	if d.When != nil {
		if err := d.When.Validate(); err != nil {
			return err
		}
	}
	if d.Set != nil {
		if err := d.Set.Validate(); err != nil {
			return err
		}
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrValidation, *d.Confidence)
	}
	return nil
}

// EffectiveConfidence returns the explicit confidence or the per-source default.
func (d RuleDraft) EffectiveConfidence() float64 {
	if d.Confidence != nil {
		return *d.Confidence
	}
	if d.Source == SourceLearned {
		return DefaultLearnedConfidence
	}
	return DefaultExplicitConfidence
}

// Change describes one field mutation made by a rule.
type Change struct {
	Field string      `json:"field"`
	From  interface{} `json:"from"`
	To    interface{} `json:"to"`
	Rule  string      `json:"rule"`
}

// RuleApplication is the immutable audit record of one rule firing.
type RuleApplication struct {
	ID         string                 `json:"id"`
	RuleID     string                 `json:"rule_id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	InputData  map[string]interface{} `json:"input_data"`
	OutputData map[string]interface{} `json:"output_data"`
	Success    bool                   `json:"success"`
	CreatedAt  time.Time              `json:"created_at"`
}
