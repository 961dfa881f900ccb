package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvandessel/ruleloop/internal/models"
)

// Tool names. The vocabulary is fixed.
const (
	ToolExtractCorrection = "extract_correction"
	ToolCreateRule        = "create_rule"
	ToolQueryData         = "query_data"
	ToolSuggestFix        = "suggest_fix"
)

// ToolSpec declares a tool and the JSON Schema of its arguments.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ExtractCorrectionArgs are the arguments of extract_correction.
type ExtractCorrectionArgs struct {
	EntityType     string      `json:"entity_type"`
	EntityID       string      `json:"entity_id,omitempty"`
	FieldPath      string      `json:"field_path"`
	OriginalValue  interface{} `json:"original_value"`
	CorrectedValue interface{} `json:"corrected_value"`
	RuleExtracted  string      `json:"rule_extracted,omitempty"`
}

// CreateRuleArgs are the arguments of create_rule.
type CreateRuleArgs struct {
	Name      string            `json:"name"`
	Condition string            `json:"condition"`
	Action    string            `json:"action"`
	When      *models.Condition `json:"when,omitempty"`
	Set       *models.Action    `json:"set,omitempty"`
	Priority  int               `json:"priority,omitempty"`
}

// QueryDataArgs are the arguments of query_data.
type QueryDataArgs struct {
	Kind  string `json:"kind"`
	Limit int    `json:"limit,omitempty"`
}

// Query kinds accepted by query_data.
const (
	QueryRules        = "rules"
	QueryCorrections  = "corrections"
	QueryApplications = "applications"
)

// SuggestFixArgs are the arguments of suggest_fix.
type SuggestFixArgs struct {
	EntityType string                 `json:"entity_type,omitempty"`
	Record     map[string]interface{} `json:"record"`
}

var conditionSchema = `{
	"type": "object",
	"properties": {
		"field": {"type": "string", "description": "Dotted field path"},
		"operator": {"type": "string", "enum": ["equals", "contains", "startsWith", "greaterThan", "lessThan", "isEmpty", "isNotEmpty"]},
		"value": {}
	},
	"required": ["field", "operator"]
}`

var actionSchema = `{
	"type": "object",
	"properties": {
		"field": {"type": "string", "description": "Dotted field path to assign"},
		"value": {}
	},
	"required": ["field", "value"]
}`

var toolSpecs = []ToolSpec{
	{
		Name:        ToolExtractCorrection,
		Description: "Record that the user corrected one field of a record, with an optional general rule in plain language.",
		Parameters: json.RawMessage(`{
	"type": "object",
	"properties": {
		"entity_type": {"type": "string"},
		"entity_id": {"type": "string"},
		"field_path": {"type": "string"},
		"original_value": {},
		"corrected_value": {},
		"rule_extracted": {"type": "string", "description": "The generalization, e.g. overtime on Saturdays should be 4 hours"}
	},
	"required": ["entity_type", "field_path", "corrected_value"]
}`),
	},
	{
		Name:        ToolCreateRule,
		Description: "Create a rule for this module when the user explicitly states one.",
		Parameters: json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"condition": {"type": "string"},
		"action": {"type": "string"},
		"when": ` + conditionSchema + `,
		"set": ` + actionSchema + `,
		"priority": {"type": "integer"}
	},
	"required": ["name", "condition", "action"]
}`),
	},
	{
		Name:        ToolQueryData,
		Description: "Read the module's rules, corrections or recent rule applications.",
		Parameters: json.RawMessage(`{
	"type": "object",
	"properties": {
		"kind": {"type": "string", "enum": ["rules", "corrections", "applications"]},
		"limit": {"type": "integer", "minimum": 1, "maximum": 100}
	},
	"required": ["kind"]
}`),
	},
	{
		Name:        ToolSuggestFix,
		Description: "Show which rules would change a record and how, without saving anything.",
		Parameters: json.RawMessage(`{
	"type": "object",
	"properties": {
		"entity_type": {"type": "string"},
		"record": {"type": "object"}
	},
	"required": ["record"]
}`),
	},
}

// Tools returns the fixed tool vocabulary.
func Tools() []ToolSpec {
	out := make([]ToolSpec, len(toolSpecs))
	copy(out, toolSpecs)
	return out
}

// KnownTool reports whether name is in the vocabulary.
func KnownTool(name string) bool {
	for _, spec := range toolSpecs {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// DecodeArguments strictly decodes call arguments into v and checks the
// fields each tool requires. Any failure wraps ErrMalformedToolArguments.
func DecodeArguments(call ToolCall, v interface{}) error {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedToolArguments, call.Name, err)
	}

	var missing string
	switch args := v.(type) {
	case *ExtractCorrectionArgs:
		switch {
		case args.EntityType == "":
			missing = "entity_type"
		case args.FieldPath == "":
			missing = "field_path"
		}
	case *CreateRuleArgs:
		switch {
		case args.Name == "":
			missing = "name"
		case args.Condition == "":
			missing = "condition"
		case args.Action == "":
			missing = "action"
		}
	case *QueryDataArgs:
		switch args.Kind {
		case QueryRules, QueryCorrections, QueryApplications:
		default:
			return fmt.Errorf("%w: %s: unknown kind %q", ErrMalformedToolArguments, call.Name, args.Kind)
		}
	case *SuggestFixArgs:
		if args.Record == nil {
			missing = "record"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s: %s is required", ErrMalformedToolArguments, call.Name, missing)
	}
	return nil
}
