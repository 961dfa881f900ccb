package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvandessel/ruleloop/internal/models"
)

// DefaultPreambleRules is how many active rules the preamble lists.
const DefaultPreambleRules = 5

// PreambleInput is what the system preamble describes.
type PreambleInput struct {
	Module      string
	ContextID   string
	ContextData map[string]interface{}

	// Rules are listed in the given order; callers pass the top-ranked ones
	Rules []models.Rule
}

// BuildPreamble renders the system preamble for one oracle call.
func BuildPreamble(in PreambleInput) string {
	var sb strings.Builder

	sb.WriteString("You help an HR administrator correct records in the ")
	sb.WriteString(in.Module)
	sb.WriteString(" module and turn corrections into reusable rules.\n\n")
	sb.WriteString("When the user says a value is wrong, call extract_correction with the field path, ")
	sb.WriteString("the original and corrected values, and the general rule in plain language if one is implied. ")
	sb.WriteString("When the user explicitly states a rule, call create_rule. ")
	sb.WriteString("Use query_data to look up existing rules or corrections, and suggest_fix to show what rules would change on a record. ")
	sb.WriteString("Otherwise answer briefly in plain text.\n")

	if in.ContextID != "" || len(in.ContextData) > 0 {
		sb.WriteString("\n## Record under discussion\n")
		if in.ContextID != "" {
			fmt.Fprintf(&sb, "ID: %s\n", in.ContextID)
		}
		if len(in.ContextData) > 0 {
			data, err := json.MarshalIndent(in.ContextData, "", "  ")
			if err == nil {
				sb.WriteString("```json\n")
				sb.Write(data)
				sb.WriteString("\n```\n")
			}
		}
	}

	if len(in.Rules) > 0 {
		sb.WriteString("\n## Active rules (highest priority first)\n")
		for i, r := range in.Rules {
			fmt.Fprintf(&sb, "%d. %s: when %s, then %s (priority %d, confidence %.2f)\n",
				i+1, r.Name, r.Condition, r.Action, r.Priority, r.Confidence)
		}
	}

	return sb.String()
}
