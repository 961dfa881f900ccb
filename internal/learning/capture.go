package learning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/sanitize"
)

// CaptureCorrection normalizes a correction draft before it is stored:
// identifiers are trimmed, the field path and generalization are sanitized.
func CaptureCorrection(d models.CorrectionDraft) models.CorrectionDraft {
	d.TenantID = strings.TrimSpace(d.TenantID)
	d.ConversationID = strings.TrimSpace(d.ConversationID)
	d.Module = strings.TrimSpace(d.Module)
	d.EntityType = strings.TrimSpace(d.EntityType)
	d.EntityID = strings.TrimSpace(d.EntityID)
	d.FieldPath = sanitize.SanitizeFieldPath(d.FieldPath)
	d.RuleExtracted = sanitize.SanitizeRuleText(d.RuleExtracted)
	return d
}

// LearnedRuleDraft synthesizes the rule a correction teaches. The condition
// is the raw generalization; the structured action assigns the corrected
// value to the corrected field.
func LearnedRuleDraft(c models.Correction) models.RuleDraft {
	return models.RuleDraft{
		TenantID:             c.TenantID,
		Module:               c.Module,
		Name:                 LearnedRuleName(c.Module, c.FieldPath),
		Condition:            c.RuleExtracted,
		Action:               fmt.Sprintf("Set %s to %s", c.FieldPath, formatValue(c.CorrectedValue)),
		Set:                  &models.Action{Field: c.FieldPath, Value: c.CorrectedValue},
		Source:               models.SourceLearned,
		SourceConversationID: c.ConversationID,
	}
}

// LearnedRuleName derives a rule name from module and field path.
func LearnedRuleName(module, fieldPath string) string {
	return sanitize.SanitizeRuleName("learned/" + module + "/" + fieldPath)
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "empty"
	case string:
		return t
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
