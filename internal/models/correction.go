package models

import (
	"fmt"
	"strings"
	"time"
)

// Correction records an administrator-reported original vs corrected value
// for one field of one entity. It moves from created to applied exactly once.
type Correction struct {
	ID             string `json:"id" yaml:"id"`
	TenantID       string `json:"tenant_id" yaml:"tenant_id"`
	ConversationID string `json:"conversation_id" yaml:"conversation_id"`
	Module         string `json:"module" yaml:"module"`
	EntityType     string `json:"entity_type" yaml:"entity_type"`
	EntityID       string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`

	// Dotted path of the corrected field, e.g. "overtimeHours"
	FieldPath      string      `json:"field_path" yaml:"field_path"`
	OriginalValue  interface{} `json:"original_value" yaml:"original_value"`
	CorrectedValue interface{} `json:"corrected_value" yaml:"corrected_value"`

	// Natural-language generalization of the correction, if the oracle found one
	RuleExtracted string `json:"rule_extracted,omitempty" yaml:"rule_extracted,omitempty"`

	Applied   bool       `json:"applied" yaml:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// CorrectionDraft holds the caller-supplied fields of a new correction.
type CorrectionDraft struct {
	TenantID       string      `json:"tenant_id"`
	ConversationID string      `json:"conversation_id"`
	Module         string      `json:"module"`
	EntityType     string      `json:"entity_type"`
	EntityID       string      `json:"entity_id,omitempty"`
	FieldPath      string      `json:"field_path"`
	OriginalValue  interface{} `json:"original_value"`
	CorrectedValue interface{} `json:"corrected_value"`
	RuleExtracted  string      `json:"rule_extracted,omitempty"`
}

// Validate checks that all required fields are present.
func (d CorrectionDraft) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"tenant_id", d.TenantID},
		{"conversation_id", d.ConversationID},
		{"module", d.Module},
		{"entity_type", d.EntityType},
		{"field_path", d.FieldPath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: correction %s is required", ErrValidation, r.name)
		}
	}
	return nil
}
