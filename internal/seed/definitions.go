// Package seed imports and exports rule sets: YAML documents holding the
// rules of one (tenant, module).
package seed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/ruleloop/internal/models"
)

// FormatVersion is the rule set document version written by Export.
const FormatVersion = 1

// RuleSet is the on-disk rule set document.
type RuleSet struct {
	Version int       `yaml:"version"`
	Tenant  string    `yaml:"tenant"`
	Module  string    `yaml:"module"`
	Rules   []RuleDef `yaml:"rules"`
}

// RuleDef is one rule in a rule set.
type RuleDef struct {
	Name       string            `yaml:"name"`
	Condition  string            `yaml:"condition"`
	When       *models.Condition `yaml:"when,omitempty"`
	Action     string            `yaml:"action"`
	Set        *models.Action    `yaml:"set,omitempty"`
	Priority   int               `yaml:"priority,omitempty"`
	Confidence *float64          `yaml:"confidence,omitempty"`

	// Active defaults to true when omitted
	Active *bool `yaml:"active,omitempty"`
}

// Draft converts the definition into a rule draft scoped to tenant and module.
func (d RuleDef) Draft(tenant, module string) models.RuleDraft {
	return models.RuleDraft{
		TenantID:   tenant,
		Module:     module,
		Name:       d.Name,
		Condition:  d.Condition,
		When:       d.When,
		Action:     d.Action,
		Set:        d.Set,
		Priority:   d.Priority,
		Confidence: d.Confidence,
		Source:     models.SourceExplicit,
	}
}

// IsActive reports the effective active flag.
func (d RuleDef) IsActive() bool {
	return d.Active == nil || *d.Active
}

// Parse decodes a rule set document.
func Parse(data []byte) (*RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing rule set: %w", err)
	}
	if set.Version > FormatVersion {
		return nil, fmt.Errorf("rule set version %d is newer than supported version %d", set.Version, FormatVersion)
	}
	return &set, nil
}

// ReadFile reads and parses a rule set file.
func ReadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule set: %w", err)
	}
	return Parse(data)
}

// Marshal encodes set as YAML.
func Marshal(set *RuleSet) ([]byte, error) {
	data, err := yaml.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("encoding rule set: %w", err)
	}
	return data, nil
}

// WriteFile writes set as YAML to path.
func WriteFile(path string, set *RuleSet) error {
	data, err := Marshal(set)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing rule set: %w", err)
	}
	return nil
}
