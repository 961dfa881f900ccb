package learning

import (
	"strings"

	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/ranking"
)

// Placement actions.
const (
	PlaceReinforce = "reinforce"
	PlaceCreate    = "create"
)

// PlacementDecision describes what a correction does to the rule set.
type PlacementDecision struct {
	// Action is PlaceReinforce or PlaceCreate
	Action string

	// Target is the rule to reinforce, set for PlaceReinforce
	Target *models.Rule

	// MatchedBy names how Target was found: "condition", "action" or "condition_json"
	MatchedBy string
}

// RulePlacer decides whether a correction reinforces an existing rule.
type RulePlacer struct{}

// NewRulePlacer creates a RulePlacer.
func NewRulePlacer() *RulePlacer {
	return &RulePlacer{}
}

// Place picks the highest-ranked active rule that references the
// correction's field path, or decides to create a new rule. A rule matches
// when its structured condition or action targets the field, or when its raw
// condition JSON mentions the field by name.
func (p *RulePlacer) Place(c models.Correction, active []models.Rule) PlacementDecision {
	rules := make([]models.Rule, len(active))
	copy(rules, active)
	ranking.SortRules(rules)

	for i := range rules {
		if by := referencesField(rules[i], c.FieldPath); by != "" {
			return PlacementDecision{Action: PlaceReinforce, Target: &rules[i], MatchedBy: by}
		}
	}
	return PlacementDecision{Action: PlaceCreate}
}

func referencesField(r models.Rule, fieldPath string) string {
	if fieldPath == "" {
		return ""
	}
	if cond, err := r.StructuredCondition(); err == nil && cond != nil && cond.Field == fieldPath {
		return "condition"
	}
	if action, err := r.StructuredAction(); err == nil && action != nil && action.Field == fieldPath {
		return "action"
	}
	if strings.Contains(r.ConditionJSON, `"`+fieldPath+`"`) {
		return "condition_json"
	}
	return ""
}
