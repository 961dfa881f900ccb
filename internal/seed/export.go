package seed

import (
	"context"
	"fmt"
)

// Export builds the rule set of a (tenant, module), active and inactive
// rules alike, in application order.
func (s *Seeder) Export(ctx context.Context, tenant, module string) (*RuleSet, error) {
	rules, err := s.store.ListRules(ctx, tenant, module)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}

	set := &RuleSet{Version: FormatVersion, Tenant: tenant, Module: module, Rules: []RuleDef{}}
	for _, r := range rules {
		when, err := r.StructuredCondition()
		if err != nil {
			return nil, fmt.Errorf("rule %q condition: %w", r.Name, err)
		}
		action, err := r.StructuredAction()
		if err != nil {
			return nil, fmt.Errorf("rule %q action: %w", r.Name, err)
		}
		confidence := r.Confidence
		active := r.IsActive
		set.Rules = append(set.Rules, RuleDef{
			Name:       r.Name,
			Condition:  r.Condition,
			When:       when,
			Action:     r.Action,
			Set:        action,
			Priority:   r.Priority,
			Confidence: &confidence,
			Active:     &active,
		})
	}
	return set, nil
}
