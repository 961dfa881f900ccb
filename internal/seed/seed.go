package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nvandessel/ruleloop/internal/models"
)

// Store is the slice of the rule store used for import and export.
type Store interface {
	CreateRule(ctx context.Context, draft models.RuleDraft) (*models.Rule, error)
	FindRuleByName(ctx context.Context, tenantID, module, name string) (*models.Rule, error)
	ListRules(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
}

// Seeder imports rule sets into a store.
type Seeder struct {
	store Store
}

// NewSeeder creates a new Seeder for the given store.
func NewSeeder(s Store) *Seeder {
	return &Seeder{store: s}
}

// ImportResult reports what the seeder did.
type ImportResult struct {
	Added   []string // names of newly created rules
	Skipped []string // names that already existed
	Total   int      // number of rule definitions
}

// Import creates every rule of set whose name does not yet exist in the
// set's (tenant, module). It is idempotent: existing names are skipped and
// never modified. tenant and module, when non-empty, override the document.
func (s *Seeder) Import(ctx context.Context, set *RuleSet, tenant, module string) (*ImportResult, error) {
	if tenant == "" {
		tenant = set.Tenant
	}
	if module == "" {
		module = set.Module
	}
	if strings.TrimSpace(tenant) == "" || strings.TrimSpace(module) == "" {
		return nil, fmt.Errorf("%w: rule set needs a tenant and module", models.ErrValidation)
	}

	// Validate everything up front so a bad document writes nothing.
	seen := make(map[string]bool, len(set.Rules))
	for i, def := range set.Rules {
		if err := def.Draft(tenant, module).Validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, def.Name, err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: duplicate rule name %q", models.ErrValidation, def.Name)
		}
		seen[def.Name] = true
	}

	result := &ImportResult{Total: len(set.Rules)}
	for _, def := range set.Rules {
		_, err := s.store.FindRuleByName(ctx, tenant, module, def.Name)
		if err == nil {
			result.Skipped = append(result.Skipped, def.Name)
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("checking rule %q: %w", def.Name, err)
		}

		rule, err := s.store.CreateRule(ctx, def.Draft(tenant, module))
		if err != nil {
			return nil, fmt.Errorf("adding rule %q: %w", def.Name, err)
		}
		if !def.IsActive() {
			if err := s.store.SetRuleActive(ctx, rule.ID, false); err != nil {
				return nil, fmt.Errorf("deactivating rule %q: %w", def.Name, err)
			}
		}
		result.Added = append(result.Added, def.Name)
	}
	return result, nil
}
