package ranking

import (
	"sort"

	"github.com/nvandessel/ruleloop/internal/models"
)

// Less reports whether rule a is applied before rule b: priority desc,
// confidence desc, most recently used first (never used last), newest
// first, then id. The order is total so application is deterministic.
func Less(a, b models.Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	switch {
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return true
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return false
	case a.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.After(*b.LastUsedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortRules sorts rules in application order, in place.
func SortRules(rules []models.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return Less(rules[i], rules[j])
	})
}

// Top returns the first n rules in application order without modifying rules.
func Top(rules []models.Rule, n int) []models.Rule {
	sorted := make([]models.Rule, len(rules))
	copy(sorted, rules)
	SortRules(sorted)
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}
