// Package store defines persistence for rules, corrections, rule
// applications and conversations, and provides a SQLite implementation.
package store

import (
	"context"

	"github.com/nvandessel/ruleloop/internal/models"
)

// RuleStore persists rules and their application audit trail.
type RuleStore interface {
	CreateRule(ctx context.Context, draft models.RuleDraft) (*models.Rule, error)
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	FindRuleByName(ctx context.Context, tenantID, module, name string) (*models.Rule, error)

	// ListActive returns active rules for (tenant, module) in application order:
	// priority desc, confidence desc, last used desc.
	ListActive(ctx context.Context, tenantID, module string) ([]models.Rule, error)

	// ListRules returns every rule for (tenant, module), active or not.
	ListRules(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error

	// RecordApplication atomically bumps usage (and success) counters.
	RecordApplication(ctx context.Context, ruleID string, success bool) error
	AddApplication(ctx context.Context, app models.RuleApplication) error
	ListApplications(ctx context.Context, tenantID, module string, limit int) ([]models.RuleApplication, error)
}

// CorrectionStore persists corrections and the learning transitions on them.
type CorrectionStore interface {
	CreateCorrection(ctx context.Context, draft models.CorrectionDraft) (*models.Correction, error)
	GetCorrection(ctx context.Context, tenantID, id string) (*models.Correction, error)
	ListCorrections(ctx context.Context, tenantID, module string, limit int) ([]models.Correction, error)

	// ReinforceRule raises a rule's confidence by boost (capped at ceiling),
	// bumps its usage count and marks the correction applied, atomically.
	ReinforceRule(ctx context.Context, ruleID, correctionID string, boost, ceiling float64) (*models.Rule, error)

	// CreateLearnedRule inserts a rule and marks the correction applied, atomically.
	CreateLearnedRule(ctx context.Context, draft models.RuleDraft, correctionID string) (*models.Rule, error)
}

// ConversationStore persists append-only conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv models.Conversation) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Store is the full persistence surface.
type Store interface {
	RuleStore
	CorrectionStore
	ConversationStore
	Close() error
}
