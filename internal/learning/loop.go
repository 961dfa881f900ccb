// Package learning turns corrections into new or reinforced rules.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/ranking"
)

// Store is the slice of the rule store the learning loop needs.
type Store interface {
	CreateCorrection(ctx context.Context, draft models.CorrectionDraft) (*models.Correction, error)
	GetCorrection(ctx context.Context, tenantID, id string) (*models.Correction, error)
	ListActive(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	ReinforceRule(ctx context.Context, ruleID, correctionID string, boost, ceiling float64) (*models.Rule, error)
	CreateLearnedRule(ctx context.Context, draft models.RuleDraft, correctionID string) (*models.Rule, error)
}

// LearningResult represents the result of processing a correction.
type LearningResult struct {
	// RuleCreated is true when a new rule was synthesized
	RuleCreated bool `json:"rule_created"`

	// RuleReinforced is true when an existing rule gained confidence
	RuleReinforced bool `json:"rule_reinforced"`

	// AlreadyApplied is true when the correction had been applied before;
	// nothing changed
	AlreadyApplied bool `json:"already_applied"`

	// Rule is the created or reinforced rule
	Rule *models.Rule `json:"rule,omitempty"`
}

// LearningLoop orchestrates the correction -> rule pipeline.
type LearningLoop interface {
	// CreateCorrection normalizes, validates and stores a correction.
	CreateCorrection(ctx context.Context, draft models.CorrectionDraft) (*models.Correction, error)

	// LearnFromCorrection applies a stored correction to the rule set: it
	// reinforces the matching active rule or creates a new one, and marks
	// the correction applied. A correction is applied at most once.
	LearnFromCorrection(ctx context.Context, correctionID, tenantID string) (*LearningResult, error)
}

// LearningLoopConfig holds configuration for the learning loop.
type LearningLoopConfig struct {
	Reinforcement ranking.ConfidenceReinforcementConfig
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// DefaultLearningLoopConfig returns the defaults: +0.05 per correction, ceiling 1.0.
func DefaultLearningLoopConfig() LearningLoopConfig {
	return LearningLoopConfig{
		Reinforcement: ranking.DefaultReinforcementConfig(),
	}
}

// NewLearningLoop creates a new learning loop with the given store and config.
// If config is nil, default configuration is used.
func NewLearningLoop(s Store, config *LearningLoopConfig) LearningLoop {
	cfg := DefaultLearningLoopConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &learningLoop{
		store:         s,
		placer:        NewRulePlacer(),
		reinforcement: cfg.Reinforcement,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

type learningLoop struct {
	store         Store
	placer        *RulePlacer
	reinforcement ranking.ConfidenceReinforcementConfig
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// CreateCorrection implements LearningLoop.
func (l *learningLoop) CreateCorrection(ctx context.Context, draft models.CorrectionDraft) (*models.Correction, error) {
	return l.store.CreateCorrection(ctx, CaptureCorrection(draft))
}

// LearnFromCorrection implements LearningLoop.
func (l *learningLoop) LearnFromCorrection(ctx context.Context, correctionID, tenantID string) (*LearningResult, error) {
	c, err := l.store.GetCorrection(ctx, tenantID, correctionID)
	if err != nil {
		return nil, err
	}
	if c.Applied {
		l.metrics.LearnOutcome("already_applied")
		return &LearningResult{AlreadyApplied: true}, nil
	}
	if strings.TrimSpace(c.RuleExtracted) == "" {
		l.metrics.LearnOutcome("no_rule")
		return &LearningResult{}, nil
	}

	active, err := l.store.ListActive(ctx, c.TenantID, c.Module)
	if err != nil {
		return nil, fmt.Errorf("loading active rules: %w", err)
	}

	decision := l.placer.Place(*c, active)
	switch decision.Action {
	case PlaceReinforce:
		rule, err := l.store.ReinforceRule(ctx, decision.Target.ID, c.ID,
			l.reinforcement.BoostAmount, l.reinforcement.Ceiling)
		if errors.Is(err, models.ErrAlreadyApplied) {
			l.metrics.LearnOutcome("already_applied")
			return &LearningResult{AlreadyApplied: true}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reinforcing rule %s: %w", decision.Target.ID, err)
		}
		l.logger.Info("rule reinforced",
			"rule_id", rule.ID, "correction_id", c.ID, "matched_by", decision.MatchedBy,
			"confidence_from", decision.Target.Confidence, "confidence_to", rule.Confidence)
		l.metrics.LearnOutcome("reinforced")
		return &LearningResult{RuleReinforced: true, Rule: rule}, nil

	default:
		rule, err := l.store.CreateLearnedRule(ctx, LearnedRuleDraft(*c), c.ID)
		if errors.Is(err, models.ErrAlreadyApplied) {
			l.metrics.LearnOutcome("already_applied")
			return &LearningResult{AlreadyApplied: true}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("creating learned rule: %w", err)
		}
		l.logger.Info("rule learned",
			"rule_id", rule.ID, "name", rule.Name, "correction_id", c.ID, "module", c.Module)
		l.metrics.LearnOutcome("created")
		return &LearningResult{RuleCreated: true, Rule: rule}, nil
	}
}
