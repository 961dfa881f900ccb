// Package activation evaluates a (tenant, module)'s active rules against a
// record and applies their actions in rank order.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/ranking"
)

// Store is the slice of the rule store the engine needs.
type Store interface {
	ListActive(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	AddApplication(ctx context.Context, app models.RuleApplication) error
	RecordApplication(ctx context.Context, ruleID string, success bool) error
}

// ApplyRequest identifies the record and the rule scope to apply.
type ApplyRequest struct {
	TenantID   string                 `json:"tenant_id"`
	Module     string                 `json:"module"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Data       map[string]interface{} `json:"data"`
}

// SkippedRule is a rule that could not be evaluated or applied.
type SkippedRule struct {
	RuleID string `json:"rule_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ApplyResult is the outcome of one pass. Callers persist Data, the terminal
// working copy, not just Changes.
type ApplyResult struct {
	Modified     bool                   `json:"modified"`
	Changes      []models.Change        `json:"changes"`
	AppliedRules []string               `json:"applied_rules"`
	Skipped      []SkippedRule          `json:"skipped,omitempty"`
	Data         map[string]interface{} `json:"data"`
}

// Engine applies rules. It holds no mutable state; concurrent calls only
// share the per-rule counters, which the store increments atomically.
type Engine struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply evaluates the active rules in order against one working copy of
// req.Data. Each firing is audited and counted. A rule that fails to
// evaluate is skipped without an audit row or counter update.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	return e.run(ctx, req, false)
}

// Preview runs the same evaluation as Apply without writing audit rows or
// touching rule counters.
func (e *Engine) Preview(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	return e.run(ctx, req, true)
}

func (e *Engine) run(ctx context.Context, req ApplyRequest, dryRun bool) (*ApplyResult, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.Module) == "" {
		return nil, fmt.Errorf("%w: tenant_id and module are required", models.ErrValidation)
	}
	start := time.Now()
	defer func() { e.metrics.ObserveApply(req.Module, time.Since(start)) }()

	rules, err := e.store.ListActive(ctx, req.TenantID, req.Module)
	if err != nil {
		return nil, fmt.Errorf("loading active rules: %w", err)
	}
	ranking.SortRules(rules)

	work := models.CloneRecord(req.Data)
	if work == nil {
		work = make(map[string]interface{})
	}
	result := &ApplyResult{
		Changes:      []models.Change{},
		AppliedRules: []string{},
	}

	for _, rule := range rules {
		input := models.CloneRecord(work)

		change, fired, err := applyRule(rule, work)
		if err != nil {
			e.logger.Warn("skipping rule",
				"rule_id", rule.ID, "rule", rule.Name,
				"tenant", req.TenantID, "module", req.Module, "error", err)
			e.metrics.RuleError(req.TenantID, req.Module)
			result.Skipped = append(result.Skipped, SkippedRule{RuleID: rule.ID, Name: rule.Name, Reason: err.Error()})
			continue
		}
		if !fired {
			continue
		}

		result.Changes = append(result.Changes, *change)
		result.AppliedRules = append(result.AppliedRules, rule.ID)
		if dryRun {
			continue
		}

		app := models.RuleApplication{
			RuleID:     rule.ID,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			InputData:  input,
			OutputData: models.CloneRecord(work),
			Success:    true,
		}
		if err := e.store.AddApplication(ctx, app); err != nil {
			return nil, fmt.Errorf("recording application of rule %s: %w", rule.ID, err)
		}
		if err := e.store.RecordApplication(ctx, rule.ID, true); err != nil {
			return nil, fmt.Errorf("updating counters of rule %s: %w", rule.ID, err)
		}
		e.metrics.RuleFired(req.TenantID, req.Module)
		e.logger.Debug("rule applied",
			"rule_id", rule.ID, "field", change.Field, "entity_type", req.EntityType, "entity_id", req.EntityID)
	}

	result.Modified = len(result.Changes) > 0
	result.Data = work
	return result, nil
}

// applyRule evaluates one rule and, if it holds, assigns its action in work.
// work is untouched when an error is returned.
func applyRule(rule models.Rule, work map[string]interface{}) (*models.Change, bool, error) {
	cond, err := rule.StructuredCondition()
	if err != nil {
		return nil, false, err
	}
	if cond == nil {
		return nil, false, nil
	}
	met, err := Evaluate(cond, work)
	if err != nil || !met {
		return nil, false, err
	}

	action, err := rule.StructuredAction()
	if err != nil {
		return nil, false, err
	}
	if action == nil {
		return nil, false, fmt.Errorf("rule %q has no structured action", rule.Name)
	}

	from, _ := models.Lookup(work, action.Field)
	to := coerceLike(from, action.Value)
	if err := models.Assign(work, action.Field, to); err != nil {
		return nil, false, err
	}
	return &models.Change{Field: action.Field, From: from, To: to, Rule: rule.Name}, true, nil
}
