package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nvandessel/ruleloop/internal/models"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const ruleColumns = `id, tenant_id, module, name, condition, condition_json, action, action_json,
	priority, confidence, usage_count, success_count, last_used_at, is_active,
	source_conversation_id, created_at, updated_at`

// ruleOrder is the total application order. NULL last_used_at sorts last under DESC.
const ruleOrder = `ORDER BY priority DESC, confidence DESC, last_used_at DESC, created_at DESC, id`

// CreateRule validates and inserts a new active rule.
func (s *SQLiteStore) CreateRule(ctx context.Context, draft models.RuleDraft) (*models.Rule, error) {
	return s.insertRule(ctx, s.db, draft)
}

func (s *SQLiteStore) insertRule(ctx context.Context, q querier, draft models.RuleDraft) (*models.Rule, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	rule := &models.Rule{
		ID:                   uuid.New().String(),
		TenantID:             draft.TenantID,
		Module:               draft.Module,
		Name:                 draft.Name,
		Condition:            draft.Condition,
		Action:               draft.Action,
		Priority:             draft.Priority,
		Confidence:           draft.EffectiveConfidence(),
		IsActive:             true,
		SourceConversationID: draft.SourceConversationID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if draft.When != nil {
		data, err := json.Marshal(draft.When)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding condition: %v", models.ErrValidation, err)
		}
		rule.ConditionJSON = string(data)
	}
	if draft.Set != nil {
		data, err := json.Marshal(draft.Set)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding action: %v", models.ErrValidation, err)
		}
		rule.ActionJSON = string(data)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, 1, ?, ?, ?)`,
		rule.ID, rule.TenantID, rule.Module, rule.Name,
		rule.Condition, nullString(rule.ConditionJSON),
		rule.Action, nullString(rule.ActionJSON),
		rule.Priority, rule.Confidence,
		nullString(rule.SourceConversationID),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting rule: %w", err)
	}
	return rule, nil
}

// GetRule returns a rule by id, or models.ErrNotFound.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	return s.getRule(ctx, s.db, id)
}

func (s *SQLiteStore) getRule(ctx context.Context, q querier, id string) (*models.Rule, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, models.ErrNotFound)
	}
	return rule, err
}

// FindRuleByName returns the rule with the given name in (tenant, module), or models.ErrNotFound.
func (s *SQLiteStore) FindRuleByName(ctx context.Context, tenantID, module, name string) (*models.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE tenant_id = ? AND module = ? AND name = ?
		ORDER BY created_at LIMIT 1`, tenantID, module, name)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %q: %w", name, models.ErrNotFound)
	}
	return rule, err
}

// ListActive implements RuleStore.
func (s *SQLiteStore) ListActive(ctx context.Context, tenantID, module string) ([]models.Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE tenant_id = ? AND module = ? AND is_active = 1 `+ruleOrder, tenantID, module)
}

// ListRules implements RuleStore.
func (s *SQLiteStore) ListRules(ctx context.Context, tenantID, module string) ([]models.Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE tenant_id = ? AND module = ? `+ruleOrder, tenantID, module)
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// SetRuleActive enables or disables a rule.
func (s *SQLiteStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("updating rule %s: %w", id, err)
	}
	return requireRow(res, fmt.Errorf("rule %s: %w", id, models.ErrNotFound))
}

// RecordApplication implements RuleStore. The increment happens inside SQLite
// so concurrent callers never lose updates.
func (s *SQLiteStore) RecordApplication(ctx context.Context, ruleID string, success bool) error {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET usage_count = usage_count + 1,
		    success_count = success_count + ?,
		    last_used_at = ?,
		    updated_at = ?
		WHERE id = ?`, boolToInt(success), now, now, ruleID)
	if err != nil {
		return fmt.Errorf("recording application of rule %s: %w", ruleID, err)
	}
	return requireRow(res, fmt.Errorf("rule %s: %w", ruleID, models.ErrNotFound))
}

// AddApplication appends an audit row. Rows are never updated.
func (s *SQLiteStore) AddApplication(ctx context.Context, app models.RuleApplication) error {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now()
	}
	input, err := json.Marshal(app.InputData)
	if err != nil {
		return fmt.Errorf("encoding input snapshot: %w", err)
	}
	output, err := json.Marshal(app.OutputData)
	if err != nil {
		return fmt.Errorf("encoding output snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_applications (id, rule_id, entity_type, entity_id, input_data, output_data, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID, app.RuleID, app.EntityType, app.EntityID,
		string(input), string(output), boolToInt(app.Success), formatTime(app.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting rule application: %w", err)
	}
	return nil
}

// ListApplications returns the newest applications of rules in (tenant, module).
func (s *SQLiteStore) ListApplications(ctx context.Context, tenantID, module string, limit int) ([]models.RuleApplication, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.rule_id, a.entity_type, a.entity_id, a.input_data, a.output_data, a.success, a.created_at
		FROM rule_applications a
		JOIN rules r ON r.id = a.rule_id
		WHERE r.tenant_id = ? AND r.module = ?
		ORDER BY a.created_at DESC, a.id
		LIMIT ?`, tenantID, module, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rule applications: %w", err)
	}
	defer rows.Close()

	var apps []models.RuleApplication
	for rows.Next() {
		var (
			app           models.RuleApplication
			input, output string
			success       int
			createdAt     string
		)
		if err := rows.Scan(&app.ID, &app.RuleID, &app.EntityType, &app.EntityID,
			&input, &output, &success, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning rule application: %w", err)
		}
		if app.InputData, err = decodeRecord(input); err != nil {
			return nil, fmt.Errorf("decoding input snapshot: %w", err)
		}
		if app.OutputData, err = decodeRecord(output); err != nil {
			return nil, fmt.Errorf("decoding output snapshot: %w", err)
		}
		app.Success = success == 1
		if app.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var (
		r                         models.Rule
		conditionJSON, actionJSON sql.NullString
		lastUsedAt, sourceConv    sql.NullString
		isActive                  int
		createdAt, updatedAt      string
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Module, &r.Name,
		&r.Condition, &conditionJSON, &r.Action, &actionJSON,
		&r.Priority, &r.Confidence, &r.UsageCount, &r.SuccessCount,
		&lastUsedAt, &isActive, &sourceConv, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.ConditionJSON = conditionJSON.String
	r.ActionJSON = actionJSON.String
	r.SourceConversationID = sourceConv.String
	r.IsActive = isActive == 1
	if r.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &r, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
