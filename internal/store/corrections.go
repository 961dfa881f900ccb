package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nvandessel/ruleloop/internal/models"
)

const correctionColumns = `id, tenant_id, conversation_id, module, entity_type, entity_id,
	field_path, original_value, corrected_value, rule_extracted, applied, applied_at, created_at`

// CreateCorrection validates and inserts a new, unapplied correction.
func (s *SQLiteStore) CreateCorrection(ctx context.Context, draft models.CorrectionDraft) (*models.Correction, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	original, err := encodeValue(draft.OriginalValue)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding original value: %v", models.ErrValidation, err)
	}
	corrected, err := encodeValue(draft.CorrectedValue)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding corrected value: %v", models.ErrValidation, err)
	}

	c := &models.Correction{
		ID:             uuid.New().String(),
		TenantID:       draft.TenantID,
		ConversationID: draft.ConversationID,
		Module:         draft.Module,
		EntityType:     draft.EntityType,
		EntityID:       draft.EntityID,
		FieldPath:      draft.FieldPath,
		OriginalValue:  draft.OriginalValue,
		CorrectedValue: draft.CorrectedValue,
		RuleExtracted:  draft.RuleExtracted,
		CreatedAt:      s.now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO corrections (`+correctionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		c.ID, c.TenantID, c.ConversationID, c.Module, c.EntityType, nullString(c.EntityID),
		c.FieldPath, original, corrected, nullString(c.RuleExtracted), formatTime(c.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting correction: %w", err)
	}
	return c, nil
}

// GetCorrection returns a tenant's correction by id, or models.ErrNotFound.
func (s *SQLiteStore) GetCorrection(ctx context.Context, tenantID, id string) (*models.Correction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+correctionColumns+` FROM corrections WHERE id = ? AND tenant_id = ?`, id, tenantID)
	c, err := scanCorrection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("correction %s: %w", id, models.ErrNotFound)
	}
	return c, err
}

// ListCorrections returns the newest corrections in (tenant, module).
func (s *SQLiteStore) ListCorrections(ctx context.Context, tenantID, module string, limit int) ([]models.Correction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+correctionColumns+` FROM corrections
		WHERE tenant_id = ? AND module = ?
		ORDER BY created_at DESC, id
		LIMIT ?`, tenantID, module, limit)
	if err != nil {
		return nil, fmt.Errorf("querying corrections: %w", err)
	}
	defer rows.Close()

	var out []models.Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ReinforceRule implements CorrectionStore.
func (s *SQLiteStore) ReinforceRule(ctx context.Context, ruleID, correctionID string, boost, ceiling float64) (*models.Rule, error) {
	var rule *models.Rule
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(s.now())
		if err := markApplied(ctx, tx, correctionID, now); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE rules
			SET confidence = MAX(0.0, MIN(?, confidence + ?)),
			    usage_count = usage_count + 1,
			    updated_at = ?
			WHERE id = ?`, ceiling, boost, now, ruleID)
		if err != nil {
			return fmt.Errorf("reinforcing rule %s: %w", ruleID, err)
		}
		if err := requireRow(res, fmt.Errorf("rule %s: %w", ruleID, models.ErrNotFound)); err != nil {
			return err
		}

		rule, err = s.getRule(ctx, tx, ruleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// CreateLearnedRule implements CorrectionStore.
func (s *SQLiteStore) CreateLearnedRule(ctx context.Context, draft models.RuleDraft, correctionID string) (*models.Rule, error) {
	var rule *models.Rule
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := markApplied(ctx, tx, correctionID, formatTime(s.now())); err != nil {
			return err
		}
		var err error
		rule, err = s.insertRule(ctx, tx, draft)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// markApplied flips applied 0 -> 1. The guard makes a second learn lose the race.
func markApplied(ctx context.Context, tx *sql.Tx, correctionID, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE corrections SET applied = 1, applied_at = ? WHERE id = ? AND applied = 0`,
		now, correctionID)
	if err != nil {
		return fmt.Errorf("marking correction %s applied: %w", correctionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections WHERE id = ?`, correctionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking correction %s: %w", correctionID, err)
	}
	if exists == 0 {
		return fmt.Errorf("correction %s: %w", correctionID, models.ErrNotFound)
	}
	return fmt.Errorf("correction %s: %w", correctionID, models.ErrAlreadyApplied)
}

func scanCorrection(row rowScanner) (*models.Correction, error) {
	var (
		c                             models.Correction
		entityID, ruleExtracted       sql.NullString
		originalValue, correctedValue sql.NullString
		appliedAt                     sql.NullString
		applied                       int
		createdAt                     string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.ConversationID, &c.Module, &c.EntityType, &entityID,
		&c.FieldPath, &originalValue, &correctedValue, &ruleExtracted, &applied, &appliedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	c.EntityID = entityID.String
	c.RuleExtracted = ruleExtracted.String
	c.Applied = applied == 1
	if c.OriginalValue, err = decodeValue(originalValue); err != nil {
		return nil, fmt.Errorf("decoding original value: %w", err)
	}
	if c.CorrectedValue, err = decodeValue(correctedValue); err != nil {
		return nil, fmt.Errorf("decoding corrected value: %w", err)
	}
	if c.AppliedAt, err = parseNullTime(appliedAt); err != nil {
		return nil, fmt.Errorf("parsing applied_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}
