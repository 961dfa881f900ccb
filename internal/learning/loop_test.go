package learning

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), store.DatabaseFile))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func overtimeCorrection() models.CorrectionDraft {
	return models.CorrectionDraft{
		TenantID:       "acme",
		ConversationID: "conv-1",
		Module:         "attendance",
		EntityType:     "attendance_record",
		EntityID:       "att-7",
		FieldPath:      "overtimeHours",
		OriginalValue:  0,
		CorrectedValue: 4,
		RuleExtracted:  "overtime on Saturdays should be 4 hours",
	}
}

func TestLearnFromCorrection_CreatesRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	c, err := loop.CreateCorrection(ctx, overtimeCorrection())
	if err != nil {
		t.Fatalf("CreateCorrection() error = %v", err)
	}
	res, err := loop.LearnFromCorrection(ctx, c.ID, "acme")
	if err != nil {
		t.Fatalf("LearnFromCorrection() error = %v", err)
	}
	if !res.RuleCreated || res.RuleReinforced || res.Rule == nil {
		t.Fatalf("result = %+v", res)
	}

	r := res.Rule
	if r.Confidence != models.DefaultLearnedConfidence || r.UsageCount != 0 {
		t.Errorf("confidence/usage = %v/%d, want 0.6/0", r.Confidence, r.UsageCount)
	}
	if r.Name != "learned/attendance/overtimeHours" {
		t.Errorf("Name = %q", r.Name)
	}
	if r.Condition != "overtime on Saturdays should be 4 hours" {
		t.Errorf("Condition = %q", r.Condition)
	}
	if r.Action != "Set overtimeHours to 4" {
		t.Errorf("Action = %q", r.Action)
	}
	if r.SourceConversationID != "conv-1" {
		t.Errorf("SourceConversationID = %q", r.SourceConversationID)
	}

	applied, _ := s.GetCorrection(ctx, "acme", c.ID)
	if !applied.Applied || applied.AppliedAt == nil {
		t.Error("correction not marked applied")
	}
}

func TestLearnFromCorrection_ReinforcesExistingRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	existing, err := s.CreateRule(ctx, models.RuleDraft{
		TenantID: "acme", Module: "attendance", Name: "saturday-overtime",
		Condition: "day is Saturday",
		When:      &models.Condition{Field: "overtimeHours", Operator: models.OpIsEmpty},
		Action:    "overtime is 4",
		Set:       &models.Action{Field: "overtimeHours", Value: 4},
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	c, _ := loop.CreateCorrection(ctx, overtimeCorrection())
	res, err := loop.LearnFromCorrection(ctx, c.ID, "acme")
	if err != nil {
		t.Fatalf("LearnFromCorrection() error = %v", err)
	}
	if !res.RuleReinforced || res.RuleCreated {
		t.Fatalf("result = %+v", res)
	}
	if res.Rule.ID != existing.ID {
		t.Errorf("reinforced %s, want %s", res.Rule.ID, existing.ID)
	}
	if math.Abs(res.Rule.Confidence-(existing.Confidence+0.05)) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", res.Rule.Confidence, existing.Confidence+0.05)
	}
	if res.Rule.UsageCount != existing.UsageCount+1 {
		t.Errorf("UsageCount = %d, want %d", res.Rule.UsageCount, existing.UsageCount+1)
	}

	rules, _ := s.ListRules(ctx, "acme", "attendance")
	if len(rules) != 1 {
		t.Errorf("ListRules() = %d rules, want no duplicate", len(rules))
	}
}

func TestLearnFromCorrection_SecondCorrectionReinforcesLearnedRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	first, _ := loop.CreateCorrection(ctx, overtimeCorrection())
	created, err := loop.LearnFromCorrection(ctx, first.ID, "acme")
	if err != nil {
		t.Fatalf("first LearnFromCorrection() error = %v", err)
	}

	second, _ := loop.CreateCorrection(ctx, overtimeCorrection())
	res, err := loop.LearnFromCorrection(ctx, second.ID, "acme")
	if err != nil {
		t.Fatalf("second LearnFromCorrection() error = %v", err)
	}
	if !res.RuleReinforced || res.Rule.ID != created.Rule.ID {
		t.Errorf("result = %+v, want reinforcement of %s", res, created.Rule.ID)
	}
	if math.Abs(res.Rule.Confidence-0.65) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.65", res.Rule.Confidence)
	}
}

func TestLearnFromCorrection_CeilingClamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	high := 0.99
	if _, err := s.CreateRule(ctx, models.RuleDraft{
		TenantID: "acme", Module: "attendance", Name: "sure", Condition: "c", Action: "a",
		Set: &models.Action{Field: "overtimeHours", Value: 4}, Confidence: &high,
	}); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	c, _ := loop.CreateCorrection(ctx, overtimeCorrection())
	res, err := loop.LearnFromCorrection(ctx, c.ID, "acme")
	if err != nil {
		t.Fatalf("LearnFromCorrection() error = %v", err)
	}
	if res.Rule.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", res.Rule.Confidence)
	}
}

func TestLearnFromCorrection_NoGeneralization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	draft := overtimeCorrection()
	draft.RuleExtracted = "   "
	c, _ := loop.CreateCorrection(ctx, draft)

	res, err := loop.LearnFromCorrection(ctx, c.ID, "acme")
	if err != nil {
		t.Fatalf("LearnFromCorrection() error = %v", err)
	}
	if res.RuleCreated || res.RuleReinforced || res.AlreadyApplied {
		t.Errorf("result = %+v, want no-op", res)
	}
	rules, _ := s.ListRules(ctx, "acme", "attendance")
	if len(rules) != 0 {
		t.Errorf("ListRules() = %d, want 0", len(rules))
	}
	got, _ := s.GetCorrection(ctx, "acme", c.ID)
	if got.Applied {
		t.Error("correction without generalization marked applied")
	}
}

func TestLearnFromCorrection_Twice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	c, _ := loop.CreateCorrection(ctx, overtimeCorrection())
	if _, err := loop.LearnFromCorrection(ctx, c.ID, "acme"); err != nil {
		t.Fatalf("first LearnFromCorrection() error = %v", err)
	}
	res, err := loop.LearnFromCorrection(ctx, c.ID, "acme")
	if err != nil {
		t.Fatalf("second LearnFromCorrection() error = %v", err)
	}
	if !res.AlreadyApplied || res.RuleCreated || res.RuleReinforced {
		t.Errorf("second result = %+v, want AlreadyApplied", res)
	}

	rules, _ := s.ListRules(ctx, "acme", "attendance")
	if len(rules) != 1 {
		t.Errorf("ListRules() = %d rules, want 1", len(rules))
	}
	if rules[0].Confidence != models.DefaultLearnedConfidence {
		t.Errorf("second learn changed confidence to %v", rules[0].Confidence)
	}
}

func TestLearnFromCorrection_ConcurrentCallsCreateOneRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	c, _ := loop.CreateCorrection(ctx, overtimeCorrection())

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := loop.LearnFromCorrection(ctx, c.ID, "acme")
			if err != nil {
				t.Errorf("LearnFromCorrection() error = %v", err)
				return
			}
			if res.RuleCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("RuleCreated reported %d times, want 1", created)
	}
	rules, _ := s.ListRules(ctx, "acme", "attendance")
	if len(rules) != 1 {
		t.Errorf("ListRules() = %d rules, want 1", len(rules))
	}
}

func TestLearnFromCorrection_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loop := NewLearningLoop(s, nil)

	if _, err := loop.LearnFromCorrection(ctx, "missing", "acme"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	c, _ := loop.CreateCorrection(ctx, overtimeCorrection())
	if _, err := loop.LearnFromCorrection(ctx, c.ID, "globex"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("cross-tenant error = %v, want ErrNotFound", err)
	}
}

func TestCreateCorrection_Validation(t *testing.T) {
	s := newTestStore(t)
	loop := NewLearningLoop(s, nil)

	draft := overtimeCorrection()
	draft.FieldPath = ";;"
	if _, err := loop.CreateCorrection(context.Background(), draft); !errors.Is(err, models.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}
