package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/nvandessel/ruleloop/internal/models"
)

const floatEpsilon = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatEpsilon
}

func TestReinforce(t *testing.T) {
	cfg := DefaultReinforcementConfig()

	tests := []struct {
		name    string
		current float64
		want    float64
	}{
		{"default explicit", 0.5, 0.55},
		{"learned", 0.6, 0.65},
		{"near ceiling", 0.98, 1.0},
		{"at ceiling", 1.0, 1.0},
		{"below floor", -0.2, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.Reinforce(tt.current); !floatEquals(got, tt.want) {
				t.Errorf("Reinforce(%v) = %v, want %v", tt.current, got, tt.want)
			}
		})
	}
}

func TestReinforce_RepeatedNeverExceedsCeiling(t *testing.T) {
	cfg := DefaultReinforcementConfig()
	conf := 0.5
	for i := 0; i < 50; i++ {
		conf = cfg.Reinforce(conf)
		if conf > cfg.Ceiling {
			t.Fatalf("iteration %d: confidence %v exceeds ceiling", i, conf)
		}
	}
	if conf != cfg.Ceiling {
		t.Errorf("confidence = %v, want %v after many boosts", conf, cfg.Ceiling)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConfidenceReinforcementConfig
		wantErr bool
	}{
		{"default", DefaultReinforcementConfig(), false},
		{"ceiling above one", ConfidenceReinforcementConfig{BoostAmount: 0.05, Ceiling: 1.5}, true},
		{"inverted", ConfidenceReinforcementConfig{BoostAmount: 0.05, Floor: 0.8, Ceiling: 0.5}, true},
		{"negative boost", ConfidenceReinforcementConfig{BoostAmount: -1, Ceiling: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSuccessRate(t *testing.T) {
	if got := SuccessRate(0, 0); got != 0 {
		t.Errorf("SuccessRate(0, 0) = %v, want 0", got)
	}
	if got := SuccessRate(4, 3); !floatEquals(got, 0.75) {
		t.Errorf("SuccessRate(4, 3) = %v, want 0.75", got)
	}
}

func TestSortRules(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	used := func(d time.Duration) *time.Time {
		ts := base.Add(d)
		return &ts
	}

	rules := []models.Rule{
		{ID: "never-used", Priority: 5, Confidence: 0.5, CreatedAt: base.Add(time.Hour)},
		{ID: "low-priority", Priority: 0, Confidence: 1.0, CreatedAt: base},
		{ID: "used-early", Priority: 5, Confidence: 0.5, LastUsedAt: used(time.Minute), CreatedAt: base},
		{ID: "used-late", Priority: 5, Confidence: 0.5, LastUsedAt: used(time.Hour), CreatedAt: base},
		{ID: "confident", Priority: 5, Confidence: 0.9, CreatedAt: base},
		{ID: "top", Priority: 10, Confidence: 0.1, CreatedAt: base},
		{ID: "b-tie", Priority: 0, Confidence: 0.2, CreatedAt: base},
		{ID: "a-tie", Priority: 0, Confidence: 0.2, CreatedAt: base},
	}
	SortRules(rules)

	want := []string{"top", "confident", "used-late", "used-early", "never-used", "low-priority", "a-tie", "b-tie"}
	for i, id := range want {
		if rules[i].ID != id {
			t.Errorf("rules[%d] = %s, want %s", i, rules[i].ID, id)
		}
	}
}

func TestTop(t *testing.T) {
	rules := []models.Rule{
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 3},
		{ID: "c", Priority: 2},
	}
	top := Top(rules, 2)
	if len(top) != 2 || top[0].ID != "b" || top[1].ID != "c" {
		t.Errorf("Top(2) = %+v", top)
	}
	if rules[0].ID != "a" {
		t.Error("Top() reordered its input")
	}
	if got := Top(rules, 10); len(got) != 3 {
		t.Errorf("Top(10) returned %d rules, want 3", len(got))
	}
}
