package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/conversation"
	"github.com/nvandessel/ruleloop/internal/learning"
	"github.com/nvandessel/ruleloop/internal/llm"
	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/store"
)

type oracleFunc func(ctx context.Context, req llm.ProposeRequest) (*llm.Proposal, error)

func (f oracleFunc) Propose(ctx context.Context, req llm.ProposeRequest) (*llm.Proposal, error) {
	return f(ctx, req)
}

type testEnv struct {
	store   *store.SQLiteStore
	handler http.Handler
}

func setup(t *testing.T, oracle llm.Oracle) testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), store.DatabaseFile))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	engine := activation.NewEngine(s, activation.WithMetrics(m))
	learner := learning.NewLearningLoop(s, nil)
	chat := conversation.New(s, oracle, learner, engine, nil)
	srv := New(Config{}, Deps{Store: s, Engine: engine, Learner: learner, Chat: chat, Metrics: m})
	return testEnv{store: s, handler: srv.Handler()}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

const saturdayRule = `{
	"name": "saturday overtime",
	"condition": "day is Saturday",
	"when": {"field": "dayOfWeek", "operator": "equals", "value": "Saturday"},
	"action": "overtime is 4 hours",
	"set": {"field": "overtimeHours", "value": 4},
	"priority": 10
}`

func TestHealthz(t *testing.T) {
	env := setup(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("GET /healthz = %d %s", rec.Code, rec.Body)
	}
}

func TestRulesAndApply(t *testing.T) {
	env := setup(t, nil)
	base := "/api/tenants/acme/modules/attendance"

	rec := env.do(t, http.MethodPost, base+"/rules", saturdayRule)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST rules = %d %s", rec.Code, rec.Body)
	}
	var rule models.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatal(err)
	}
	if rule.TenantID != "acme" || rule.Name != "saturday-overtime" || rule.Confidence != models.DefaultExplicitConfidence {
		t.Errorf("created rule = %+v", rule)
	}

	rec = env.do(t, http.MethodGet, base+"/rules?active=true", "")
	var rules []models.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &rules); err != nil || len(rules) != 1 {
		t.Fatalf("GET rules = %s (err %v)", rec.Body, err)
	}

	rec = env.do(t, http.MethodPost, base+"/apply",
		`{"entity_type":"attendance_record","entity_id":"att-1","data":{"dayOfWeek":"Saturday","overtimeHours":0}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST apply = %d %s", rec.Code, rec.Body)
	}
	var res activation.ApplyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Modified || res.Data["overtimeHours"] != float64(4) || len(res.AppliedRules) != 1 {
		t.Errorf("apply result = %+v", res)
	}

	got, err := env.store.GetRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1", got.UsageCount)
	}

	// Another tenant sees nothing.
	rec = env.do(t, http.MethodGet, "/api/tenants/other/modules/attendance/rules", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("other tenant rules = %s, want []", rec.Body)
	}
}

func TestErrorMapping(t *testing.T) {
	env := setup(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPost, "/api/tenants/acme/modules/m/apply", "{", http.StatusBadRequest},
		{"missing rule fields", http.MethodPost, "/api/tenants/acme/modules/m/rules", `{"name":"x"}`, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/tenants/acme/modules/m/corrections?limit=abc", "", http.StatusBadRequest},
		{"unknown correction", http.MethodPost, "/api/tenants/acme/corrections/nope/learn", "", http.StatusNotFound},
		{"unknown conversation", http.MethodPost, "/api/conversations/nope/messages", `{"text":"hi"}`, http.StatusNotFound},
		{"oracle unavailable", http.MethodPost, "/api/conversations", `{"tenant_id":"acme","module":"m","text":"hi"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", llm.ErrOracleTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("x: %w", llm.ErrOracleUnavailable), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestConversationFlow(t *testing.T) {
	args := `{"entity_type":"attendance_record","field_path":"overtimeHours","original_value":0,"corrected_value":4,"rule_extracted":"overtime on Saturdays should be 4 hours"}`
	env := setup(t, oracleFunc(func(_ context.Context, req llm.ProposeRequest) (*llm.Proposal, error) {
		if req.ToolResult != nil {
			return &llm.Proposal{Text: "Noted."}, nil
		}
		return &llm.Proposal{ToolCall: &llm.ToolCall{ID: "1", Name: llm.ToolExtractCorrection, Arguments: args}}, nil
	}))

	rec := env.do(t, http.MethodPost, "/api/conversations",
		`{"tenant_id":"acme","module":"attendance","context_id":"att-7"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST conversations = %d %s", rec.Code, rec.Body)
	}
	var opened map[string]string
	json.Unmarshal(rec.Body.Bytes(), &opened)
	id := opened["conversation_id"]

	rec = env.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"text":"that should be 4 hours"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST messages = %d %s", rec.Code, rec.Body)
	}
	var reply conversation.Reply
	json.Unmarshal(rec.Body.Bytes(), &reply)
	if reply.CorrectionID == "" || reply.Text != "Noted." {
		t.Fatalf("reply = %+v", reply)
	}

	rec = env.do(t, http.MethodPost, "/api/tenants/acme/corrections/"+reply.CorrectionID+"/learn", "")
	var learned learning.LearningResult
	json.Unmarshal(rec.Body.Bytes(), &learned)
	if rec.Code != http.StatusOK || !learned.RuleCreated {
		t.Fatalf("learn = %d %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/api/tenants/acme/corrections/"+reply.CorrectionID+"/learn", "")
	json.Unmarshal(rec.Body.Bytes(), &learned)
	if rec.Code != http.StatusOK || !learned.AlreadyApplied {
		t.Errorf("second learn = %d %s, want already_applied", rec.Code, rec.Body)
	}

	// Cross-tenant learn is not found.
	rec = env.do(t, http.MethodPost, "/api/tenants/other/corrections/"+reply.CorrectionID+"/learn", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant learn = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations/"+id+"/messages", "")
	var msgs []models.Message
	json.Unmarshal(rec.Body.Bytes(), &msgs)
	if len(msgs) != 3 {
		t.Errorf("history has %d messages, want 3", len(msgs))
	}

	rec = env.do(t, http.MethodGet, "/api/tenants/acme/modules/attendance/corrections", "")
	var corrections []models.Correction
	json.Unmarshal(rec.Body.Bytes(), &corrections)
	if len(corrections) != 1 || !corrections[0].Applied {
		t.Errorf("corrections = %s", rec.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setup(t, nil)
	env.do(t, http.MethodPost, "/api/tenants/acme/modules/attendance/apply", `{"entity_type":"x","entity_id":"1","data":{}}`)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ruleloop_engine_apply_duration_seconds") {
		t.Errorf("GET /metrics = %d, body missing apply histogram", rec.Code)
	}
}
