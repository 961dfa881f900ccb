package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/conversation"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/sanitize"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "rules_apply",
		Description: "Apply a tenant's active rules for a module to a record and return the changes. Set dry_run to preview without recording.",
	}, s.handleRulesApply)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "rules_list",
		Description: "List the rules of a tenant and module in application order.",
	}, s.handleRulesList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "rules_create",
		Description: "Create a rule. Give when/set for a rule the engine can apply automatically.",
	}, s.handleRulesCreate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chat_send",
		Description: "Send a message to a rules conversation, opening one when conversation_id is empty.",
	}, s.handleChatSend)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "correction_learn",
		Description: "Learn from a stored correction: reinforce the matching rule or create a new one.",
	}, s.handleCorrectionLearn)
}

// RulesApplyInput is the input of rules_apply.
type RulesApplyInput struct {
	TenantID   string                 `json:"tenant_id" jsonschema:"Tenant the record belongs to"`
	Module     string                 `json:"module" jsonschema:"Business module, e.g. attendance"`
	EntityType string                 `json:"entity_type,omitempty" jsonschema:"Record type"`
	EntityID   string                 `json:"entity_id,omitempty" jsonschema:"Record id"`
	Data       map[string]interface{} `json:"data" jsonschema:"The record"`
	DryRun     bool                   `json:"dry_run,omitempty" jsonschema:"Preview only; nothing is recorded"`
}

// RulesApplyOutput is the output of rules_apply.
type RulesApplyOutput struct {
	Modified     bool                   `json:"modified"`
	Changes      []ChangeOutput         `json:"changes"`
	AppliedRules []string               `json:"applied_rules"`
	Skipped      []SkippedOutput        `json:"skipped,omitempty"`
	Data         map[string]interface{} `json:"data"`
}

// ChangeOutput is one field mutation.
type ChangeOutput struct {
	Field string      `json:"field"`
	From  interface{} `json:"from"`
	To    interface{} `json:"to"`
	Rule  string      `json:"rule"`
}

// SkippedOutput is a rule that failed to evaluate.
type SkippedOutput struct {
	RuleID string `json:"rule_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func (s *Server) handleRulesApply(ctx context.Context, _ *mcp.CallToolRequest, in RulesApplyInput) (*mcp.CallToolResult, RulesApplyOutput, error) {
	req := activation.ApplyRequest{
		TenantID:   in.TenantID,
		Module:     in.Module,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Data:       in.Data,
	}
	run := s.engine.Apply
	if in.DryRun {
		run = s.engine.Preview
	}
	res, err := run(ctx, req)
	if err != nil {
		return nil, RulesApplyOutput{}, err
	}

	out := RulesApplyOutput{
		Modified:     res.Modified,
		Changes:      make([]ChangeOutput, 0, len(res.Changes)),
		AppliedRules: res.AppliedRules,
		Data:         res.Data,
	}
	for _, c := range res.Changes {
		out.Changes = append(out.Changes, ChangeOutput(c))
	}
	for _, sk := range res.Skipped {
		out.Skipped = append(out.Skipped, SkippedOutput(sk))
	}
	return nil, out, nil
}

// RulesListInput is the input of rules_list.
type RulesListInput struct {
	TenantID   string `json:"tenant_id" jsonschema:"Tenant"`
	Module     string `json:"module" jsonschema:"Business module"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Only list active rules"`
}

// RuleSummary is a rule as reported to MCP clients.
type RuleSummary struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Condition    string  `json:"condition"`
	Action       string  `json:"action"`
	Structured   bool    `json:"structured"`
	Priority     int     `json:"priority"`
	Confidence   float64 `json:"confidence"`
	UsageCount   int     `json:"usage_count"`
	SuccessCount int     `json:"success_count"`
	IsActive     bool    `json:"is_active"`
}

// RulesListOutput is the output of rules_list.
type RulesListOutput struct {
	Rules []RuleSummary `json:"rules"`
	Count int           `json:"count"`
}

func summarize(r models.Rule) RuleSummary {
	return RuleSummary{
		ID:           r.ID,
		Name:         r.Name,
		Condition:    r.Condition,
		Action:       r.Action,
		Structured:   r.ConditionJSON != "" && r.ActionJSON != "",
		Priority:     r.Priority,
		Confidence:   r.Confidence,
		UsageCount:   r.UsageCount,
		SuccessCount: r.SuccessCount,
		IsActive:     r.IsActive,
	}
}

func (s *Server) handleRulesList(ctx context.Context, _ *mcp.CallToolRequest, in RulesListInput) (*mcp.CallToolResult, RulesListOutput, error) {
	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.Module) == "" {
		return nil, RulesListOutput{}, fmt.Errorf("%w: tenant_id and module are required", models.ErrValidation)
	}
	list := s.store.ListRules
	if in.ActiveOnly {
		list = s.store.ListActive
	}
	rules, err := list(ctx, in.TenantID, in.Module)
	if err != nil {
		return nil, RulesListOutput{}, err
	}
	out := RulesListOutput{Rules: make([]RuleSummary, 0, len(rules)), Count: len(rules)}
	for _, r := range rules {
		out.Rules = append(out.Rules, summarize(r))
	}
	return nil, out, nil
}

// RulesCreateInput is the input of rules_create.
type RulesCreateInput struct {
	TenantID  string            `json:"tenant_id" jsonschema:"Tenant"`
	Module    string            `json:"module" jsonschema:"Business module"`
	Name      string            `json:"name" jsonschema:"Rule name"`
	Condition string            `json:"condition" jsonschema:"When the rule applies, in plain language"`
	Action    string            `json:"action" jsonschema:"What the rule does, in plain language"`
	When      *models.Condition `json:"when,omitempty" jsonschema:"Structured condition: field, operator, value"`
	Set       *models.Action    `json:"set,omitempty" jsonschema:"Structured action: field, value"`
	Priority  int               `json:"priority,omitempty" jsonschema:"Higher runs first"`
}

func (s *Server) handleRulesCreate(ctx context.Context, _ *mcp.CallToolRequest, in RulesCreateInput) (*mcp.CallToolResult, RuleSummary, error) {
	rule, err := s.store.CreateRule(ctx, models.RuleDraft{
		TenantID:  in.TenantID,
		Module:    in.Module,
		Name:      sanitize.SanitizeRuleName(in.Name),
		Condition: sanitize.SanitizeRuleText(in.Condition),
		Action:    sanitize.SanitizeRuleText(in.Action),
		When:      in.When,
		Set:       in.Set,
		Priority:  in.Priority,
		Source:    models.SourceExplicit,
	})
	if err != nil {
		return nil, RuleSummary{}, err
	}
	s.logger.Info("rule created via mcp", "rule_id", rule.ID, "tenant", rule.TenantID, "module", rule.Module)
	return nil, summarize(*rule), nil
}

// ChatSendInput is the input of chat_send.
type ChatSendInput struct {
	TenantID       string                 `json:"tenant_id,omitempty" jsonschema:"Tenant; required when opening a conversation"`
	Module         string                 `json:"module,omitempty" jsonschema:"Business module; required when opening a conversation"`
	ConversationID string                 `json:"conversation_id,omitempty" jsonschema:"Existing conversation; empty opens a new one"`
	ContextID      string                 `json:"context_id,omitempty" jsonschema:"Id of the record under discussion"`
	ContextData    map[string]interface{} `json:"context_data,omitempty" jsonschema:"The record under discussion"`
	Text           string                 `json:"text" jsonschema:"The user's message"`
}

// ChatSendOutput is the output of chat_send.
type ChatSendOutput struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	ToolName       string `json:"tool_name,omitempty"`
	CorrectionID   string `json:"correction_id,omitempty"`
	RuleID         string `json:"rule_id,omitempty"`
	RuleCreated    bool   `json:"rule_created,omitempty"`
	RuleReinforced bool   `json:"rule_reinforced,omitempty"`
}

func (s *Server) handleChatSend(ctx context.Context, _ *mcp.CallToolRequest, in ChatSendInput) (*mcp.CallToolResult, ChatSendOutput, error) {
	reply, err := s.chat.Send(ctx, conversation.SendRequest{
		OpenRequest: conversation.OpenRequest{
			TenantID:    in.TenantID,
			Module:      in.Module,
			ContextID:   in.ContextID,
			ContextData: in.ContextData,
		},
		ConversationID: in.ConversationID,
		Text:           in.Text,
	})
	if err != nil {
		return nil, ChatSendOutput{}, err
	}
	out := ChatSendOutput{
		ConversationID: reply.ConversationID,
		Text:           reply.Text,
		ToolName:       reply.ToolName,
		CorrectionID:   reply.CorrectionID,
		RuleID:         reply.RuleID,
	}
	if reply.Learning != nil {
		out.RuleCreated = reply.Learning.RuleCreated
		out.RuleReinforced = reply.Learning.RuleReinforced
	}
	return nil, out, nil
}

// CorrectionLearnInput is the input of correction_learn.
type CorrectionLearnInput struct {
	TenantID     string `json:"tenant_id" jsonschema:"Tenant owning the correction"`
	CorrectionID string `json:"correction_id" jsonschema:"Correction to learn from"`
}

// CorrectionLearnOutput is the output of correction_learn.
type CorrectionLearnOutput struct {
	RuleCreated    bool         `json:"rule_created"`
	RuleReinforced bool         `json:"rule_reinforced"`
	AlreadyApplied bool         `json:"already_applied"`
	Rule           *RuleSummary `json:"rule,omitempty"`
}

func (s *Server) handleCorrectionLearn(ctx context.Context, _ *mcp.CallToolRequest, in CorrectionLearnInput) (*mcp.CallToolResult, CorrectionLearnOutput, error) {
	res, err := s.learner.LearnFromCorrection(ctx, in.CorrectionID, in.TenantID)
	if err != nil {
		return nil, CorrectionLearnOutput{}, err
	}
	out := CorrectionLearnOutput{
		RuleCreated:    res.RuleCreated,
		RuleReinforced: res.RuleReinforced,
		AlreadyApplied: res.AlreadyApplied,
	}
	if res.Rule != nil {
		sum := summarize(*res.Rule)
		out.Rule = &sum
	}
	return nil, out, nil
}
