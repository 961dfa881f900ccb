package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/learning"
	"github.com/nvandessel/ruleloop/internal/llm"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/sanitize"
)

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 100
)

// executeTool runs one oracle tool call in the scope of conv and returns the
// JSON result for the follow-up oracle call. Unknown tools and undecodable
// arguments return llm.ErrMalformedToolArguments and have no side effects.
// Any other failure is reported to the oracle inside the result.
func (o *Orchestrator) executeTool(ctx context.Context, conv *models.Conversation, call llm.ToolCall, reply *Reply) (json.RawMessage, error) {
	if !llm.KnownTool(call.Name) {
		return nil, fmt.Errorf("%w: unknown tool %q", llm.ErrMalformedToolArguments, call.Name)
	}

	var (
		result interface{}
		err    error
	)
	switch call.Name {
	case llm.ToolExtractCorrection:
		var args llm.ExtractCorrectionArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return nil, err
		}
		result, err = o.extractCorrection(ctx, conv, args, reply)
	case llm.ToolCreateRule:
		var args llm.CreateRuleArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return nil, err
		}
		result, err = o.createRule(ctx, conv, args, reply)
	case llm.ToolQueryData:
		var args llm.QueryDataArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return nil, err
		}
		result, err = o.queryData(ctx, conv, args)
	case llm.ToolSuggestFix:
		var args llm.SuggestFixArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return nil, err
		}
		result, err = o.suggestFix(ctx, conv, args)
	}
	reply.ToolName = call.Name

	if err != nil {
		o.logger.Warn("tool failed", "conversation_id", conv.ID, "tool", call.Name, "error", err)
		result = map[string]string{"error": err.Error()}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", call.Name, err)
	}
	return data, nil
}

type correctionResult struct {
	Correction *models.Correction       `json:"correction"`
	Learning   *learning.LearningResult `json:"learning,omitempty"`
}

func (o *Orchestrator) extractCorrection(ctx context.Context, conv *models.Conversation, args llm.ExtractCorrectionArgs, reply *Reply) (interface{}, error) {
	entityID := args.EntityID
	if entityID == "" {
		entityID = conv.ContextID
	}
	c, err := o.learner.CreateCorrection(ctx, models.CorrectionDraft{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Module:         conv.Module,
		EntityType:     args.EntityType,
		EntityID:       entityID,
		FieldPath:      args.FieldPath,
		OriginalValue:  args.OriginalValue,
		CorrectedValue: args.CorrectedValue,
		RuleExtracted:  args.RuleExtracted,
	})
	if err != nil {
		return nil, err
	}
	reply.CorrectionID = c.ID
	o.logger.Info("correction extracted",
		"conversation_id", conv.ID, "correction_id", c.ID, "field_path", c.FieldPath)

	out := correctionResult{Correction: c}
	if !o.cfg.AutoLearn {
		return out, nil
	}
	res, err := o.learner.LearnFromCorrection(ctx, c.ID, conv.TenantID)
	if err != nil {
		// The correction is stored; learning can be retried explicitly.
		return nil, fmt.Errorf("learning from correction %s: %w", c.ID, err)
	}
	reply.Learning = res
	if res.Rule != nil {
		reply.RuleID = res.Rule.ID
	}
	out.Learning = res
	return out, nil
}

func (o *Orchestrator) createRule(ctx context.Context, conv *models.Conversation, args llm.CreateRuleArgs, reply *Reply) (interface{}, error) {
	draft := models.RuleDraft{
		TenantID:             conv.TenantID,
		Module:               conv.Module,
		Name:                 sanitize.SanitizeRuleName(args.Name),
		Condition:            sanitize.SanitizeRuleText(args.Condition),
		When:                 args.When,
		Action:               sanitize.SanitizeRuleText(args.Action),
		Set:                  args.Set,
		Priority:             args.Priority,
		Source:               models.SourceExplicit,
		SourceConversationID: conv.ID,
	}
	if draft.When != nil {
		draft.When.Field = sanitize.SanitizeFieldPath(draft.When.Field)
	}
	if draft.Set != nil {
		draft.Set.Field = sanitize.SanitizeFieldPath(draft.Set.Field)
	}
	rule, err := o.store.CreateRule(ctx, draft)
	if err != nil {
		return nil, err
	}
	reply.RuleID = rule.ID
	o.logger.Info("rule created from conversation", "conversation_id", conv.ID, "rule_id", rule.ID, "name", rule.Name)
	return rule, nil
}

func (o *Orchestrator) queryData(ctx context.Context, conv *models.Conversation, args llm.QueryDataArgs) (interface{}, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	switch args.Kind {
	case llm.QueryRules:
		rules, err := o.store.ListRules(ctx, conv.TenantID, conv.Module)
		if err != nil {
			return nil, err
		}
		if len(rules) > limit {
			rules = rules[:limit]
		}
		return rules, nil
	case llm.QueryCorrections:
		return o.store.ListCorrections(ctx, conv.TenantID, conv.Module, limit)
	default:
		return o.store.ListApplications(ctx, conv.TenantID, conv.Module, limit)
	}
}

func (o *Orchestrator) suggestFix(ctx context.Context, conv *models.Conversation, args llm.SuggestFixArgs) (interface{}, error) {
	if o.engine == nil {
		return nil, fmt.Errorf("rule engine not configured")
	}
	entityType := args.EntityType
	if entityType == "" {
		entityType = conv.Module
	}
	return o.engine.Preview(ctx, activation.ApplyRequest{
		TenantID:   conv.TenantID,
		Module:     conv.Module,
		EntityType: entityType,
		EntityID:   conv.ContextID,
		Data:       args.Record,
	})
}
