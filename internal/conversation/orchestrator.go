// Package conversation runs chat sessions: it stores messages in order,
// drives the extraction oracle and executes the tools it asks for.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/learning"
	"github.com/nvandessel/ruleloop/internal/llm"
	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/ranking"
	"github.com/nvandessel/ruleloop/internal/tokens"
)

// Store is the slice of the rule store the orchestrator needs.
type Store interface {
	CreateConversation(ctx context.Context, conv models.Conversation) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)

	CreateRule(ctx context.Context, draft models.RuleDraft) (*models.Rule, error)
	ListActive(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	ListRules(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	ListCorrections(ctx context.Context, tenantID, module string, limit int) ([]models.Correction, error)
	ListApplications(ctx context.Context, tenantID, module string, limit int) ([]models.RuleApplication, error)
}

// Previewer dry-runs the rule engine for suggest_fix.
type Previewer interface {
	Preview(ctx context.Context, req activation.ApplyRequest) (*activation.ApplyResult, error)
}

// Config holds orchestrator settings.
type Config struct {
	// Timeout bounds each oracle call (default: 30s)
	Timeout time.Duration

	// PreambleRules is how many top-ranked active rules the preamble lists (default: 5)
	PreambleRules int

	// HistoryTokens caps the estimated size of the history sent to the
	// oracle; older turns are dropped first (default: 6000, <0 disables)
	HistoryTokens int

	// AutoLearn passes every extracted correction to the learning loop at once
	AutoLearn bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		PreambleRules: llm.DefaultPreambleRules,
		HistoryTokens: defaultHistoryTokens,
	}
}

const defaultHistoryTokens = 6000

// Orchestrator serializes turns per conversation. Different conversations
// proceed concurrently; no lock is shared between them.
type Orchestrator struct {
	store   Store
	oracle  llm.Oracle
	learner learning.LearningLoop
	engine  Previewer
	cfg     Config
	logger  *slog.Logger
	locks   *keyedMutex
}

// New creates an Orchestrator. If cfg is nil, DefaultConfig is used.
func New(s Store, oracle llm.Oracle, learner learning.LearningLoop, engine Previewer, cfg *Config) *Orchestrator {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
		if c.Timeout <= 0 {
			c.Timeout = 30 * time.Second
		}
		if c.PreambleRules <= 0 {
			c.PreambleRules = llm.DefaultPreambleRules
		}
		if c.HistoryTokens == 0 {
			c.HistoryTokens = defaultHistoryTokens
		}
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if oracle == nil {
		oracle = llm.Disabled{}
	}
	return &Orchestrator{
		store:   s,
		oracle:  oracle,
		learner: learner,
		engine:  engine,
		cfg:     c,
		logger:  logger,
		locks:   newKeyedMutex(),
	}
}

// OpenRequest starts a conversation about an optional record.
type OpenRequest struct {
	TenantID    string                 `json:"tenant_id"`
	Module      string                 `json:"module"`
	ContextID   string                 `json:"context_id,omitempty"`
	ContextData map[string]interface{} `json:"context_data,omitempty"`
}

// SendRequest appends to ConversationID, opening a conversation first when it is empty.
type SendRequest struct {
	OpenRequest
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

// Reply is the outcome of one user turn.
type Reply struct {
	ConversationID string                   `json:"conversation_id"`
	Text           string                   `json:"text"`
	ToolName       string                   `json:"tool_name,omitempty"`
	CorrectionID   string                   `json:"correction_id,omitempty"`
	RuleID         string                   `json:"rule_id,omitempty"`
	Learning       *learning.LearningResult `json:"learning,omitempty"`
}

// Open creates a conversation and returns its id.
func (o *Orchestrator) Open(ctx context.Context, req OpenRequest) (string, error) {
	conv, err := o.store.CreateConversation(ctx, models.Conversation{
		TenantID:    strings.TrimSpace(req.TenantID),
		Module:      strings.TrimSpace(req.Module),
		ContextID:   req.ContextID,
		ContextData: req.ContextData,
	})
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// Send opens a conversation if needed, then appends the user's text.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (*Reply, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: message text is required", models.ErrValidation)
	}
	id := req.ConversationID
	if id == "" {
		var err error
		if id, err = o.Open(ctx, req.OpenRequest); err != nil {
			return nil, err
		}
	}
	return o.Append(ctx, id, req.Text)
}

// History returns a conversation's messages in order.
func (o *Orchestrator) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := o.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return o.store.ListMessages(ctx, conversationID)
}

// Append runs one user turn. The user message is stored before the oracle
// is called, so on ErrOracleTimeout or ErrOracleUnavailable the conversation
// holds the user message and no reply, and the caller may retry.
func (o *Orchestrator) Append(ctx context.Context, conversationID, userText string) (*Reply, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, fmt.Errorf("%w: message text is required", models.ErrValidation)
	}

	unlock, err := o.locks.Lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.AppendMessage(ctx, conv.ID, models.RoleUser, userText); err != nil {
		return nil, fmt.Errorf("storing user message: %w", err)
	}

	req, err := o.buildRequest(ctx, conv)
	if err != nil {
		return nil, err
	}
	proposal, err := o.propose(ctx, req)
	if err != nil {
		return nil, err
	}

	reply := &Reply{ConversationID: conv.ID, Text: proposal.Text}
	if call := proposal.ToolCall; call != nil {
		result, err := o.executeTool(ctx, conv, *call, reply)
		if errors.Is(err, llm.ErrMalformedToolArguments) {
			o.logger.Warn("discarding malformed tool call",
				"conversation_id", conv.ID, "tool", call.Name, "error", err)
			o.cfg.Metrics.OracleCall("malformed", 0)
		} else {
			if _, err := o.store.AppendMessage(ctx, conv.ID, models.RoleTool, toolTranscript(call.Name, result)); err != nil {
				return nil, fmt.Errorf("storing tool result: %w", err)
			}
			req.ToolCall = call
			req.ToolResult = &llm.ToolResult{ToolCallID: call.ID, Content: result}
			final, err := o.propose(ctx, req)
			if err != nil {
				return nil, err
			}
			reply.Text = final.Text
		}
	}

	if strings.TrimSpace(reply.Text) == "" {
		reply.Text = fallbackText(reply)
	}
	if _, err := o.store.AppendMessage(ctx, conv.ID, models.RoleAssistant, reply.Text); err != nil {
		return nil, fmt.Errorf("storing assistant message: %w", err)
	}
	return reply, nil
}

func (o *Orchestrator) buildRequest(ctx context.Context, conv *models.Conversation) (llm.ProposeRequest, error) {
	history, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return llm.ProposeRequest{}, fmt.Errorf("loading history: %w", err)
	}
	active, err := o.store.ListActive(ctx, conv.TenantID, conv.Module)
	if err != nil {
		return llm.ProposeRequest{}, fmt.Errorf("loading active rules: %w", err)
	}

	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		// Tool transcripts are for auditing; the oracle only sees chat turns.
		if m.Role == models.RoleTool {
			continue
		}
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if o.cfg.HistoryTokens > 0 {
		texts := make([]string, len(messages))
		for i, m := range messages {
			texts[i] = m.Content
		}
		messages = messages[tokens.NewestWithin(texts, o.cfg.HistoryTokens):]
	}

	return llm.ProposeRequest{
		SystemPreamble: llm.BuildPreamble(llm.PreambleInput{
			Module:      conv.Module,
			ContextID:   conv.ContextID,
			ContextData: conv.ContextData,
			Rules:       ranking.Top(active, o.cfg.PreambleRules),
		}),
		Messages: messages,
		Tools:    llm.Tools(),
	}, nil
}

// propose calls the oracle under the configured timeout and maps failures
// onto ErrOracleTimeout and ErrOracleUnavailable.
func (o *Orchestrator) propose(ctx context.Context, req llm.ProposeRequest) (*llm.Proposal, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	p, err := o.oracle.Propose(callCtx, req)
	elapsed := time.Since(start)

	switch {
	case err == nil && p != nil:
		o.cfg.Metrics.OracleCall("ok", elapsed)
		return p, nil
	case err == nil:
		err = fmt.Errorf("%w: empty proposal", llm.ErrOracleUnavailable)
	case llm.IsTimeout(callCtx, err):
		if !errors.Is(err, llm.ErrOracleTimeout) {
			err = fmt.Errorf("%w: %v", llm.ErrOracleTimeout, err)
		}
		o.cfg.Metrics.OracleCall("timeout", elapsed)
		o.logger.Warn("oracle timed out", "timeout", o.cfg.Timeout, "error", err)
		return nil, err
	case !errors.Is(err, llm.ErrOracleUnavailable):
		err = fmt.Errorf("%w: %v", llm.ErrOracleUnavailable, err)
	}
	o.cfg.Metrics.OracleCall("unavailable", elapsed)
	o.logger.Warn("oracle unavailable", "error", err)
	return nil, err
}

func toolTranscript(name string, result json.RawMessage) string {
	return name + ": " + string(result)
}

func fallbackText(r *Reply) string {
	switch {
	case r.RuleID != "" && r.Learning != nil && r.Learning.RuleReinforced:
		return "Thanks, that confirms an existing rule."
	case r.RuleID != "":
		return "Rule saved."
	case r.CorrectionID != "":
		return "Correction recorded."
	case r.ToolName != "":
		return "Done."
	default:
		return "Sorry, I could not process that. Could you rephrase?"
	}
}
