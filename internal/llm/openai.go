package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible chat completions oracle.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points at a compatible gateway; empty uses the OpenAI API
	BaseURL string

	// Model defaults to gpt-4o-mini
	Model string

	// Timeout bounds each Propose call (default: 30s)
	Timeout time.Duration
}

// OpenAIOracle implements Oracle with function-calling chat completions.
type OpenAIOracle struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIOracle creates an oracle from cfg.
func NewOpenAIOracle(cfg OpenAIConfig) *OpenAIOracle {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIOracle{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Propose implements Oracle.
func (o *OpenAIOracle) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	apiReq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: chatMessages(req),
	}
	// The follow-up call only needs the reply text.
	if req.ToolResult == nil {
		for _, spec := range req.Tools {
			apiReq.Tools = append(apiReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        spec.Name,
					Description: spec.Description,
					Parameters:  spec.Parameters,
				},
			})
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrOracleUnavailable)
	}

	msg := resp.Choices[0].Message
	p := &Proposal{Text: msg.Content}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		p.ToolCall = &ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}
	return p, nil
}

func chatMessages(req ProposeRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+3)
	if req.SystemPreamble != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPreamble,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if req.ToolCall != nil && req.ToolResult != nil {
		messages = append(messages,
			openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   req.ToolCall.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      req.ToolCall.Name,
						Arguments: req.ToolCall.Arguments,
					},
				}},
			},
			openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(req.ToolResult.Content),
				ToolCallID: req.ToolResult.ToolCallID,
			})
	}
	return messages
}

// classify maps transport errors onto the oracle error taxonomy.
func classify(ctx context.Context, err error) error {
	if IsTimeout(ctx, err) {
		return fmt.Errorf("%w: %v", ErrOracleTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
}

// IsTimeout reports whether err (or ctx) indicates a deadline was hit.
func IsTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, ErrOracleTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
