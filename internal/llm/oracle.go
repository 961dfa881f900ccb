// Package llm defines the extraction oracle: the narrow interface the
// conversation orchestrator uses to turn chat text into tool calls, plus an
// OpenAI-compatible implementation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrOracleTimeout is returned when the oracle does not answer in time.
	// The conversation stays consistent and the request is safe to retry.
	ErrOracleTimeout = errors.New("extraction oracle timed out")

	// ErrOracleUnavailable is returned for any other oracle failure.
	ErrOracleUnavailable = errors.New("extraction oracle unavailable")

	// ErrMalformedToolArguments is returned when tool call arguments do not
	// decode. It is recovered locally and never shown to end users.
	ErrMalformedToolArguments = errors.New("malformed tool arguments")
)

// Message is one prior turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a tool invocation requested by the oracle. Arguments is the raw
// JSON the oracle produced and may be malformed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the local outcome of a ToolCall, sent back on the second round trip.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Content    json.RawMessage `json:"content"`
}

// ProposeRequest is one oracle round trip. ToolCall and ToolResult are set
// together on the follow-up call after a tool was executed.
type ProposeRequest struct {
	SystemPreamble string
	Messages       []Message
	Tools          []ToolSpec
	ToolCall       *ToolCall
	ToolResult     *ToolResult
}

// Proposal is the oracle's answer: plain text, optionally with a tool call.
type Proposal struct {
	Text     string    `json:"text"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Oracle proposes the next assistant turn.
type Oracle interface {
	Propose(ctx context.Context, req ProposeRequest) (*Proposal, error)
}

// Disabled is the oracle used when no provider is configured.
type Disabled struct{}

// Propose always fails with ErrOracleUnavailable.
func (Disabled) Propose(context.Context, ProposeRequest) (*Proposal, error) {
	return nil, ErrOracleUnavailable
}
