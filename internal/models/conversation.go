package models

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Conversation is an append-only chat session scoped to one tenant and module.
type Conversation struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Module   string `json:"module" yaml:"module"`

	// Optional record the administrator is looking at while chatting
	ContextID   string                 `json:"context_id,omitempty" yaml:"context_id,omitempty"`
	ContextData map[string]interface{} `json:"context_data,omitempty" yaml:"context_data,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Message is a single immutable entry in a conversation.
type Message struct {
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	Seq            int64     `json:"seq" yaml:"seq"`
	Role           Role      `json:"role" yaml:"role"`
	Content        string    `json:"content" yaml:"content"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}
