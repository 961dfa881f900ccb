package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nvandessel/ruleloop/internal/models"
)

// CreateConversation inserts a new conversation. An empty ID is generated.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv models.Conversation) (*models.Conversation, error) {
	if strings.TrimSpace(conv.TenantID) == "" {
		return nil, fmt.Errorf("%w: conversation tenant_id is required", models.ErrValidation)
	}
	if strings.TrimSpace(conv.Module) == "" {
		return nil, fmt.Errorf("%w: conversation module is required", models.ErrValidation)
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	conv.CreatedAt = s.now()

	var contextData sql.NullString
	if conv.ContextData != nil {
		data, err := json.Marshal(conv.ContextData)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding context data: %v", models.ErrValidation, err)
		}
		contextData = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, module, context_id, context_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.TenantID, conv.Module, nullString(conv.ContextID), contextData, formatTime(conv.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation returns a conversation by id, or models.ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var (
		conv                   models.Conversation
		contextID, contextData sql.NullString
		createdAt              string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, module, context_id, context_data, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.TenantID, &conv.Module, &contextID, &contextData, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation %s: %w", id, err)
	}

	conv.ContextID = contextID.String
	if contextData.Valid {
		if conv.ContextData, err = decodeRecord(contextData.String); err != nil {
			return nil, fmt.Errorf("decoding context data: %w", err)
		}
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &conv, nil
}

// AppendMessage adds a message at the next sequence number of the conversation.
// The sequence is assigned in the same statement as the insert.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, seq, role, content, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?)
		RETURNING seq`,
		conversationID, conversationID, string(role), content, formatTime(msg.CreatedAt)).Scan(&msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("appending message to %s: %w", conversationID, err)
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, seq, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			m         models.Message
			role      string
			createdAt string
		)
		if err := rows.Scan(&m.ConversationID, &m.Seq, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = models.Role(role)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
