// ABOUTME: Conversation persistence: create, lookup, agent listing and close
// ABOUTME: Metadata and required skills are stored as JSON text columns

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const conversationSelect = `
	SELECT id, tenant_id, user_id, agent_id, status, title, metadata,
		required_skills, created_at, updated_at
	FROM conversations`

// CreateConversation stores a new conversation.
func (c conn) CreateConversation(ctx context.Context, conv *Conversation) error {
	if !conv.Status.Valid() {
		return fmt.Errorf("invalid status %q", conv.Status)
	}
	skills, err := encodeStrings(conv.RequiredSkills)
	if err != nil {
		return err
	}
	metadata, err := encodeMetadata(conv.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (id, tenant_id, user_id, agent_id, status, title, metadata,
			required_skills, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = c.exec(ctx, query,
		conv.ID,
		conv.TenantID,
		conv.UserID,
		nullString(conv.AgentID),
		string(conv.Status),
		conv.Title,
		metadata,
		skills,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (c conn) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(c.q.QueryRowContext(ctx, c.rebind(conversationSelect+` WHERE id = ?`), id))
}

// ListAgentConversations returns the agent's conversations, most recently
// updated first, each with its latest message. With no statuses given it
// returns open (PENDING and ACTIVE) conversations.
func (c conn) ListAgentConversations(ctx context.Context, agentID string, statuses ...ConversationStatus) ([]*Conversation, error) {
	if len(statuses) == 0 {
		statuses = []ConversationStatus{StatusPending, StatusActive}
	}

	args := []any{agentID}
	placeholders := make([]string, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := `
		SELECT c.id, c.tenant_id, c.user_id, c.agent_id, c.status, c.title, c.metadata,
			c.required_skills, c.created_at, c.updated_at,
			m.id, m.user_id, m.content, m.created_at, i.role
		FROM conversations c
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		LEFT JOIN identities i ON i.id = m.user_id
		WHERE c.agent_id = ? AND c.status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY c.updated_at DESC, c.id ASC
	`
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var (
			row                               conversationRow
			msgID, msgUser, msgContent, msgAt sql.NullString
			msgRole                           sql.NullString
		)
		err := rows.Scan(
			&row.id, &row.tenantID, &row.userID, &row.agentID, &row.status, &row.title,
			&row.metadata, &row.requiredSkills, &row.createdAt, &row.updatedAt,
			&msgID, &msgUser, &msgContent, &msgAt, &msgRole,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv, err := row.decode()
		if err != nil {
			return nil, err
		}
		if msgID.Valid {
			createdAt, err := parseTime(msgAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing message created_at: %w", err)
			}
			conv.LastMessage = &Message{
				ID:             msgID.String,
				ConversationID: conv.ID,
				UserID:         msgUser.String,
				SenderRole:     Role(msgRole.String),
				Content:        msgContent.String,
				CreatedAt:      createdAt,
			}
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// CloseConversation marks a conversation CLOSED.
func (c conn) CloseConversation(ctx context.Context, conversationID string, at time.Time) error {
	query := `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`
	err := c.execOne(ctx, query, string(StatusClosed), formatTime(at), conversationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("closing conversation: %w", err)
	}
	return err
}

// conversationRow holds raw column values before decoding.
type conversationRow struct {
	id, tenantID, userID string
	agentID              sql.NullString
	status, title        string
	metadata             string
	requiredSkills       string
	createdAt, updatedAt string
}

func (r *conversationRow) decode() (*Conversation, error) {
	conv := &Conversation{
		ID:       r.id,
		TenantID: r.tenantID,
		UserID:   r.userID,
		AgentID:  r.agentID.String,
		Status:   ConversationStatus(r.status),
		Title:    r.title,
	}

	var err error
	if conv.RequiredSkills, err = decodeStrings(r.requiredSkills); err != nil {
		return nil, fmt.Errorf("decoding required skills: %w", err)
	}
	if r.metadata != "" {
		if err := json.Unmarshal([]byte(r.metadata), &conv.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	if conv.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return conv, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var r conversationRow
	err := row.Scan(
		&r.id, &r.tenantID, &r.userID, &r.agentID, &r.status, &r.title,
		&r.metadata, &r.requiredSkills, &r.createdAt, &r.updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return r.decode()
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
