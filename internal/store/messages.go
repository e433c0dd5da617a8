// ABOUTME: Message persistence for conversations
// ABOUTME: CreateMessage derives the sender role and touches the conversation atomically

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateMessage persists a message authored by msg.AuthorID and bumps the
// conversation's updated_at in the same transaction. The returned message
// carries the author's role as SenderRole.
// Returns ErrNotFound if the author or the conversation doesn't exist.
func (s *SQLStore) CreateMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	var out *Message
	err := s.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.(*txConn).createMessage(ctx, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c conn) createMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	author, err := c.GetIdentity(ctx, msg.AuthorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("author %s: %w", msg.AuthorID, err)
		}
		return nil, err
	}

	now := time.Now()
	err = c.execOne(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(now), msg.ConversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, err)
		}
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	out := &Message{
		ID:             uuid.New().String(),
		ConversationID: msg.ConversationID,
		UserID:         author.ID,
		SenderRole:     author.Role,
		Content:        msg.Content,
		CreatedAt:      now,
	}

	query := `
		INSERT INTO messages (id, conversation_id, user_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := c.exec(ctx, query, out.ID, out.ConversationID, out.UserID, out.Content, formatTime(out.CreatedAt)); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return out, nil
}

// ListMessages returns a conversation's messages oldest first. When limit is
// positive only the most recent limit messages are returned.
func (c conn) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.user_id, i.role, m.content, m.created_at
		FROM messages m
		JOIN identities i ON i.id = m.user_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			msg             Message
			role, createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.SenderRole = Role(role)
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
