// ABOUTME: Session couples a gateway connection with the reconciliation store
// ABOUTME: Sends are optimistic; pushes are merged into the cache as they arrive

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/livechat-gateway/internal/gateway"
	"github.com/2389/livechat-gateway/internal/store"
)

// ErrEmptyContent is returned by Send for blank messages. Nothing is sent.
var ErrEmptyContent = errors.New("message content is empty")

// RejectedError is returned when the server acknowledged a request with a failure.
type RejectedError struct {
	Event  string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Event, e.Reason)
}

// Hooks are optional callbacks invoked from Run.
type Hooks struct {
	OnMessage         func(m LocalMessage, outcome Outcome)
	OnNewConversation func(conversationID string)
	OnClosed          func(conversationID string, event string)
}

// Session is a signed-in client: one connection plus its local cache.
type Session struct {
	conn   *Conn
	store  *Store
	hooks  Hooks
	logger *slog.Logger
}

// NewSession builds a session for conn. The cache is keyed to the identity
// the server bound the connection to.
func NewSession(conn *Conn, hooks Hooks, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := conn.Identity()
	return &Session{
		conn:   conn,
		store:  NewStore(id.IdentityID, id.Role, logger),
		hooks:  hooks,
		logger: logger.With("component", "client-session", "identity_id", id.IdentityID),
	}
}

// Store exposes the session cache.
func (s *Session) Store() *Store {
	return s.store
}

// Identity returns who this session is signed in as.
func (s *Session) Identity() gateway.Connected {
	return s.conn.Identity()
}

// Join subscribes to a conversation's messages.
func (s *Session) Join(ctx context.Context, conversationID string) error {
	if err := s.request(ctx, gateway.EventJoinConversation, gateway.ConversationRef{ConversationID: conversationID}); err != nil {
		return err
	}
	s.store.Ensure(conversationID)
	return nil
}

// Leave unsubscribes from a conversation. The cache entry is kept.
func (s *Session) Leave(ctx context.Context, conversationID string) error {
	return s.request(ctx, gateway.EventLeaveConversation, gateway.ConversationRef{ConversationID: conversationID})
}

// Ping round-trips a ping request.
func (s *Session) Ping(ctx context.Context) error {
	return s.request(ctx, gateway.EventPing, nil)
}

func (s *Session) request(ctx context.Context, event string, data any) error {
	ack, err := s.conn.Request(ctx, event, data)
	if err != nil {
		return err
	}
	if !ack.Success {
		return &RejectedError{Event: event, Reason: ack.Error}
	}
	return nil
}

// Send posts content to a conversation. The message shows up in the cache
// immediately as pending; it is confirmed from the ack or the push echo,
// whichever arrives first, and rolled back if the server refuses it.
func (s *Session) Send(ctx context.Context, conversationID, content string) (LocalMessage, error) {
	if strings.TrimSpace(content) == "" {
		return LocalMessage{}, ErrEmptyContent
	}

	pending := s.store.BeginSend(conversationID, content)
	ack, err := s.conn.Request(ctx, gateway.EventSendMessage, gateway.SendMessage{
		ConversationID:  conversationID,
		Content:         content,
		ClientMessageID: pending.ClientMessageID,
	})
	if err == nil && (!ack.Success || ack.Message == nil) {
		reason := ack.Error
		if reason == "" {
			reason = "no message in ack"
		}
		err = &RejectedError{Event: gateway.EventSendMessage, Reason: reason}
	}
	if err != nil {
		failed, rolledBack := s.store.Rollback(pending)
		if !rolledBack {
			s.logger.Warn("send failed after confirmation",
				"conversation_id", conversationID,
				"error", err)
		}
		return failed, err
	}

	outcome := s.store.Confirm(pending, ack.Message)
	s.logger.Debug("send confirmed",
		"conversation_id", conversationID,
		"message_id", ack.Message.ID,
		"outcome", outcome.String())
	m := confirmedMessage(ack.Message)
	if m.ClientMessageID == "" {
		m.ClientMessageID = pending.ClientMessageID
	}
	return m, nil
}

// Run consumes server pushes until ctx is canceled or the connection ends.
func (s *Session) Run(ctx context.Context) error {
	pushes := s.conn.Pushes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-pushes:
			if !ok {
				return s.conn.Err()
			}
			s.handlePush(p)
		}
	}
}

func (s *Session) handlePush(p Push) {
	switch {
	case strings.HasPrefix(p.Event, "conversation:") && strings.HasSuffix(p.Event, ":message"):
		var msg store.Message
		if err := json.Unmarshal(p.Data, &msg); err != nil {
			s.logger.Warn("undecodable message push", "event", p.Event, "error", err)
			return
		}
		if msg.ConversationID == "" {
			msg.ConversationID = strings.TrimSuffix(strings.TrimPrefix(p.Event, "conversation:"), ":message")
		}
		outcome := s.store.Receive(&msg)
		if s.hooks.OnMessage != nil && (outcome == OutcomeInserted || outcome == OutcomeReplaced) {
			s.hooks.OnMessage(confirmedMessage(&msg), outcome)
		}

	case p.Event == gateway.EventNewConversation:
		ref, ok := s.decodeRef(p)
		if !ok {
			return
		}
		s.store.Ensure(ref.ConversationID)
		if s.hooks.OnNewConversation != nil {
			s.hooks.OnNewConversation(ref.ConversationID)
		}

	case p.Event == gateway.EventConversationResolved, p.Event == gateway.EventConversationClosed:
		ref, ok := s.decodeRef(p)
		if !ok {
			return
		}
		s.store.SetStatus(ref.ConversationID, store.StatusClosed)
		if s.hooks.OnClosed != nil {
			s.hooks.OnClosed(ref.ConversationID, p.Event)
		}

	default:
		s.logger.Debug("ignoring push", "event", p.Event)
	}
}

func (s *Session) decodeRef(p Push) (gateway.ConversationRef, bool) {
	var ref gateway.ConversationRef
	if err := json.Unmarshal(p.Data, &ref); err != nil || ref.ConversationID == "" {
		s.logger.Warn("undecodable conversation push", "event", p.Event, "error", err)
		return ref, false
	}
	return ref, true
}

// Close ends the session's connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
