// ABOUTME: Inbound event handlers for join, leave, send_message and ping
// ABOUTME: send_message holds the conversation lock across persist and fan-out

package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/2389/livechat-gateway/internal/auth"
	"github.com/2389/livechat-gateway/internal/metrics"
	"github.com/2389/livechat-gateway/internal/rooms"
	"github.com/2389/livechat-gateway/internal/store"
)

func (r *Router) dispatch(ctx context.Context, c *connection, raw []byte) {
	frame, err := decodeFrame(raw)
	if err != nil {
		var id string
		if frame != nil {
			id = frame.ID
		}
		c.logger.Debug("undecodable frame", "error", err)
		c.ack(id, Ack{Error: ErrTextInvalidPayload})
		return
	}

	start := time.Now()
	label := frame.Event
	c.logger.Debug("dispatching event", "event", frame.Event, "ack_id", frame.ID)

	switch frame.Event {
	case EventJoinConversation:
		r.handleJoin(c, frame)
	case EventLeaveConversation:
		r.handleLeave(c, frame)
	case EventSendMessage:
		r.handleSendMessage(ctx, c, frame)
	case EventPing:
		c.ack(frame.ID, Ack{Success: true})
	default:
		label = "unknown"
		c.ack(frame.ID, Ack{Error: ErrTextUnknownEvent})
	}

	r.metrics.ObserveEvent(label, time.Since(start))
}

func (r *Router) conversationRef(c *connection, frame *Frame) (string, bool) {
	var ref ConversationRef
	if err := decodeData(frame.Data, &ref); err != nil {
		c.ack(frame.ID, Ack{Error: ErrTextInvalidPayload})
		return "", false
	}
	id := strings.TrimSpace(ref.ConversationID)
	if id == "" {
		c.ack(frame.ID, Ack{Error: ErrTextInvalidPayload})
		return "", false
	}
	return id, true
}

func (r *Router) handleJoin(c *connection, frame *Frame) {
	conversationID, ok := r.conversationRef(c, frame)
	if !ok {
		return
	}
	room := rooms.ConversationRoom(conversationID)
	r.rooms.Join(room, c)
	if c.State() == StateClosed {
		// Lost a race with disconnect; do not leave a dead member behind.
		r.rooms.Leave(room, c.id)
		return
	}
	c.logger.Debug("joined conversation", "conversation_id", conversationID)
	c.ack(frame.ID, Ack{Success: true})
}

func (r *Router) handleLeave(c *connection, frame *Frame) {
	conversationID, ok := r.conversationRef(c, frame)
	if !ok {
		return
	}
	r.rooms.Leave(rooms.ConversationRoom(conversationID), c.id)
	c.logger.Debug("left conversation", "conversation_id", conversationID)
	c.ack(frame.ID, Ack{Success: true})
}

func (r *Router) handleSendMessage(ctx context.Context, c *connection, frame *Frame) {
	var req SendMessage
	if err := decodeData(frame.Data, &req); err != nil {
		r.metrics.MessageResult(metrics.MessageInvalid)
		c.ack(frame.ID, Ack{Error: ErrTextInvalidMessage})
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" || strings.TrimSpace(req.Content) == "" {
		r.metrics.MessageResult(metrics.MessageInvalid)
		c.ack(frame.ID, Ack{Error: ErrTextInvalidMessage})
		return
	}

	author := auth.FromContext(ctx)
	if author == nil {
		r.metrics.MessageResult(metrics.MessageFailed)
		c.logger.Error("send without an authenticated identity", "conversation_id", conversationID)
		c.ack(frame.ID, Ack{Error: ErrTextSendFailed})
		return
	}
	// Only connections still bound in presence may write.
	if bound, ok := r.presence.IdentityOf(c.id); !ok || bound != author.ID {
		r.metrics.MessageResult(metrics.MessageFailed)
		c.logger.Warn("send from unbound connection", "conversation_id", conversationID)
		c.ack(frame.ID, Ack{Error: ErrTextSendFailed})
		return
	}

	unlock := r.locks.Lock(conversationID)
	msg, err := r.messages.CreateMessage(ctx, store.NewMessage{
		ConversationID: conversationID,
		AuthorID:       author.ID,
		Content:        req.Content,
	})
	if err != nil {
		unlock()
		r.metrics.MessageResult(metrics.MessageFailed)
		c.logger.Error("failed to persist message",
			"conversation_id", conversationID,
			"error", err)
		c.ack(frame.ID, Ack{Error: ErrTextSendFailed})
		return
	}
	msg.ClientMessageID = req.ClientMessageID

	delivered := r.rooms.Publish(rooms.ConversationRoom(conversationID), &rooms.Event{
		Name:    MessageEvent(conversationID),
		Payload: msg,
	}, "")
	unlock()

	r.metrics.MessageResult(metrics.MessagePersisted)
	c.logger.Debug("message sent",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"delivered", delivered)
	c.ack(frame.ID, Ack{Success: true, Message: msg})
}
