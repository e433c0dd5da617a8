// ABOUTME: JSON wire frames exchanged with WebSocket clients
// ABOUTME: Inbound requests carry an optional ack id; pushes never do

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/2389/livechat-gateway/internal/store"
)

// Inbound event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventPing              = "ping"
)

// Outbound event names.
const (
	EventAck                  = "ack"
	EventConnected            = "connected"
	EventNewConversation      = "new_conversation"
	EventConversationResolved = "conversation_resolved"
	EventConversationClosed   = "conversation_closed"
)

// Ack error strings surfaced to clients.
const (
	ErrTextInvalidMessage = "Invalid message data"
	ErrTextSendFailed     = "Failed to send message"
	ErrTextInvalidPayload = "Invalid payload"
	ErrTextUnknownEvent   = "Unknown event"
)

// MessageEvent is the push event carrying new messages of a conversation.
func MessageEvent(conversationID string) string {
	return "conversation:" + conversationID + ":message"
}

// Frame is an inbound client request.
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutFrame is an ack or a push.
type OutFrame struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Ack answers a client request.
type Ack struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Message *store.Message `json:"message,omitempty"`
}

// ConversationRef is the payload of join/leave requests and lifecycle pushes.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// SendMessage is the payload of a send_message request.
type SendMessage struct {
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// Connected is pushed once after a successful handshake.
type Connected struct {
	ConnectionID string     `json:"connectionId"`
	IdentityID   string     `json:"identityId"`
	Role         store.Role `json:"role"`
}

var errEmptyEvent = errors.New("frame has no event")

func decodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	f.Event = strings.TrimSpace(f.Event)
	if f.Event == "" {
		return &f, errEmptyEvent
	}
	return &f, nil
}

// decodeData unmarshals a frame payload. A missing payload decodes as the zero value.
func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}
