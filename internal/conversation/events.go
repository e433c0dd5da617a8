// ABOUTME: Collaborator interfaces for post-commit notifications and lifecycle events
// ABOUTME: Implemented by the gateway (Notifier) and the eventbus (EventPublisher)

package conversation

import (
	"context"
	"time"

	"github.com/2389/livechat-gateway/internal/store"
)

// Lifecycle event types.
const (
	EventCreated  = "conversation.created.v1"
	EventAssigned = "conversation.assigned.v1"
	EventResolved = "conversation.resolved.v1"
)

// Notifier pushes lifecycle notifications to identities' private channels.
// Implementations drop notifications for offline identities.
type Notifier interface {
	NotifyNewConversation(agentID, conversationID string)
	NotifyReassigned(agentID, conversationID string)
	NotifyResolved(agentID, conversationID string)
	NotifyClosed(userID, conversationID string)
}

// LifecycleEvent describes a committed conversation state change.
type LifecycleEvent struct {
	Type           string                   `json:"type"`
	ConversationID string                   `json:"conversationId"`
	TenantID       string                   `json:"tenantId"`
	UserID         string                   `json:"userId"`
	AgentID        string                   `json:"agentId,omitempty"`
	Status         store.ConversationStatus `json:"status"`
	RequiredSkills []string                 `json:"requiredSkills,omitempty"`
	At             time.Time                `json:"at"`
}

// EventPublisher forwards lifecycle events to external consumers.
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, evt LifecycleEvent) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyNewConversation(string, string) {}
func (nopNotifier) NotifyReassigned(string, string)      {}
func (nopNotifier) NotifyResolved(string, string)        {}
func (nopNotifier) NotifyClosed(string, string)          {}

func newLifecycleEvent(eventType string, conv *store.Conversation) LifecycleEvent {
	return LifecycleEvent{
		Type:           eventType,
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		UserID:         conv.UserID,
		AgentID:        conv.AgentID,
		Status:         conv.Status,
		RequiredSkills: conv.RequiredSkills,
		At:             conv.UpdatedAt,
	}
}
