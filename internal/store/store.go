// ABOUTME: Store interface and data types for live-chat persistence
// ABOUTME: Defines Identity, Conversation, Message and the transactional Tx surface

package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity whose id already exists
var ErrDuplicate = errors.New("already exists")

// ErrAtCapacity is returned when a workload increment would push an agent
// past its maximum
var ErrAtCapacity = errors.New("agent at capacity")

// Role is the role of an identity.
type Role string

const (
	RoleVisitor Role = "VISITOR"
	RoleAgent   Role = "AGENT"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleVisitor, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role belongs to the agent broadcast group.
func (r Role) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusPending ConversationStatus = "PENDING"
	StatusActive  ConversationStatus = "ACTIVE"
	StatusClosed  ConversationStatus = "CLOSED"
)

// Valid reports whether s is one of the known statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusClosed:
		return true
	}
	return false
}

// Identity is an authenticated principal. Agent routing fields are only
// meaningful when Role is AGENT.
type Identity struct {
	ID              string
	TenantID        string
	Role            Role
	DisplayName     string
	Email           string
	Skills          []string
	IsAvailable     bool
	CurrentWorkload int
	MaxWorkload     int
	TemporaryToken  string // visitor sessions only
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasSkill reports whether the identity carries the given skill.
func (i *Identity) HasSkill(skill string) bool {
	return slices.Contains(i.Skills, skill)
}

// Conversation is a support thread between a visitor and at most one agent.
type Conversation struct {
	ID             string
	TenantID       string
	UserID         string // the visitor who opened it
	AgentID        string // empty while unassigned
	Status         ConversationStatus
	Title          string
	Metadata       map[string]any
	RequiredSkills []string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// LastMessage is populated by listing queries only.
	LastMessage *Message
}

// Message is a durable chat message. SenderRole is derived from the author.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	SenderRole     Role      `json:"senderRole"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`

	// ClientMessageID echoes the sender's correlation id on the wire. It is
	// never persisted.
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// NewMessage holds the inputs for CreateMessage.
type NewMessage struct {
	ConversationID string
	AuthorID       string
	Content        string
}

// AgentUpdate is a partial update of an agent's routing attributes. Nil
// fields are left unchanged.
type AgentUpdate struct {
	IsAvailable *bool
	Skills      []string
	SetSkills   bool
	MaxWorkload *int
}

// Store is the persistence surface of the gateway.
type Store interface {
	// Identities
	CreateIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	ListAgents(ctx context.Context, tenantID string) ([]*Identity, error)
	FindAvailableAgents(ctx context.Context, tenantID string) ([]*Identity, error)
	UpdateAgent(ctx context.Context, id string, update AgentUpdate) (*Identity, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListAgentConversations(ctx context.Context, agentID string, statuses ...ConversationStatus) ([]*Conversation, error)

	// Messages
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// WithTx runs fn inside a single transaction. fn's error rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the transactional surface used by assignment and resolution.
type Tx interface {
	// GetConversationForUpdate loads a conversation and locks it until the
	// transaction ends.
	GetConversationForUpdate(ctx context.Context, id string) (*Conversation, error)
	FindAvailableAgents(ctx context.Context, tenantID string) ([]*Identity, error)
	AssignAgent(ctx context.Context, conversationID, agentID string, at time.Time) error
	CloseConversation(ctx context.Context, conversationID string, at time.Time) error
	// AdjustWorkload adds delta to an agent's workload, never going below zero.
	// A positive delta that would exceed the agent's maximum fails with
	// ErrAtCapacity and changes nothing.
	AdjustWorkload(ctx context.Context, agentID string, delta int) error
}
