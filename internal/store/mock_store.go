// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database and to inject persistence failures

package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	_ Store = (*MockStore)(nil)
	_ Tx    = (*mockTx)(nil)
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	txMu          sync.Mutex // serialises WithTx callers
	identities    map[string]*Identity
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID

	// Injected failures. Set before use; read under mu.
	CreateMessageErr error
	AssignErr        error
	CloseErr         error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		identities:    make(map[string]*Identity),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// CreateIdentity stores a new identity.
func (m *MockStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[identity.ID]; ok {
		return ErrDuplicate
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = identity.CreatedAt
	}
	m.identities[identity.ID] = cloneIdentity(identity)
	return nil
}

// GetIdentity retrieves an identity by ID.
func (m *MockStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIdentity(identity), nil
}

// ListAgents returns every agent of a tenant.
func (m *MockStore) ListAgents(ctx context.Context, tenantID string) ([]*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.agentsLocked(tenantID, false), nil
}

// FindAvailableAgents returns available agents below capacity.
func (m *MockStore) FindAvailableAgents(ctx context.Context, tenantID string) ([]*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.agentsLocked(tenantID, true), nil
}

func (m *MockStore) agentsLocked(tenantID string, availableOnly bool) []*Identity {
	var out []*Identity
	for _, identity := range m.identities {
		if identity.TenantID != tenantID || identity.Role != RoleAgent {
			continue
		}
		if availableOnly && (!identity.IsAvailable || identity.CurrentWorkload >= identity.MaxWorkload) {
			continue
		}
		out = append(out, cloneIdentity(identity))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateAgent applies a partial update of routing attributes.
func (m *MockStore) UpdateAgent(ctx context.Context, id string, update AgentUpdate) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.IsAvailable != nil {
		identity.IsAvailable = *update.IsAvailable
	}
	if update.SetSkills {
		identity.Skills = slices.Clone(update.Skills)
	}
	if update.MaxWorkload != nil {
		identity.MaxWorkload = *update.MaxWorkload
	}
	identity.UpdatedAt = time.Now()
	return cloneIdentity(identity), nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.identities[conv.UserID]; !ok {
		return fmt.Errorf("inserting conversation: user %s: %w", conv.UserID, ErrNotFound)
	}
	m.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ListAgentConversations returns the agent's conversations newest first.
func (m *MockStore) ListAgentConversations(ctx context.Context, agentID string, statuses ...ConversationStatus) ([]*Conversation, error) {
	if len(statuses) == 0 {
		statuses = []ConversationStatus{StatusPending, StatusActive}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, conv := range m.conversations {
		if conv.AgentID != agentID || !slices.Contains(statuses, conv.Status) {
			continue
		}
		c := cloneConversation(conv)
		if msgs := m.messages[conv.ID]; len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// CreateMessage persists a message and touches the conversation.
func (m *MockStore) CreateMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateMessageErr != nil {
		return nil, m.CreateMessageErr
	}
	author, ok := m.identities[msg.AuthorID]
	if !ok {
		return nil, fmt.Errorf("author %s: %w", msg.AuthorID, ErrNotFound)
	}
	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}

	now := time.Now()
	out := &Message{
		ID:             uuid.New().String(),
		ConversationID: msg.ConversationID,
		UserID:         author.ID,
		SenderRole:     author.Role,
		Content:        msg.Content,
		CreatedAt:      now,
	}
	conv.UpdatedAt = now
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], out)

	result := *out
	return &result, nil
}

// ListMessages returns a conversation's messages oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		c := *msg
		out = append(out, &c)
	}
	return out, nil
}

// WithTx serialises transactions and restores the prior state when fn fails.
func (m *MockStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	identities := make(map[string]*Identity, len(m.identities))
	for id, identity := range m.identities {
		identities[id] = cloneIdentity(identity)
	}
	conversations := make(map[string]*Conversation, len(m.conversations))
	for id, conv := range m.conversations {
		conversations[id] = cloneConversation(conv)
	}
	m.mu.RUnlock()

	if err := fn(&mockTx{m: m}); err != nil {
		m.mu.Lock()
		m.identities = identities
		m.conversations = conversations
		m.mu.Unlock()
		return err
	}
	return nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Workload returns an agent's current workload, or -1 if unknown.
func (m *MockStore) Workload(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.identities[id]
	if !ok {
		return -1
	}
	return identity.CurrentWorkload
}

// mockTx applies writes directly; MockStore.WithTx handles rollback.
type mockTx struct {
	m *MockStore
}

func (t *mockTx) GetConversationForUpdate(ctx context.Context, id string) (*Conversation, error) {
	return t.m.GetConversation(ctx, id)
}

func (t *mockTx) FindAvailableAgents(ctx context.Context, tenantID string) ([]*Identity, error) {
	return t.m.FindAvailableAgents(ctx, tenantID)
}

func (t *mockTx) AssignAgent(ctx context.Context, conversationID, agentID string, at time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.m.AssignErr != nil {
		return t.m.AssignErr
	}
	conv, ok := t.m.conversations[conversationID]
	if !ok || conv.Status == StatusClosed {
		return ErrNotFound
	}
	conv.AgentID = agentID
	conv.Status = StatusActive
	conv.UpdatedAt = at
	return nil
}

func (t *mockTx) CloseConversation(ctx context.Context, conversationID string, at time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.m.CloseErr != nil {
		return t.m.CloseErr
	}
	conv, ok := t.m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.Status = StatusClosed
	conv.UpdatedAt = at
	return nil
}

func (t *mockTx) AdjustWorkload(ctx context.Context, agentID string, delta int) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	identity, ok := t.m.identities[agentID]
	if !ok {
		return ErrNotFound
	}
	if delta > 0 && identity.CurrentWorkload+delta > identity.MaxWorkload {
		return ErrAtCapacity
	}
	identity.CurrentWorkload = max(identity.CurrentWorkload+delta, 0)
	return nil
}

func cloneIdentity(identity *Identity) *Identity {
	c := *identity
	c.Skills = slices.Clone(identity.Skills)
	return &c
}

func cloneConversation(conv *Conversation) *Conversation {
	c := *conv
	c.RequiredSkills = slices.Clone(conv.RequiredSkills)
	c.Metadata = maps.Clone(conv.Metadata)
	return &c
}
