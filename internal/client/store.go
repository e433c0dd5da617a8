// ABOUTME: Client-side conversation cache merging optimistic sends with server-confirmed messages
// ABOUTME: Each message moves pending -> confirmed on its echo, or pending -> failed on rollback

package client

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/livechat-gateway/internal/store"
)

// TempPrefix marks message ids that were generated locally and never persisted.
const TempPrefix = "temp-"

// MessageState is the reconciliation state of a local message.
type MessageState string

const (
	StatePending   MessageState = "pending"
	StateConfirmed MessageState = "confirmed"
	StateFailed    MessageState = "failed"
)

// Outcome reports what reconciling a durable message did to the cache.
type Outcome int

const (
	// OutcomeIgnored means the conversation is not cached.
	OutcomeIgnored Outcome = iota
	// OutcomeInserted means the message was new and was added.
	OutcomeInserted
	// OutcomeReplaced means a pending temporary message was confirmed.
	OutcomeReplaced
	// OutcomeDuplicate means the durable id was already cached.
	OutcomeDuplicate
	// OutcomeSuppressed means the message was the local identity's own echo
	// with nothing pending to reconcile.
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeInserted:
		return "inserted"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// LocalMessage is a cached message, temporary or durable.
type LocalMessage struct {
	ID              string
	ConversationID  string
	UserID          string
	SenderRole      store.Role
	Content         string
	CreatedAt       time.Time
	ClientMessageID string
	State           MessageState
}

// IsTemporary reports whether the message id was generated locally.
func (m LocalMessage) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempPrefix)
}

func confirmedMessage(m *store.Message) LocalMessage {
	return LocalMessage{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		UserID:          m.UserID,
		SenderRole:      m.SenderRole,
		Content:         m.Content,
		CreatedAt:       m.CreatedAt,
		ClientMessageID: m.ClientMessageID,
		State:           StateConfirmed,
	}
}

// Conversation is the local projection of one conversation.
type Conversation struct {
	ID              string
	Status          store.ConversationStatus
	UserID          string
	AgentID         string
	Title           string
	Messages        []LocalMessage // createdAt ascending
	LastMessage     string
	LastMessageTime time.Time
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return out
}

func (c *Conversation) indexOf(id string) int {
	return slices.IndexFunc(c.Messages, func(m LocalMessage) bool { return m.ID == id })
}

func (c *Conversation) indexOfPendingClientID(clientMessageID string) int {
	return slices.IndexFunc(c.Messages, func(m LocalMessage) bool {
		return m.State == StatePending && m.ClientMessageID == clientMessageID
	})
}

// matchTemp finds the oldest pending temporary message with the same content
// and sender role.
func (c *Conversation) matchTemp(content string, role store.Role) int {
	return slices.IndexFunc(c.Messages, func(m LocalMessage) bool {
		return m.State == StatePending && m.IsTemporary() && m.Content == content && m.SenderRole == role
	})
}

func (c *Conversation) insert(m LocalMessage) {
	c.Messages = append(c.Messages, m)
	slices.SortStableFunc(c.Messages, func(a, b LocalMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	c.refreshPreview()
}

func (c *Conversation) replace(i int, m LocalMessage) {
	if m.ClientMessageID == "" {
		m.ClientMessageID = c.Messages[i].ClientMessageID
	}
	c.Messages = slices.Delete(c.Messages, i, i+1)
	c.insert(m)
}

func (c *Conversation) refreshPreview() {
	if len(c.Messages) == 0 {
		return
	}
	last := c.Messages[len(c.Messages)-1]
	c.LastMessage = last.Content
	c.LastMessageTime = last.CreatedAt
}

// PendingSend tracks one optimistic send until it is confirmed or rolled back.
type PendingSend struct {
	ConversationID  string
	TempID          string
	ClientMessageID string
	Content         string

	snapshot Conversation
}

// Store is the reconciliation cache for one local identity.
type Store struct {
	identityID string
	role       store.Role
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.RWMutex
	conversations map[string]*Conversation
	// abandoned maps the client ids of rolled-back sends to their
	// conversation. The server may still have persisted them.
	abandoned map[string]string
}

// NewStore creates an empty cache for the identity the client is signed in as.
func NewStore(identityID string, role store.Role, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		identityID:    identityID,
		role:          role,
		logger:        logger.With("component", "client-store"),
		now:           time.Now,
		conversations: make(map[string]*Conversation),
		abandoned:     make(map[string]string),
	}
}

// Upsert loads a fetched conversation and its durable history. Pending local
// messages survive; fetched copies of them replace the temporary entries.
func (s *Store) Upsert(conv *store.Conversation, messages []*store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureLocked(conv.ID)
	c.Status = conv.Status
	c.UserID = conv.UserID
	c.AgentID = conv.AgentID
	c.Title = conv.Title
	if conv.LastMessage != nil && len(c.Messages) == 0 {
		c.LastMessage = conv.LastMessage.Content
		c.LastMessageTime = conv.LastMessage.CreatedAt
	}

	for _, m := range messages {
		s.reconcileLocked(c, m, false)
	}
}

// Ensure creates an empty entry for conversationID if none is cached.
func (s *Store) Ensure(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(conversationID)
}

func (s *Store) ensureLocked(conversationID string) *Conversation {
	c, ok := s.conversations[conversationID]
	if !ok {
		c = &Conversation{ID: conversationID}
		s.conversations[conversationID] = c
	}
	return c
}

// SetStatus records a lifecycle change pushed by the server.
func (s *Store) SetStatus(conversationID string, status store.ConversationStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	c.Status = status
	return true
}

// Remove drops a conversation from the cache.
func (s *Store) Remove(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	for clientID, convID := range s.abandoned {
		if convID == conversationID {
			delete(s.abandoned, clientID)
		}
	}
}

// Conversation returns a copy of a cached conversation.
func (s *Store) Conversation(conversationID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

// Messages returns a copy of a conversation's messages, oldest first.
func (s *Store) Messages(conversationID string) []LocalMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	return slices.Clone(c.Messages)
}

// Conversations returns every cached conversation, most recent activity first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Conversation) int {
		if cmp := b.LastMessageTime.Compare(a.LastMessageTime); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// BeginSend appends a temporary message and updates the preview fields
// immediately. The returned PendingSend must later be passed to Confirm or
// Rollback.
func (s *Store) BeginSend(conversationID, content string) *PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureLocked(conversationID)
	p := &PendingSend{
		ConversationID:  conversationID,
		TempID:          TempPrefix + uuid.New().String(),
		ClientMessageID: uuid.New().String(),
		Content:         content,
		snapshot:        c.clone(),
	}

	c.insert(LocalMessage{
		ID:              p.TempID,
		ConversationID:  conversationID,
		UserID:          s.identityID,
		SenderRole:      s.role,
		Content:         content,
		CreatedAt:       s.now(),
		ClientMessageID: p.ClientMessageID,
		State:           StatePending,
	})
	return p
}

// Confirm applies the durable message returned in a send acknowledgement.
func (s *Store) Confirm(p *PendingSend, durable *store.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[p.ConversationID]
	if !ok {
		return OutcomeIgnored
	}

	m := confirmedMessage(durable)
	if m.ClientMessageID == "" {
		m.ClientMessageID = p.ClientMessageID
	}

	tempIdx := c.indexOf(p.TempID)
	if c.indexOf(m.ID) >= 0 {
		// The push echo got here first.
		if tempIdx >= 0 {
			c.Messages = slices.Delete(c.Messages, tempIdx, tempIdx+1)
			c.refreshPreview()
		}
		return OutcomeDuplicate
	}
	if tempIdx >= 0 {
		c.replace(tempIdx, m)
		return OutcomeReplaced
	}
	c.insert(m)
	return OutcomeInserted
}

// Receive applies a message pushed by the server.
func (s *Store) Receive(msg *store.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return OutcomeIgnored
	}
	return s.reconcileLocked(c, msg, true)
}

func (s *Store) reconcileLocked(c *Conversation, msg *store.Message, suppressOwn bool) Outcome {
	if c.indexOf(msg.ID) >= 0 {
		return OutcomeDuplicate
	}

	m := confirmedMessage(msg)
	if m.ClientMessageID != "" {
		if i := c.indexOfPendingClientID(m.ClientMessageID); i >= 0 {
			c.replace(i, m)
			return OutcomeReplaced
		}
		if _, ok := s.abandoned[m.ClientMessageID]; ok {
			// A send that timed out locally was persisted after all.
			delete(s.abandoned, m.ClientMessageID)
			s.logger.Info("recovered rolled-back send",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID)
			c.insert(m)
			return OutcomeInserted
		}
	}

	if s.isOwn(msg) {
		if i := c.matchTemp(m.Content, m.SenderRole); i >= 0 {
			c.replace(i, m)
			return OutcomeReplaced
		}
		if suppressOwn {
			s.logger.Debug("suppressed own echo",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID)
			return OutcomeSuppressed
		}
	}

	c.insert(m)
	return OutcomeInserted
}

// isOwn reports whether msg was authored by the local identity. Pushes without
// an author id fall back to the sender role.
func (s *Store) isOwn(msg *store.Message) bool {
	if msg.UserID != "" {
		return msg.UserID == s.identityID
	}
	return msg.SenderRole == s.role
}

// Rollback removes a send's temporary message and restores the preview fields
// captured before it. Messages that arrived or were confirmed since are kept.
// The send's client id is remembered so a late server echo of it is inserted
// rather than suppressed. It returns the failed message, or false if the send
// was already confirmed.
func (s *Store) Rollback(p *PendingSend) (LocalMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[p.ConversationID]
	if !ok {
		return LocalMessage{}, false
	}
	i := c.indexOf(p.TempID)
	if i < 0 {
		return LocalMessage{}, false
	}

	failed := c.Messages[i]
	failed.State = StateFailed
	c.Messages = slices.Delete(c.Messages, i, i+1)
	s.abandoned[p.ClientMessageID] = p.ConversationID

	if len(c.Messages) == 0 {
		c.LastMessage = p.snapshot.LastMessage
		c.LastMessageTime = p.snapshot.LastMessageTime
	} else {
		c.refreshPreview()
	}

	s.logger.Debug("rolled back send",
		"conversation_id", p.ConversationID,
		"temp_id", p.TempID)
	return failed, true
}
