// ABOUTME: Conversation workflow: create, match, reassign and resolve
// ABOUTME: Each mutation runs under a per-conversation lock and a single store transaction

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/livechat-gateway/internal/agent"
	"github.com/2389/livechat-gateway/internal/keylock"
	"github.com/2389/livechat-gateway/internal/metrics"
	"github.com/2389/livechat-gateway/internal/store"
)

// DefaultTitle is used when a conversation is created without one.
const DefaultTitle = "New Conversation"

var (
	// ErrConversationNotFound wraps store.ErrNotFound for unknown conversations.
	ErrConversationNotFound = fmt.Errorf("conversation %w", store.ErrNotFound)

	// ErrNoAgentAvailable is returned by Reassign when matching finds nobody.
	ErrNoAgentAvailable = errors.New("no agent available")

	// ErrConversationClosed is returned when reassigning a CLOSED conversation.
	ErrConversationClosed = errors.New("conversation is closed")

	// ErrInvalidRequest is returned for create requests missing required fields.
	ErrInvalidRequest = errors.New("invalid conversation request")
)

// Options configures optional collaborators. Zero values are safe.
type Options struct {
	Notifier Notifier
	Events   EventPublisher
	Metrics  *metrics.Metrics
	// Locks may be shared with the gateway so lifecycle changes and message
	// sends on one conversation are serialised together.
	Locks  *keylock.Locker
	Logger *slog.Logger
}

// Service runs the conversation workflow.
type Service struct {
	store    store.Store
	notifier Notifier
	events   EventPublisher
	metrics  *metrics.Metrics
	locks    *keylock.Locker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a workflow service over s.
func NewService(s store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	return &Service{
		store:    s,
		notifier: opts.Notifier,
		events:   opts.Events,
		metrics:  opts.Metrics,
		locks:    opts.Locks,
		logger:   opts.Logger.With("component", "conversation"),
		now:      time.Now,
	}
}

// CreateRequest holds the inputs for Create.
type CreateRequest struct {
	TenantID       string
	UserID         string
	Title          string
	Metadata       map[string]any
	RequiredSkills []string
}

// Transcript is a conversation together with its messages, oldest first.
type Transcript struct {
	Conversation *store.Conversation
	Messages     []*store.Message
}

// Create persists a PENDING conversation and attempts to assign it. Finding
// no agent is not an error: the conversation is returned PENDING.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Conversation, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: tenant and user are required", ErrInvalidRequest)
	}
	if req.Title == "" {
		req.Title = DefaultTitle
	}

	now := s.now()
	conv := &store.Conversation{
		ID:             uuid.New().String(),
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		Status:         store.StatusPending,
		Title:          req.Title,
		Metadata:       req.Metadata,
		RequiredSkills: agent.NormalizeSkills(req.RequiredSkills),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	unlock := s.locks.Lock(conv.ID)
	defer unlock()

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	s.publish(ctx, EventCreated, conv)

	assigned, err := s.assign(ctx, conv.ID)
	if err != nil {
		s.metrics.Assignment(metrics.AssignmentFailed)
		return nil, err
	}
	if assigned == nil {
		s.metrics.Assignment(metrics.AssignmentUnmatched)
		s.logger.Info("conversation left pending, no agent available",
			"conversation_id", conv.ID,
			"tenant_id", conv.TenantID,
			"required_skills", conv.RequiredSkills)
		return conv, nil
	}

	s.metrics.Assignment(metrics.AssignmentAssigned)
	s.logger.Info("conversation assigned",
		"conversation_id", assigned.ID,
		"agent_id", assigned.AgentID)
	s.notifier.NotifyNewConversation(assigned.AgentID, assigned.ID)
	s.publish(ctx, EventAssigned, assigned)
	return assigned, nil
}

// Reassign re-runs matching for an open conversation using its original
// required skills. The previous agent's workload is left as is. If matching
// picks the agent already assigned nothing changes.
func (s *Service) Reassign(ctx context.Context, conversationID string) (*store.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	previous, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, s.notFound(err)
	}

	assigned, err := s.assign(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, ErrConversationClosed) && !errors.Is(err, ErrConversationNotFound) {
			s.metrics.Assignment(metrics.AssignmentFailed)
		}
		return nil, err
	}
	if assigned == nil {
		s.metrics.Assignment(metrics.AssignmentUnmatched)
		return nil, ErrNoAgentAvailable
	}
	if assigned.AgentID == previous.AgentID {
		return assigned, nil
	}

	s.metrics.Assignment(metrics.AssignmentReassigned)
	s.logger.Info("conversation reassigned",
		"conversation_id", assigned.ID,
		"previous_agent_id", previous.AgentID,
		"agent_id", assigned.AgentID)
	s.notifier.NotifyReassigned(assigned.AgentID, assigned.ID)
	s.publish(ctx, EventAssigned, assigned)
	return assigned, nil
}

// maxAssignAttempts bounds how often matching reruns after the selected
// agent filled up between the candidate read and the workload increment.
const maxAssignAttempts = 3

// assign runs matching and, on a hit, activates the conversation and bumps
// the agent's workload in one transaction. It returns nil when no agent
// matched. Re-selecting the currently assigned agent is a no-op.
func (s *Service) assign(ctx context.Context, conversationID string) (*store.Conversation, error) {
	for attempt := 1; ; attempt++ {
		conv, err := s.assignOnce(ctx, conversationID)
		if !errors.Is(err, store.ErrAtCapacity) {
			return conv, err
		}
		s.logger.Debug("selected agent filled up, matching again",
			"conversation_id", conversationID,
			"attempt", attempt)
		if attempt == maxAssignAttempts {
			return nil, nil
		}
	}
}

func (s *Service) assignOnce(ctx context.Context, conversationID string) (*store.Conversation, error) {
	var result *store.Conversation
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		conv, err := tx.GetConversationForUpdate(ctx, conversationID)
		if err != nil {
			return s.notFound(err)
		}
		if conv.Status == store.StatusClosed {
			return ErrConversationClosed
		}

		candidates, err := tx.FindAvailableAgents(ctx, conv.TenantID)
		if err != nil {
			return fmt.Errorf("finding available agents: %w", err)
		}
		selected, ok := agent.SelectAgent(candidates, conv.TenantID, conv.RequiredSkills)
		if !ok {
			return nil
		}
		if selected.ID == conv.AgentID {
			result = conv
			return nil
		}

		now := s.now()
		if err := tx.AssignAgent(ctx, conv.ID, selected.ID, now); err != nil {
			return fmt.Errorf("assigning agent: %w", err)
		}
		if err := tx.AdjustWorkload(ctx, selected.ID, 1); err != nil {
			return fmt.Errorf("incrementing workload: %w", err)
		}

		conv.AgentID = selected.ID
		conv.Status = store.StatusActive
		conv.UpdatedAt = now
		result = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Resolve closes a conversation and releases its agent's slot. Resolving a
// CLOSED conversation returns it unchanged without side effects.
func (s *Service) Resolve(ctx context.Context, conversationID string) (*store.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var (
		result  *store.Conversation
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		conv, err := tx.GetConversationForUpdate(ctx, conversationID)
		if err != nil {
			return s.notFound(err)
		}
		result = conv
		if conv.Status == store.StatusClosed {
			return nil
		}

		now := s.now()
		if err := tx.CloseConversation(ctx, conv.ID, now); err != nil {
			return fmt.Errorf("closing conversation: %w", err)
		}
		if conv.AgentID != "" {
			if err := tx.AdjustWorkload(ctx, conv.AgentID, -1); err != nil {
				return fmt.Errorf("decrementing workload: %w", err)
			}
		}

		conv.Status = store.StatusClosed
		conv.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.Debug("resolve on closed conversation ignored", "conversation_id", conversationID)
		return result, nil
	}

	s.metrics.Resolved()
	s.logger.Info("conversation resolved",
		"conversation_id", result.ID,
		"agent_id", result.AgentID)
	if result.AgentID != "" {
		s.notifier.NotifyResolved(result.AgentID, result.ID)
	}
	s.notifier.NotifyClosed(result.UserID, result.ID)
	s.publish(ctx, EventResolved, result)
	return result, nil
}

// Get returns a conversation with its full message history.
func (s *Service) Get(ctx context.Context, conversationID string) (*Transcript, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, s.notFound(err)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return &Transcript{Conversation: conv, Messages: msgs}, nil
}

// ListForAgent returns an agent's conversations, most recently updated
// first. With no statuses it returns PENDING and ACTIVE ones.
func (s *Service) ListForAgent(ctx context.Context, agentID string, statuses ...store.ConversationStatus) ([]*store.Conversation, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, st)
		}
	}
	convs, err := s.store.ListAgentConversations(ctx, agentID, statuses...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

func (s *Service) notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

func (s *Service) publish(ctx context.Context, eventType string, conv *store.Conversation) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLifecycle(ctx, newLifecycleEvent(eventType, conv)); err != nil {
		s.logger.Error("publishing lifecycle event",
			"event", eventType,
			"conversation_id", conv.ID,
			"error", err)
	}
}
