// ABOUTME: Administrative operations on the agent pool backed by the store
// ABOUTME: Availability, skill set and capacity updates for AGENT identities

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/livechat-gateway/internal/store"
)

// ErrNotAnAgent indicates the identity exists but does not have the AGENT role.
var ErrNotAnAgent = errors.New("identity is not an agent")

// ErrInvalidCapacity indicates a non-positive max workload.
var ErrInvalidCapacity = errors.New("max workload must be positive")

// PoolStore is the subset of store.Store the pool needs.
type PoolStore interface {
	GetIdentity(ctx context.Context, id string) (*store.Identity, error)
	ListAgents(ctx context.Context, tenantID string) ([]*store.Identity, error)
	FindAvailableAgents(ctx context.Context, tenantID string) ([]*store.Identity, error)
	UpdateAgent(ctx context.Context, id string, update store.AgentUpdate) (*store.Identity, error)
}

// Pool manages agent routing attributes.
type Pool struct {
	store  PoolStore
	logger *slog.Logger
}

// NewPool creates a Pool. Pass nil logger for default.
func NewPool(s PoolStore, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:  s,
		logger: logger.With("component", "agent_pool"),
	}
}

// Get returns an agent by id.
func (p *Pool) Get(ctx context.Context, id string) (*store.Identity, error) {
	identity, err := p.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting agent %s: %w", id, err)
	}
	if identity.Role != store.RoleAgent {
		return nil, ErrNotAnAgent
	}
	return identity, nil
}

// List returns every agent in a tenant.
func (p *Pool) List(ctx context.Context, tenantID string) ([]*store.Identity, error) {
	return p.store.ListAgents(ctx, tenantID)
}

// Preview returns the agent a new conversation would currently be routed to,
// without assigning anything.
func (p *Pool) Preview(ctx context.Context, tenantID string, requiredSkills []string) (*store.Identity, bool, error) {
	candidates, err := p.store.FindAvailableAgents(ctx, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("finding available agents: %w", err)
	}
	selected, ok := SelectAgent(candidates, tenantID, requiredSkills)
	return selected, ok, nil
}

// SetAvailability toggles whether the agent accepts new conversations.
func (p *Pool) SetAvailability(ctx context.Context, id string, available bool) (*store.Identity, error) {
	return p.update(ctx, id, store.AgentUpdate{IsAvailable: &available})
}

// SetSkills replaces the agent's skill set. Blank and repeated skills are dropped.
func (p *Pool) SetSkills(ctx context.Context, id string, skills []string) (*store.Identity, error) {
	return p.update(ctx, id, store.AgentUpdate{Skills: NormalizeSkills(skills), SetSkills: true})
}

// SetMaxWorkload changes the agent's capacity. Lowering it below the current
// workload only stops new assignments; existing conversations stay put.
func (p *Pool) SetMaxWorkload(ctx context.Context, id string, maxWorkload int) (*store.Identity, error) {
	if maxWorkload <= 0 {
		return nil, ErrInvalidCapacity
	}
	return p.update(ctx, id, store.AgentUpdate{MaxWorkload: &maxWorkload})
}

func (p *Pool) update(ctx context.Context, id string, update store.AgentUpdate) (*store.Identity, error) {
	if _, err := p.Get(ctx, id); err != nil {
		return nil, err
	}

	updated, err := p.store.UpdateAgent(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("updating agent %s: %w", id, err)
	}

	p.logger.Info("agent updated",
		"agent_id", id,
		"available", updated.IsAvailable,
		"skills", updated.Skills,
		"max_workload", updated.MaxWorkload,
	)
	return updated, nil
}

// NormalizeSkills trims, drops blanks and removes duplicates, keeping order.
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return dedupe(out)
}
