// ABOUTME: Identity persistence for visitors, agents and admins
// ABOUTME: Includes agent routing queries used by the matcher and workflow

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const identitySelect = `
	SELECT id, tenant_id, role, display_name, email, skills, is_available,
		current_workload, max_workload, temporary_token, created_at, updated_at
	FROM identities`

// CreateIdentity stores a new identity.
// Returns ErrDuplicate if the id is already taken.
func (c conn) CreateIdentity(ctx context.Context, identity *Identity) error {
	if !identity.Role.Valid() {
		return fmt.Errorf("invalid role %q", identity.Role)
	}
	skills, err := encodeStrings(identity.Skills)
	if err != nil {
		return err
	}

	now := time.Now()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = identity.CreatedAt
	}

	query := `
		INSERT INTO identities (id, tenant_id, role, display_name, email, skills, is_available,
			current_workload, max_workload, temporary_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = c.exec(ctx, query,
		identity.ID,
		identity.TenantID,
		string(identity.Role),
		identity.DisplayName,
		identity.Email,
		skills,
		boolToInt(identity.IsAvailable),
		identity.CurrentWorkload,
		identity.MaxWorkload,
		identity.TemporaryToken,
		formatTime(identity.CreatedAt),
		formatTime(identity.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// GetIdentity retrieves an identity by ID.
// Returns ErrNotFound if the identity doesn't exist.
func (c conn) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	return scanIdentity(c.q.QueryRowContext(ctx, c.rebind(identitySelect+` WHERE id = ?`), id))
}

// ListAgents returns every agent of a tenant ordered by creation time.
func (c conn) ListAgents(ctx context.Context, tenantID string) ([]*Identity, error) {
	query := identitySelect + `
		WHERE tenant_id = ? AND role = ?
		ORDER BY created_at ASC, id ASC
	`
	return c.queryIdentities(ctx, query, tenantID, string(RoleAgent))
}

// FindAvailableAgents returns the tenant's agents that are available and
// below capacity, in a stable order.
func (c conn) FindAvailableAgents(ctx context.Context, tenantID string) ([]*Identity, error) {
	return c.queryIdentities(ctx, availableAgentsSelect, tenantID, string(RoleAgent))
}

const availableAgentsSelect = identitySelect + `
	WHERE tenant_id = ? AND role = ? AND is_available = 1
		AND current_workload < max_workload
	ORDER BY created_at ASC, id ASC`

// UpdateAgent applies a partial update to an identity's routing attributes.
// The workload counter is never touched here.
func (c conn) UpdateAgent(ctx context.Context, id string, update AgentUpdate) (*Identity, error) {
	identity, err := c.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.IsAvailable != nil {
		identity.IsAvailable = *update.IsAvailable
	}
	if update.SetSkills {
		identity.Skills = update.Skills
	}
	if update.MaxWorkload != nil {
		identity.MaxWorkload = *update.MaxWorkload
	}
	identity.UpdatedAt = time.Now()

	skills, err := encodeStrings(identity.Skills)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE identities
		SET is_available = ?, skills = ?, max_workload = ?, updated_at = ?
		WHERE id = ?
	`
	err = c.execOne(ctx, query,
		boolToInt(identity.IsAvailable),
		skills,
		identity.MaxWorkload,
		formatTime(identity.UpdatedAt),
		id,
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating agent: %w", err)
	}
	return identity, nil
}

// AssignAgent points a conversation at an agent and activates it.
// Closed conversations are never reopened.
func (c conn) AssignAgent(ctx context.Context, conversationID, agentID string, at time.Time) error {
	query := `
		UPDATE conversations
		SET agent_id = ?, status = ?, updated_at = ?
		WHERE id = ? AND status <> ?
	`
	err := c.execOne(ctx, query, agentID, string(StatusActive), formatTime(at), conversationID, string(StatusClosed))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("assigning agent: %w", err)
	}
	return err
}

// AdjustWorkload adds delta to the agent's workload, flooring at zero.
// Increments only apply while the agent has room, so a lost race for the
// last slot surfaces as ErrAtCapacity instead of overshooting max_workload.
func (c conn) AdjustWorkload(ctx context.Context, agentID string, delta int) error {
	query := `
		UPDATE identities
		SET current_workload = ` + c.greatest() + `(current_workload + ?, 0), updated_at = ?
		WHERE id = ?`
	args := []any{delta, formatTime(time.Now()), agentID}
	if delta > 0 {
		query += ` AND current_workload + ? <= max_workload`
		args = append(args, delta)
	}

	err := c.execOne(ctx, query, args...)
	if errors.Is(err, ErrNotFound) && delta > 0 {
		if _, getErr := c.GetIdentity(ctx, agentID); getErr == nil {
			return ErrAtCapacity
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("adjusting workload: %w", err)
	}
	return err
}

func (c conn) queryIdentities(ctx context.Context, query string, args ...any) ([]*Identity, error) {
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var out []*Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identities: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*Identity, error) {
	var (
		identity             Identity
		role, skills         string
		createdAt, updatedAt string
		available            bool
	)
	err := row.Scan(
		&identity.ID,
		&identity.TenantID,
		&role,
		&identity.DisplayName,
		&identity.Email,
		&skills,
		&available,
		&identity.CurrentWorkload,
		&identity.MaxWorkload,
		&identity.TemporaryToken,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning identity: %w", err)
	}

	identity.Role = Role(role)
	identity.IsAvailable = available
	if identity.Skills, err = decodeStrings(skills); err != nil {
		return nil, fmt.Errorf("decoding skills: %w", err)
	}
	if identity.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if identity.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &identity, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(b), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
