// ABOUTME: Resolves a credential to a stored identity and issues visitor sessions
// ABOUTME: Visitor credentials must match the identity's current temporary token

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/livechat-gateway/internal/store"
)

// ErrUnauthenticated is returned for any credential that does not resolve.
var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityStore is the subset of store.Store the resolver needs.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (*store.Identity, error)
	CreateIdentity(ctx context.Context, identity *store.Identity) error
}

// Resolver turns credentials into identities.
type Resolver struct {
	verifier   *JWTVerifier
	store      IdentityStore
	visitorTTL time.Duration
	logger     *slog.Logger
}

// NewResolver creates a Resolver. visitorTTL bounds visitor session tokens.
func NewResolver(verifier *JWTVerifier, s IdentityStore, visitorTTL time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier:   verifier,
		store:      s,
		visitorTTL: visitorTTL,
		logger:     logger.With("component", "auth"),
	}
}

// Resolve verifies credential and loads the identity it names.
// Every failure wraps ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*store.Identity, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrUnauthenticated)
	}

	claims, err := r.verifier.Verify(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	identity, err := r.store.GetIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown identity", ErrUnauthenticated)
		}
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	if identity.Role == store.RoleVisitor {
		if identity.TemporaryToken == "" || claims.VisitorToken != identity.TemporaryToken {
			return nil, fmt.Errorf("%w: visitor session revoked", ErrUnauthenticated)
		}
	}

	return identity, nil
}

// VisitorSession is a freshly issued anonymous visitor.
type VisitorSession struct {
	Identity *store.Identity
	Token    string
}

// CreateVisitorSession creates a VISITOR identity with a new temporary
// token and returns a credential for it.
func (r *Resolver) CreateVisitorSession(ctx context.Context, tenantID, displayName, email string) (*VisitorSession, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	identity := &store.Identity{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Role:           store.RoleVisitor,
		DisplayName:    displayName,
		Email:          email,
		TemporaryToken: uuid.New().String(),
	}
	if err := r.store.CreateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("creating visitor: %w", err)
	}

	token, err := r.verifier.GenerateVisitor(identity.ID, identity.TemporaryToken, r.visitorTTL)
	if err != nil {
		return nil, fmt.Errorf("signing visitor token: %w", err)
	}

	r.logger.Info("visitor session created", "identity_id", identity.ID, "tenant_id", tenantID)
	return &VisitorSession{Identity: identity, Token: token}, nil
}
