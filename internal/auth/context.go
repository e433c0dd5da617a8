// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating the resolved identity

package auth

import (
	"context"

	"github.com/2389/livechat-gateway/internal/store"
)

// identityContextKey is the key type for storing the identity in context.Context.
type identityContextKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, identity *store.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// FromContext retrieves the identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *store.Identity {
	identity, _ := ctx.Value(identityContextKey{}).(*store.Identity)
	return identity
}
