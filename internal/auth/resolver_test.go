// ABOUTME: Tests for credential resolution and visitor session issuance
// ABOUTME: Uses the mock store for identities

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livechat-gateway/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.MockStore, *JWTVerifier) {
	t.Helper()
	s := store.NewMockStore()
	v := newTestVerifier(t)
	return NewResolver(v, s, time.Hour, nil), s, v
}

func TestResolver_StaffIdentity(t *testing.T) {
	r, s, v := newTestResolver(t)
	ctx := t.Context()
	require.NoError(t, s.CreateIdentity(ctx, &store.Identity{ID: "agent-1", TenantID: "t1", Role: store.RoleAgent}))

	token, err := v.Generate("agent-1", store.RoleAgent, time.Hour)
	require.NoError(t, err)

	identity, err := r.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", identity.ID)
	assert.Equal(t, store.RoleAgent, identity.Role)
}

func TestResolver_Failures(t *testing.T) {
	r, s, v := newTestResolver(t)
	ctx := t.Context()
	require.NoError(t, s.CreateIdentity(ctx, &store.Identity{ID: "v1", TenantID: "t1", Role: store.RoleVisitor, TemporaryToken: "current"}))

	staleVisitor, _ := v.GenerateVisitor("v1", "old", time.Hour)
	noTokenVisitor, _ := v.Generate("v1", store.RoleVisitor, time.Hour)
	unknown, _ := v.Generate("ghost", store.RoleAgent, time.Hour)

	tests := []struct {
		name       string
		credential string
	}{
		{"empty", ""},
		{"garbage", "nope"},
		{"unknown identity", unknown},
		{"stale visitor token", staleVisitor},
		{"visitor without session token", noTokenVisitor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.credential)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestResolver_VisitorSessionRoundTrip(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := t.Context()

	session, err := r.CreateVisitorSession(ctx, "t1", "Guest", "")
	require.NoError(t, err)
	assert.Equal(t, store.RoleVisitor, session.Identity.Role)
	assert.NotEmpty(t, session.Identity.TemporaryToken)

	identity, err := r.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Identity.ID, identity.ID)

	_, err = r.CreateVisitorSession(ctx, "", "Guest", "")
	assert.Error(t, err)
}

func TestContext_RoundTrip(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	identity := &store.Identity{ID: "u1"}
	ctx := WithIdentity(context.Background(), identity)
	assert.Same(t, identity, FromContext(ctx))
}
