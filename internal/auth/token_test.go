// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests staff and visitor tokens, invalid tokens, and expired tokens

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/2389/livechat-gateway/internal/store"
)

const testSecret = "test-secret-key-for-jwt-signing"

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestNewJWTVerifier_RejectsShortSecret(t *testing.T) {
	if _, err := NewJWTVerifier([]byte("short")); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTVerifier(short) error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_StaffToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("agent-123", store.RoleAgent, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "agent-123" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "agent-123")
	}
	if claims.Role != store.RoleAgent {
		t.Errorf("Role = %q, want AGENT", claims.Role)
	}
	if claims.VisitorToken != "" {
		t.Errorf("VisitorToken = %q, want empty", claims.VisitorToken)
	}
}

func TestJWTVerifier_VisitorToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.GenerateVisitor("visitor-1", "temp-abc", time.Hour)
	if err != nil {
		t.Fatalf("GenerateVisitor() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Role != store.RoleVisitor || claims.VisitorToken != "temp-abc" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other, _ := NewJWTVerifier([]byte("a-different-secret-entirely"))
				token, _ := other.Generate("agent-123", store.RoleAgent, time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("agent-123", store.RoleAgent, -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}
