// ABOUTME: JWT token verification and minting for staff and visitor sessions
// ABOUTME: Uses HS256 signing with a configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/livechat-gateway/internal/store"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 16

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Claims are the fields the gateway reads from a verified token.
type Claims struct {
	Subject      string
	Role         store.Role
	VisitorToken string
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts its claims. "sub" is required.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	claims := &Claims{Subject: sub}
	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = store.Role(role)
	}
	if vt, ok := mapClaims["token"].(string); ok {
		claims.VisitorToken = vt
	}
	return claims, nil
}

// Generate mints a token for a staff identity.
func (v *JWTVerifier) Generate(identityID string, role store.Role, expiresIn time.Duration) (string, error) {
	return v.sign(jwt.MapClaims{
		"sub":  identityID,
		"role": string(role),
	}, expiresIn)
}

// GenerateVisitor mints a token bound to a visitor's temporary session token.
func (v *JWTVerifier) GenerateVisitor(identityID, visitorToken string, expiresIn time.Duration) (string, error) {
	return v.sign(jwt.MapClaims{
		"sub":   identityID,
		"role":  string(store.RoleVisitor),
		"token": visitorToken,
	}, expiresIn)
}

func (v *JWTVerifier) sign(claims jwt.MapClaims, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(expiresIn).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
