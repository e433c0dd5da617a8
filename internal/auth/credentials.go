// ABOUTME: Extracts a bearer credential from an HTTP upgrade request
// ABOUTME: Checks cookies, then the Authorization header, then the token query parameter

package auth

import (
	"net/http"
	"strings"
)

// Cookie names carrying credentials.
const (
	StaffCookie   = "auth_token"
	VisitorCookie = "visitor_token"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// CredentialFromRequest returns the first credential present on r.
func CredentialFromRequest(r *http.Request) (string, bool) {
	for _, name := range []string{StaffCookie, VisitorCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value, true
		}
	}

	if token, msg := extractBearerToken(r.Header.Get("Authorization")); msg == "" {
		return token, true
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
