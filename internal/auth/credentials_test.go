// ABOUTME: Tests for credential extraction from upgrade requests
// ABOUTME: Verifies cookie, header and query precedence

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		want   string
		wantOK bool
	}{
		{
			name:  "none",
			setup: func(r *http.Request) {},
		},
		{
			name: "staff cookie wins",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: StaffCookie, Value: "staff"})
				r.AddCookie(&http.Cookie{Name: VisitorCookie, Value: "visitor"})
				r.Header.Set("Authorization", "Bearer header")
			},
			want:   "staff",
			wantOK: true,
		},
		{
			name: "visitor cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: VisitorCookie, Value: "visitor"})
				r.Header.Set("Authorization", "Bearer header")
			},
			want:   "visitor",
			wantOK: true,
		},
		{
			name: "bearer header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header")
			},
			want:   "header",
			wantOK: true,
		},
		{
			name: "malformed header falls through to query",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic abc")
				q := r.URL.Query()
				q.Set("token", "query")
				r.URL.RawQuery = q.Encode()
			},
			want:   "query",
			wantOK: true,
		},
		{
			name: "empty bearer",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer ")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.setup(r)

			got, ok := CredentialFromRequest(r)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
