package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerTokenAuth guards the MCP endpoint with a static bearer token
type BearerTokenAuth struct {
	token []byte
}

// NewBearerTokenAuth creates a new Bearer token authenticator.
// An empty token rejects every request.
func NewBearerTokenAuth(token string) *BearerTokenAuth {
	return &BearerTokenAuth{token: []byte(token)}
}

// IsAuthorized validates the Bearer token from the Authorization header.
// The scheme is case-insensitive; the token is compared in constant time.
func (b *BearerTokenAuth) IsAuthorized(r *http.Request) bool {
	if len(b.token) == 0 {
		return false
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), b.token) == 1
}

// SetUnauthorizedHeaders sets standard WWW-Authenticate header for Bearer auth
func (b *BearerTokenAuth) SetUnauthorizedHeaders(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="foodfit"`)
}

// Middleware rejects unauthorized requests with 401 before they reach next
func (b *BearerTokenAuth) Middleware(next http.Handler, onReject func(r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.IsAuthorized(r) {
			b.SetUnauthorizedHeaders(w)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			if onReject != nil {
				onReject(r)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
