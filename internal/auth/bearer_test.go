package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerTokenAuth_IsAuthorized(t *testing.T) {
	auth := NewBearerTokenAuth("secret-token")

	tests := []struct {
		name       string
		authHeader string
		expected   bool
	}{
		{"valid bearer token", "Bearer secret-token", true},
		{"lowercase scheme", "bearer secret-token", true},
		{"trailing whitespace", "Bearer secret-token  ", true},
		{"invalid token", "Bearer wrong-token", false},
		{"token prefix only", "Bearer secret", false},
		{"missing bearer prefix", "secret-token", false},
		{"basic scheme", "Basic secret-token", false},
		{"empty header", "", false},
		{"only bearer", "Bearer", false},
		{"bearer with space only", "Bearer ", false},
		{"case sensitive token", "Bearer SECRET-TOKEN", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			assert.Equal(t, tt.expected, auth.IsAuthorized(req))
		})
	}
}

func TestBearerTokenAuth_EmptyTokenRejectsEverything(t *testing.T) {
	auth := NewBearerTokenAuth("")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	assert.False(t, auth.IsAuthorized(req))
}

func TestBearerTokenAuth_SetUnauthorizedHeaders(t *testing.T) {
	auth := NewBearerTokenAuth("test-token")
	w := httptest.NewRecorder()

	auth.SetUnauthorizedHeaders(w)

	assert.Equal(t, `Bearer realm="foodfit"`, w.Header().Get("WWW-Authenticate"))
}

func TestBearerTokenAuth_Middleware(t *testing.T) {
	auth := NewBearerTokenAuth("test-token")
	rejected := 0
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), func(*http.Request) { rejected++ })

	t.Run("authorized request reaches handler", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/mcp", nil)
		req.Header.Set("Authorization", "Bearer test-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, 0, rejected)
	})

	t.Run("unauthorized request is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/mcp", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		assert.Equal(t, 1, rejected)
	})
}
