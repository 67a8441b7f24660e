package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

// 1. Define Context Keys (Exported so other packages can read them)
type contextKey string

const (
	AgentKey     contextKey = "agent_id"
	AgentNameKey contextKey = "agent_name"
)

// 2. Define what we need from the auth package
// This interface decouples 'middleware' from 'auth'
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

// 3. The Middleware Structure
type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects requests without a valid token.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return am.wrap(next, true)
}

// Optional lets anonymous requests through (customers) but still rejects a
// token that is present and invalid.
func (am *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return am.wrap(next, false)
}

func (am *AuthMiddleware) wrap(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFromRequest(r)

		if tokenString == "" {
			if required {
				http.Error(w, "Missing authentication token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		// Validate using the interface
		agentID, name, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Inject into Context
		ctx := context.WithValue(r.Context(), AgentKey, agentID)
		ctx = context.WithValue(ctx, AgentNameKey, name)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	// Check Authorization Header
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 {
			return parts[1]
		}
	}
	// Fallback: Check Query Param (browsers cannot set headers on websocket upgrades)
	return r.URL.Query().Get("token")
}
