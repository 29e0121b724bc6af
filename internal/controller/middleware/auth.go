// Package middleware contains HTTP middleware for the supervisor API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"procplane/internal/auth"
	"procplane/pkg/api"
)

// callerKey is the context key for the authenticated caller.
type callerKey struct{}

// RequireToken rejects requests whose bearer token does not hash to
// tokenHash. An empty tokenHash disables authentication.
func RequireToken(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			if !auth.TokenMatches(parts[1], tokenHash) {
				unauthorized(w, "Invalid authorization token")
				return
			}

			ctx := NewContextWithCaller(r.Context(), tokenHash)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewContextWithCaller returns a context carrying the caller identity.
func NewContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller identity set by RequireToken.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok && caller != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: msg,
		Code:  "401",
	})
}
