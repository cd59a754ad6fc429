package middleware

import (
	"context"
	"net/http"
	"strings"
)

// The authentication service itself (session issuance, OTP, credential
// verification) is an external collaborator per this core's scope: by
// the time a request reaches here, auth has already happened upstream
// (reverse proxy / API gateway) and the caller presents a bearer token
// that identifies the user. This boundary does the one thing that is
// this core's concern: resolve that token to a user id and reject
// requests that carry none.

type contextKey string

const userContextKey contextKey = "user_id"

// User is the identity resolved from a request's bearer token.
type User struct {
	ID string
}

// Authenticate requires a bearer token (Authorization header, or a
// "token" query parameter for the WebSocket upgrade, which cannot set
// headers from a browser) and attaches the resolved User to the request
// context. Requests without one are rejected with 401.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			http.Error(w, "unauthorized: missing bearer token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, &User{ID: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return userID
	}
	return r.URL.Query().Get("token")
}

// GetUser extracts the authenticated user from the request context.
func GetUser(r *http.Request) *User {
	user, _ := r.Context().Value(userContextKey).(*User)
	return user
}

// GetUserID extracts just the user id, or "" if unauthenticated.
func GetUserID(r *http.Request) string {
	if user := GetUser(r); user != nil {
		return user.ID
	}
	return ""
}
