package api

import (
	"context"
	"net/http"
)

// Identity is the verified caller supplied by the auth service upstream.
// The engine trusts these headers; it never checks credentials itself.
type Identity struct {
	AccountID string
	Role      string
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type ctxKey int

const identityKey ctxKey = 0

func identityFrom(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey).(Identity)
	return id
}

// withIdentity extracts the authenticated caller from the gateway
// headers and rejects anonymous requests.
func (h *Handler) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := r.Header.Get("X-Account-ID")
		if accountID == "" {
			h.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"}, r.Method, "auth")
			return
		}
		role := r.Header.Get("X-Role")
		if role == "" {
			role = RoleMember
		}
		ctx := context.WithValue(r.Context(), identityKey, Identity{AccountID: accountID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards the moderation and wallet decision endpoints.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r).Role != RoleAdmin {
			h.respondJSON(w, http.StatusForbidden, map[string]string{"error": "admin role required"}, r.Method, "auth")
			return
		}
		next.ServeHTTP(w, r)
	})
}
