package handlers

import (
	"net/http"

	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/types"
)

const (
	reasonAuthRequired = "Full authentication is required to access this resource"
	msgAccessDenied    = "Access denied"
)

// Unauthorized writes the 401 envelope. reason must be a short fixed phrase;
// it is shown to the client verbatim.
func Unauthorized(w http.ResponseWriter, reason string) {
	writeError(w, http.StatusUnauthorized, "Unauthorized: "+reason)
}

func forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, message)
}

// RequireAuth rejects requests that reach it without an installed identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.IdentityFrom(r.Context()); !ok {
			Unauthorized(w, reasonAuthRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only identities holding role's authority. Anonymous
// callers get 401, authenticated callers without the role get 403.
func RequireRole(role types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFrom(r.Context())
			if !ok {
				Unauthorized(w, reasonAuthRequired)
				return
			}
			if !id.HasRole(role) {
				forbidden(w, msgAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
