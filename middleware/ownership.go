package middleware

import (
	"net/http"
	"slices"

	"github.com/credcore/credcore"
)

var (
	// ErrAuthenticationRequired is returned when an ownership check runs
	// without a guard in front of it.
	ErrAuthenticationRequired = &credcore.Error{Kind: credcore.KindForbidden, Message: "Authentication required"}
	// ErrRoleRequired rejects a caller without one of the required roles.
	ErrRoleRequired = &credcore.Error{Kind: credcore.KindForbidden, Message: "insufficient role"}
)

// RequireOwnerOrAdmin lets admins through, and other callers only when
// target(r) is their own user ID. Anyone else gets credcore.ErrNotOwner.
func RequireOwnerOrAdmin(target func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, ErrAuthenticationRequired)
				return
			}
			if claims.Role == credcore.RoleAdmin || claims.UserID == target(r) {
				next.ServeHTTP(w, r)
				return
			}
			WriteError(w, credcore.ErrNotOwner)
		})
	}
}

// RequireRole lets through callers holding any of roles.
func RequireRole(roles ...credcore.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, ErrAuthenticationRequired)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				WriteError(w, ErrRoleRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
