package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"rosterd.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

// withAuth is the token gate in front of the organization routes. Every
// failure mode (missing header, malformed token, bad signature, expired)
// collapses to the same 401 so callers learn nothing about which check
// tripped.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := tokenFromHeader(r.Header.Get(authHeader))
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		principal, err := a.tokens.Validate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// tokenFromHeader accepts both a bare token and the Bearer scheme.
func tokenFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if strings.HasPrefix(header, bearerPrefix) {
		header = strings.TrimSpace(header[len(bearerPrefix):])
	}
	return header
}

// requireMembership resolves the caller's staff record in the organization.
// A caller with a valid token but no membership gets 403, never a peek at
// the organization's data.
func (a *API) requireMembership(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) (auth.Membership, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return auth.Membership{}, false
	}

	membership, err := a.directory.Membership(r.Context(), orgID, principal.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusForbidden, "not a member of this organization")
		} else {
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return auth.Membership{}, false
	}
	return membership, true
}

// requireAdmin layers the admin capability on top of membership.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) (auth.Membership, bool) {
	membership, ok := a.requireMembership(w, r, orgID)
	if !ok {
		return auth.Membership{}, false
	}
	if !membership.Admin {
		writeError(w, r, http.StatusForbidden, "admin access required")
		return auth.Membership{}, false
	}
	return membership, true
}
