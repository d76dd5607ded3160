package membership

import (
	"context"
	"errors"
	"net/http"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/identity"
)

// HandleSignIn handles POST /api/v1/session/sign-in
func HandleSignIn(r *Resolver) http.HandlerFunc {
	return handleResolve(r.SignedIn)
}

// HandleSignOut handles POST /api/v1/session/sign-out
func HandleSignOut(r *Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		id := identity.FromContext(ctx)
		if id.IsZero() {
			apperrors.WriteUnauthorized(w, req, "Authentication required")
			return
		}

		r.SignedOut(ctx, id.ID)

		apperrors.WriteSuccess(w, req, http.StatusOK, map[string]any{
			"signed_out": true,
		})
	}
}

// HandleMemberships handles GET /api/v1/me/memberships. ?refresh=true bypasses the cache.
func HandleMemberships(r *Resolver) http.HandlerFunc {
	resolve := handleResolve(r.Resolve)
	refresh := handleResolve(r.Refresh)
	return func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("refresh") == "true" {
			refresh(w, req)
			return
		}
		resolve(w, req)
	}
}

// handleResolve answers with the accessible set. When the store is unavailable the
// caller still gets an empty set, with a 503 and Retry-After.
func handleResolve(resolve func(context.Context, *identity.Identity) (*Membership, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := identity.FromContext(ctx)

		m, err := resolve(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrUpstreamUnavailable):
			apperrors.WriteDegraded(w, r, map[string]any{
				"membership": Empty(id.ID),
			}, "Memberships are temporarily unavailable, retry shortly")
			return
		default:
			apperrors.WriteServiceError(w, r, err, "Failed to resolve memberships")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"membership": m,
		})
	}
}
