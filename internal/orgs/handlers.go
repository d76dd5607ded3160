package orgs

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/audit"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateRequest represents the request to create an organization
type CreateRequest struct {
	Name string `json:"name"`
}

type InviteCreateRequest struct {
	Email string     `json:"email"`
	Role  store.Role `json:"role"`
}

type InviteCreateResponse struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Role      store.Role `json:"role"`
	ExpiresAt string     `json:"expires_at"`
	Code      string     `json:"code"`
	RedeemURL string     `json:"redeem_url"`
}

type InviteRedeemRequest struct {
	Code string `json:"code"`
}

// HandleCreate handles POST /api/v1/orgs
func HandleCreate(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		org, err := service.CreateOrganization(ctx, identity.FromContext(ctx), req.Name)
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to create organization")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"org": org,
		})
	}
}

// HandleListMembers handles GET /api/v1/orgs/{org_id}/members
func HandleListMembers(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		members, err := service.ListMembers(ctx, identity.FromContext(ctx), orgID)
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to list members")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"members": members,
		})
	}
}

// HandleCreateInvite handles POST /api/v1/orgs/{org_id}/invites
func HandleCreateInvite(service *Service, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		var req InviteCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.Role == "" {
			req.Role = store.RoleEmployee
		}

		issued, err := service.Issue(ctx, identity.FromContext(ctx), orgID, req.Email, req.Role)
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to create invite")
			return
		}

		resp := InviteCreateResponse{
			ID:        issued.Invite.ID,
			Email:     issued.Invite.Email,
			Role:      issued.Invite.Role,
			ExpiresAt: issued.Invite.ExpiresAt.Format(time.RFC3339),
			Code:      issued.Code,
			RedeemURL: strings.TrimRight(baseURL, "/") + "/invites/redeem?code=" + issued.Code,
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"invite": resp,
		})
	}
}

// HandleListInvites handles GET /api/v1/orgs/{org_id}/invites
func HandleListInvites(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		invites, err := service.ListOpenInvites(ctx, identity.FromContext(ctx), orgID)
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to list invites")
			return
		}
		if invites == nil {
			invites = []store.Invite{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invites": invites,
		})
	}
}

// HandleRedeemInvite handles POST /api/v1/invites/redeem
func HandleRedeemInvite(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req InviteRedeemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		req.Code = strings.TrimSpace(req.Code)
		if req.Code == "" {
			apperrors.WriteBadRequest(w, r, "Invite code is required")
			return
		}

		claim, err := service.Redeem(ctx, req.Code, identity.FromContext(ctx))
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to redeem invite")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"redeemed":       true,
			"invite_id":      claim.Invite.ID,
			"member":         claim.Member,
			"member_created": claim.MemberCreated,
		})
	}
}

// HandleListAudit handles GET /api/v1/orgs/{org_id}/audit
func HandleListAudit(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := identity.FromContext(ctx)

		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}
		if id.IsZero() {
			apperrors.WriteUnauthorized(w, r, "Authentication required")
			return
		}

		if _, err := service.RequireManager(ctx, scopedFor(service.port, id), orgID, id.ID); err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to check permissions")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				limit = v
			}
		}

		events, err := auditor.ListByOrg(ctx, orgID, limit)
		if err != nil {
			apperrors.WriteServiceError(w, r, apperrors.Upstream(err), "Failed to list audit log")
			return
		}
		if events == nil {
			events = []audit.ListItem{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"events": events,
		})
	}
}

func orgIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid organization ID")
		return uuid.Nil, false
	}
	return orgID, true
}
