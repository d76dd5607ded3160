package accessreq

import (
	"encoding/json"
	"net/http"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SubmitRequest represents the request to file an access request
type SubmitRequest struct {
	Name    string     `json:"name"`
	Email   string     `json:"email"`
	Message string     `json:"message"`
	Role    store.Role `json:"role"`
}

// DecisionRequest represents an approver's decision
type DecisionRequest struct {
	Decision store.Decision `json:"decision"`
}

// HandleSubmit handles POST /api/v1/businesses/{business_id}/access-requests
func HandleSubmit(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		businessID, err := uuid.Parse(chi.URLParam(r, "business_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid business ID")
			return
		}

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		created, err := service.Submit(ctx, identity.FromContext(ctx), SubmitParams{
			BusinessID: businessID,
			Name:       req.Name,
			Email:      req.Email,
			Message:    req.Message,
			Role:       req.Role,
		})
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to submit access request")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"access_request": created,
		})
	}
}

// HandleList handles GET /api/v1/businesses/{business_id}/access-requests?status=pending
func HandleList(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		businessID, err := uuid.Parse(chi.URLParam(r, "business_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid business ID")
			return
		}
		status := store.AccessRequestStatus(r.URL.Query().Get("status"))

		requests, err := service.List(ctx, identity.FromContext(ctx), businessID, status)
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to list access requests")
			return
		}
		if requests == nil {
			requests = []store.AccessRequest{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"access_requests": requests,
		})
	}
}

// HandleDecide handles POST /api/v1/access-requests/{request_id}/decision
func HandleDecide(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID, err := uuid.Parse(chi.URLParam(r, "request_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid access request ID")
			return
		}

		var req DecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		decided, err := service.Decide(ctx, identity.FromContext(ctx), requestID, req.Decision)
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to decide access request")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"access_request": decided,
			"deferred":       decided.Status == store.AccessRequestApproved && decided.GrantedAt == nil,
		})
	}
}
