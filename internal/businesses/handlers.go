package businesses

import (
	"encoding/json"
	"net/http"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateRequest represents the request to create a business
type CreateRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// HandleCreate handles POST /api/v1/orgs/{org_id}/businesses
func HandleCreate(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		b, err := service.Create(ctx, identity.FromContext(ctx), orgID, CreateParams{
			Name:        req.Name,
			Type:        req.Type,
			Description: req.Description,
		})
		if err != nil {
			apperrors.WriteServiceError(w, r, err, "Failed to create business")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"business": b,
		})
	}
}
