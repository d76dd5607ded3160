package businesses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/audit"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/membership"
	"github.com/aliuyar1234/bizdesk/internal/orgs"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxTypeLength = 64

// CreateParams holds the user-supplied fields of a new business
type CreateParams struct {
	Name        string
	Type        string
	Description string
}

// Service provides business-related operations
type Service struct {
	port     store.Port
	orgs     *orgs.Service
	resolver *membership.Resolver
	auditor  *audit.Writer
}

// NewService creates a new business service
func NewService(port store.Port, orgService *orgs.Service, resolver *membership.Resolver, auditor *audit.Writer) *Service {
	return &Service{port: port, orgs: orgService, resolver: resolver, auditor: auditor}
}

// Create creates a business under orgID owned by id, with its owner member row.
// The caller must be an owner or admin of the organization.
func (s *Service) Create(ctx context.Context, id *identity.Identity, orgID uuid.UUID, params CreateParams) (*store.Business, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	scoped := s.port.Scoped(store.Caller{ID: id.ID, Email: identity.NormalizeEmail(id.Email)})
	if _, err := s.orgs.RequireManager(ctx, scoped, orgID, id.ID); err != nil {
		return nil, err
	}

	name, err := validation.RequireName("name", params.Name)
	if err != nil {
		return nil, err
	}
	kind, err := validation.OptionalText("type", params.Type, maxTypeLength)
	if err != nil {
		return nil, err
	}
	description, err := validation.OptionalText("description", params.Description, validation.MaxMessageLength)
	if err != nil {
		return nil, err
	}

	b := &store.Business{
		OrganizationID: orgID,
		OwnerID:        id.ID,
		Name:           name,
		Type:           kind,
		Description:    description,
	}
	owner := &store.BusinessMember{
		IdentityID:  id.ID,
		Role:        store.RoleOwner,
		DisplayName: id.Name,
		Email:       identity.NormalizeEmail(id.Email),
	}

	if err := scoped.CreateBusiness(ctx, b, owner); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, orgs.ErrOrgNotFound
		case errors.Is(err, store.ErrPolicyDenied):
			return nil, orgs.ErrInsufficientPermissions
		}
		return nil, apperrors.Upstream(fmt.Errorf("failed to create business: %w", err))
	}

	if err := s.auditor.LogBusinessCreated(ctx, b); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
	if s.resolver != nil {
		s.resolver.Invalidate(ctx, id.ID)
	}

	return b, nil
}
