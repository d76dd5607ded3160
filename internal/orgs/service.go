package orgs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/audit"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/membership"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const inviteTTL = 7 * 24 * time.Hour

var (
	// ErrOrgNotFound is returned when an organization does not exist or the caller is not a member
	ErrOrgNotFound = apperrors.New(apperrors.ErrNotFound, "organization not found")

	// ErrInsufficientPermissions is returned when a member lacks the owner or admin role
	ErrInsufficientPermissions = apperrors.New(apperrors.ErrNotAuthorized, "insufficient permissions")

	ErrInvalidInviteRole = apperrors.Validation("invite role must be admin or employee")
	ErrInviteNotFound    = apperrors.New(apperrors.ErrNotFound, "invite not found")
	ErrInviteExpired     = apperrors.New(apperrors.ErrExpired, "invite expired")
	ErrInviteAlreadyUsed = apperrors.New(apperrors.ErrAlreadyUsed, "invite already redeemed")
)

// Service provides organization onboarding and the invite lifecycle
type Service struct {
	port     store.Port
	resolver *membership.Resolver
	auditor  *audit.Writer
	now      func() time.Time
}

// NewService creates a new organization service
func NewService(port store.Port, resolver *membership.Resolver, auditor *audit.Writer) *Service {
	return &Service{
		port:     port,
		resolver: resolver,
		auditor:  auditor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IssuedInvite is an invite together with its redemption code. The code is only
// available at issue time.
type IssuedInvite struct {
	Invite store.Invite
	Code   string
}

func scopedFor(port store.Port, id *identity.Identity) store.Scoped {
	return port.Scoped(store.Caller{ID: id.ID, Email: identity.NormalizeEmail(id.Email)})
}

// CreateOrganization creates an organization owned by id together with its owner member row.
func (s *Service) CreateOrganization(ctx context.Context, id *identity.Identity, name string) (*store.Organization, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	name, err := validation.RequireName("name", name)
	if err != nil {
		return nil, err
	}

	org := &store.Organization{Name: name, OwnerID: id.ID}
	if err := scopedFor(s.port, id).CreateOrganization(ctx, org); err != nil {
		return nil, apperrors.Upstream(fmt.Errorf("failed to create organization: %w", err))
	}

	if err := s.auditor.LogOrgCreated(ctx, org); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
	s.invalidate(ctx, id.ID)

	return org, nil
}

// OrganizationRole returns the role of identityID on orgID. Ownership is honored even
// when the owner member row is not visible yet. Returns ErrOrgNotFound for non-members.
func (s *Service) OrganizationRole(ctx context.Context, scoped store.Scoped, orgID, identityID uuid.UUID) (store.Role, error) {
	member, err := scoped.GetOrganizationMember(ctx, orgID, identityID)
	if err == nil {
		return member.Role, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", apperrors.Upstream(fmt.Errorf("failed to check org membership: %w", err))
	}

	owned, err := s.port.Owned().ListOwnedOrganizations(ctx, identityID)
	if err != nil {
		return "", apperrors.Upstream(fmt.Errorf("failed to check org ownership: %w", err))
	}
	if slices.ContainsFunc(owned, func(o store.Organization) bool {
		return o.ID == orgID && o.OwnerID == identityID
	}) {
		return store.RoleOwner, nil
	}

	log.Debug().
		Str("identity_id", identityID.String()).
		Str("org_id", orgID.String()).
		Msg("RBAC: Identity is not a member of organization")
	return "", ErrOrgNotFound
}

// RequireManager checks that identityID is an owner or admin of orgID.
func (s *Service) RequireManager(ctx context.Context, scoped store.Scoped, orgID, identityID uuid.UUID) (store.Role, error) {
	role, err := s.OrganizationRole(ctx, scoped, orgID, identityID)
	if err != nil {
		return "", err
	}
	if !role.CanManage() {
		log.Warn().
			Str("identity_id", identityID.String()).
			Str("org_id", orgID.String()).
			Str("role", string(role)).
			Msg("RBAC: Insufficient permissions")
		return role, ErrInsufficientPermissions
	}
	return role, nil
}

// ListMembers returns the members of orgID. Any member may list them.
func (s *Service) ListMembers(ctx context.Context, id *identity.Identity, orgID uuid.UUID) ([]store.OrganizationMember, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	scoped := scopedFor(s.port, id)
	if _, err := s.OrganizationRole(ctx, scoped, orgID, id.ID); err != nil {
		return nil, err
	}

	members, err := scoped.ListOrganizationMembers(ctx, orgID)
	if err != nil {
		return nil, apperrors.Upstream(fmt.Errorf("failed to list members: %w", err))
	}
	return members, nil
}
