// Package accessreq implements the access request workflow: an identity asks for
// business membership and an existing member of the business decides.
package accessreq

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
	"github.com/aliuyar1234/bizdesk/internal/notify"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/telemetry"
	"github.com/aliuyar1234/bizdesk/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestNotFound  = apperrors.New(apperrors.ErrNotFound, "access request not found")
	ErrBusinessNotFound = apperrors.New(apperrors.ErrNotFound, "business not found")
	ErrNotApprover      = apperrors.New(apperrors.ErrNotAuthorized, "only members of the business may decide access requests")
	ErrAlreadyDecided   = apperrors.New(apperrors.ErrAlreadyDecided, "access request was already decided")
	ErrPendingExists    = apperrors.New(apperrors.ErrConflict, "a pending access request already exists for this email")
	ErrInvalidRole      = apperrors.Validation("requested role must be admin or employee")
	ErrInvalidDecision  = apperrors.Validation("decision must be approve or reject")
	ErrInvalidStatus    = apperrors.Validation("status must be pending, approved or rejected")
)

// SubmitParams holds the requester-supplied fields of a new access request
type SubmitParams struct {
	BusinessID uuid.UUID
	Name       string
	Email      string
	Message    string
	Role       store.Role
}

// Service runs the access request workflow
type Service struct {
	port      store.Port
	resolver  *membership.Resolver
	directory identity.Directory
	auditor   *audit.Writer
	notifier  *notify.Client
	baseURL   string
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithDirectory enables email to identity resolution at approval time.
func WithDirectory(d identity.Directory) Option {
	return func(s *Service) { s.directory = d }
}

// WithNotifier announces new requests through n. baseURL is used for review links.
func WithNotifier(n *notify.Client, baseURL string) Option {
	return func(s *Service) {
		s.notifier = n
		s.baseURL = baseURL
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new access request service
func NewService(port store.Port, resolver *membership.Resolver, auditor *audit.Writer, opts ...Option) *Service {
	s := &Service{
		port:     port,
		resolver: resolver,
		auditor:  auditor,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scopedFor(port store.Port, id *identity.Identity) store.Scoped {
	return port.Scoped(store.Caller{ID: id.ID, Email: identity.NormalizeEmail(id.Email)})
}

// Submit files a pending access request. Any authenticated identity may submit,
// including one without any membership. The request is tied to the submitting
// identity only when the requester email is that identity's own email.
func (s *Service) Submit(ctx context.Context, id *identity.Identity, params SubmitParams) (*store.AccessRequest, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}

	name := params.Name
	if name == "" {
		name = id.Name
	}
	name, err := validation.RequireName("name", name)
	if err != nil {
		return nil, err
	}
	rawEmail := params.Email
	if rawEmail == "" {
		rawEmail = id.Email
	}
	email, err := validation.NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	message, err := validation.OptionalText("message", params.Message, validation.MaxMessageLength)
	if err != nil {
		return nil, err
	}
	role := params.Role
	if role == "" {
		role = store.RoleEmployee
	}
	if !role.IsGrantable() {
		return nil, ErrInvalidRole
	}

	req := &store.AccessRequest{
		BusinessID:       params.BusinessID,
		RequesterName:    name,
		RequesterEmail:   email,
		RequesterMessage: message,
		RequestedRole:    role,
		Status:           store.AccessRequestPending,
		CreatedAt:        s.now(),
	}
	if email == identity.NormalizeEmail(id.Email) {
		requester := id.ID
		req.RequesterID = &requester
	}

	if err := scopedFor(s.port, id).CreateAccessRequest(ctx, req); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrPendingExists
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrBusinessNotFound
		}
		return nil, apperrors.Upstream(fmt.Errorf("failed to create access request: %w", err))
	}

	if err := s.auditor.LogAccessRequestSubmitted(ctx, req); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
	telemetry.Add(ctx, telemetry.GetMetrics().AccessRequestsTotal, 1, "role", string(role))

	log.Info().
		Str("request_id", req.ID.String()).
		Str("business_id", req.BusinessID.String()).
		Bool("identity_bound", req.RequesterID != nil).
		Msg("Access request submitted")

	s.notifier.PostAccessRequest(ctx, notify.AccessRequestMessage{
		RequestID:      req.ID.String(),
		BusinessID:     req.BusinessID.String(),
		RequesterName:  req.RequesterName,
		RequesterEmail: req.RequesterEmail,
		RequestedRole:  string(req.RequestedRole),
		Message:        req.RequesterMessage,
		ReviewURL:      s.reviewURL(req.BusinessID),
	})

	return req, nil
}

// Approve approves a pending request and grants the requester its requested role.
func (s *Service) Approve(ctx context.Context, approver *identity.Identity, requestID uuid.UUID) (*store.AccessRequest, error) {
	return s.Decide(ctx, approver, requestID, store.DecisionApprove)
}

// Reject rejects a pending request. Nothing is granted.
func (s *Service) Reject(ctx context.Context, approver *identity.Identity, requestID uuid.UUID) (*store.AccessRequest, error) {
	return s.Decide(ctx, approver, requestID, store.DecisionReject)
}

// Decide moves a pending request into its terminal state. Only an identity holding a
// role on the request's business may decide, and only once.
//
// An approval grants membership to the requester, never to the approver. When the
// requester cannot be tied to an identity yet, the approval is stored with the grant
// deferred; the requester's next resolution claims it by email.
func (s *Service) Decide(ctx context.Context, approver *identity.Identity, requestID uuid.UUID, decision store.Decision) (*store.AccessRequest, error) {
	if approver.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	status, ok := decision.Status()
	if !ok {
		return nil, ErrInvalidDecision
	}
	scoped := scopedFor(s.port, approver)

	req, err := scoped.GetAccessRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, apperrors.Upstream(fmt.Errorf("failed to load access request: %w", err))
	}
	if err := s.authorize(ctx, scoped, req.BusinessID, approver); err != nil {
		return nil, err
	}
	if req.Status != store.AccessRequestPending {
		return nil, ErrAlreadyDecided
	}

	d := store.AccessDecision{
		RequestID: requestID,
		Status:    status,
		DecidedBy: approver.ID,
		DecidedAt: s.now(),
	}
	if status == store.AccessRequestApproved {
		grant, err := s.resolveGrant(ctx, req)
		if err != nil {
			return nil, err
		}
		d.Grant = grant
	}

	decided, err := scoped.DecideAccessRequest(ctx, d)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotPending):
			return nil, ErrAlreadyDecided
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrRequestNotFound
		case errors.Is(err, store.ErrPolicyDenied):
			return nil, ErrNotApprover
		}
		return nil, apperrors.Upstream(fmt.Errorf("failed to decide access request: %w", err))
	}

	if d.Grant != nil && s.resolver != nil {
		s.resolver.Invalidate(ctx, d.Grant.IdentityID)
	}
	s.logDecision(ctx, scoped, decided, approver.ID)
	telemetry.Add(ctx, telemetry.GetMetrics().AccessDecisionsTotal, 1,
		"status", string(decided.Status), "deferred", fmt.Sprint(status == store.AccessRequestApproved && decided.GrantedAt == nil))

	log.Info().
		Str("request_id", decided.ID.String()).
		Str("business_id", decided.BusinessID.String()).
		Str("approver_id", approver.ID.String()).
		Str("status", string(decided.Status)).
		Bool("granted", decided.GrantedAt != nil).
		Msg("Access request decided")

	return decided, nil
}

// List returns the requests of businessID, optionally filtered by status. Only
// members of the business may list them.
func (s *Service) List(ctx context.Context, id *identity.Identity, businessID uuid.UUID, status store.AccessRequestStatus) ([]store.AccessRequest, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	if status != "" && !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	scoped := scopedFor(s.port, id)
	if err := s.authorize(ctx, scoped, businessID, id); err != nil {
		return nil, err
	}

	requests, err := scoped.ListAccessRequests(ctx, businessID, status)
	if err != nil {
		return nil, apperrors.Upstream(fmt.Errorf("failed to list access requests: %w", err))
	}
	return requests, nil
}

// authorize checks that id holds a role on businessID. An owner whose member row is
// missing is let through and the row is written.
func (s *Service) authorize(ctx context.Context, scoped store.Scoped, businessID uuid.UUID, id *identity.Identity) error {
	_, err := scoped.GetBusinessMember(ctx, businessID, id.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return apperrors.Upstream(fmt.Errorf("failed to check business membership: %w", err))
	}

	owned, err := s.port.Owned().ListOwnedBusinesses(ctx, id.ID)
	if err != nil {
		return apperrors.Upstream(fmt.Errorf("failed to check business ownership: %w", err))
	}
	i := slices.IndexFunc(owned, func(b store.Business) bool {
		return b.ID == businessID && b.OwnerID == id.ID
	})
	if i < 0 {
		log.Warn().
			Str("identity_id", id.ID.String()).
			Str("business_id", businessID.String()).
			Msg("RBAC: Identity is not a member of business")
		return ErrNotApprover
	}

	owner := &store.BusinessMember{
		BusinessID:  businessID,
		IdentityID:  id.ID,
		Role:        store.RoleOwner,
		DisplayName: id.Name,
		Email:       identity.NormalizeEmail(id.Email),
	}
	inserted, err := scoped.InsertBusinessMember(ctx, owner)
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		// The decision itself is still authorized by ownership.
		log.Warn().Err(err).Str("business_id", businessID.String()).Msg("Failed to heal owner membership")
		return nil
	}
	if inserted {
		telemetry.Add(ctx, telemetry.GetMetrics().SelfHealedTotal, 1, "path", "access_request")
		if err := s.auditor.LogMembershipSelfHealed(ctx, &owned[i]); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}
		if s.resolver != nil {
			s.resolver.Invalidate(ctx, id.ID)
		}
	}
	return nil
}

// resolveGrant returns the member row an approval should create, or nil when the
// requester cannot be tied to an identity yet.
func (s *Service) resolveGrant(ctx context.Context, req *store.AccessRequest) (*store.BusinessMember, error) {
	grant := &store.BusinessMember{
		BusinessID:  req.BusinessID,
		Role:        req.RequestedRole,
		DisplayName: req.RequesterName,
		Email:       req.RequesterEmail,
	}
	if req.RequesterID != nil {
		grant.IdentityID = *req.RequesterID
		return grant, nil
	}
	if s.directory == nil {
		return nil, nil
	}

	found, err := s.directory.LookupByEmail(ctx, req.RequesterEmail)
	switch {
	case err == nil:
		grant.IdentityID = found.ID
		return grant, nil
	case errors.Is(err, identity.ErrUnknownEmail):
		return nil, nil
	}
	return nil, apperrors.Upstream(fmt.Errorf("failed to look up requester: %w", err))
}

func (s *Service) logDecision(ctx context.Context, scoped store.Scoped, req *store.AccessRequest, actorID uuid.UUID) {
	var orgID *uuid.UUID
	if b, err := scoped.GetBusiness(ctx, req.BusinessID); err == nil {
		orgID = &b.OrganizationID
	} else {
		log.Warn().Err(err).Str("business_id", req.BusinessID.String()).Msg("Failed to load business for audit")
	}
	if err := s.auditor.LogAccessRequestDecided(ctx, orgID, req, actorID); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
}

func (s *Service) reviewURL(businessID uuid.UUID) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/businesses/%s/access-requests", s.baseURL, businessID)
}
