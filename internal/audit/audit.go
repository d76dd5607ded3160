package audit

import (
	"context"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	EventOrgCreated             = "org.created"
	EventInviteIssued           = "invite.issued"
	EventInviteRedeemed         = "invite.redeemed"
	EventBusinessCreated        = "business.created"
	EventAccessRequestSubmitted = "access_request.submitted"
	EventAccessRequestApproved  = "access_request.approved"
	EventAccessRequestRejected  = "access_request.rejected"
	EventMembershipSelfHealed   = "membership.self_healed"
)

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	OrgID      *uuid.UUID
	BusinessID *uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	Meta       map[string]any
}

// ListItem is an audit log entry as returned to organization managers.
type ListItem struct {
	ID         uuid.UUID      `json:"id"`
	Action     string         `json:"action"`
	OrgID      *uuid.UUID     `json:"org_id,omitempty"`
	BusinessID *uuid.UUID     `json:"business_id,omitempty"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	ActorEmail string         `json:"actor_email,omitempty"`
	Meta       map[string]any `json:"meta"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, params LogParams) error
	// ListByOrg returns the newest entries of an organization, including entries
	// recorded against its businesses.
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]ListItem, error)
}

// Writer provides methods to write audit log entries.
// A nil *Writer discards everything.
type Writer struct {
	store Store
}

func NewWriter(s Store) *Writer {
	return &Writer{store: s}
}

func (w *Writer) Log(ctx context.Context, params LogParams) error {
	if w == nil || w.store == nil {
		return nil
	}

	if err := w.store.Insert(ctx, params); err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Info().
		Str("action", params.Action).
		Interface("org_id", params.OrgID).
		Interface("business_id", params.BusinessID).
		Interface("actor_id", params.ActorID).
		Msg("Audit event logged")

	return nil
}

// ListByOrg clamps limit to [1, 200], defaulting to 50.
func (w *Writer) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]ListItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if w == nil || w.store == nil {
		return nil, nil
	}
	return w.store.ListByOrg(ctx, orgID, limit)
}

func (w *Writer) LogOrgCreated(ctx context.Context, org *store.Organization) error {
	return w.Log(ctx, LogParams{
		OrgID:   &org.ID,
		ActorID: &org.OwnerID,
		Action:  EventOrgCreated,
		Meta: map[string]any{
			"name": org.Name,
		},
	})
}

func (w *Writer) LogInviteIssued(ctx context.Context, inv *store.Invite) error {
	return w.Log(ctx, LogParams{
		OrgID:   &inv.OrganizationID,
		ActorID: &inv.IssuedBy,
		Action:  EventInviteIssued,
		Meta: map[string]any{
			"invite_id": inv.ID.String(),
			"email":     inv.Email,
			"role":      string(inv.Role),
		},
	})
}

func (w *Writer) LogInviteRedeemed(ctx context.Context, claim *store.InviteClaim) error {
	return w.Log(ctx, LogParams{
		OrgID:   &claim.Invite.OrganizationID,
		ActorID: &claim.Member.IdentityID,
		Action:  EventInviteRedeemed,
		Meta: map[string]any{
			"invite_id":      claim.Invite.ID.String(),
			"role":           string(claim.Member.Role),
			"member_created": claim.MemberCreated,
		},
	})
}

func (w *Writer) LogBusinessCreated(ctx context.Context, b *store.Business) error {
	return w.Log(ctx, LogParams{
		OrgID:      &b.OrganizationID,
		BusinessID: &b.ID,
		ActorID:    &b.OwnerID,
		Action:     EventBusinessCreated,
		Meta: map[string]any{
			"name": b.Name,
			"type": b.Type,
		},
	})
}

func (w *Writer) LogAccessRequestSubmitted(ctx context.Context, req *store.AccessRequest) error {
	return w.Log(ctx, LogParams{
		BusinessID: &req.BusinessID,
		ActorID:    req.RequesterID,
		Action:     EventAccessRequestSubmitted,
		Meta: map[string]any{
			"request_id":     req.ID.String(),
			"email":          req.RequesterEmail,
			"requested_role": string(req.RequestedRole),
		},
	})
}

// LogAccessRequestDecided records a decision. orgID may be nil when the business
// could not be read.
func (w *Writer) LogAccessRequestDecided(ctx context.Context, orgID *uuid.UUID, req *store.AccessRequest, actorID uuid.UUID) error {
	action := EventAccessRequestRejected
	if req.Status == store.AccessRequestApproved {
		action = EventAccessRequestApproved
	}
	return w.Log(ctx, LogParams{
		OrgID:      orgID,
		BusinessID: &req.BusinessID,
		ActorID:    &actorID,
		Action:     action,
		Meta: map[string]any{
			"request_id": req.ID.String(),
			"email":      req.RequesterEmail,
			"role":       string(req.RequestedRole),
			"granted":    req.GrantedAt != nil,
		},
	})
}

func (w *Writer) LogMembershipSelfHealed(ctx context.Context, b *store.Business) error {
	return w.Log(ctx, LogParams{
		OrgID:      &b.OrganizationID,
		BusinessID: &b.ID,
		ActorID:    &b.OwnerID,
		Action:     EventMembershipSelfHealed,
		Meta: map[string]any{
			"role": string(store.RoleOwner),
		},
	})
}
