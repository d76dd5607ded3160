package orgs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/telemetry"
	"github.com/aliuyar1234/bizdesk/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Issue creates an invite granting role on orgID to whoever redeems its code. Only
// owners and admins of the organization may issue invites.
func (s *Service) Issue(ctx context.Context, issuer *identity.Identity, orgID uuid.UUID, email string, role store.Role) (*IssuedInvite, error) {
	if issuer.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	scoped := scopedFor(s.port, issuer)
	if _, err := s.RequireManager(ctx, scoped, orgID, issuer.ID); err != nil {
		return nil, err
	}

	if !role.IsGrantable() {
		return nil, ErrInvalidInviteRole
	}
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		code, hash, err := GenerateInviteCode()
		if err != nil {
			return nil, err
		}

		issuedAt := s.now()
		inv := &store.Invite{
			OrganizationID: orgID,
			Email:          email,
			Role:           role,
			CodeHash:       hash,
			IssuedBy:       issuer.ID,
			CreatedAt:      issuedAt,
			ExpiresAt:      issuedAt.Add(inviteTTL),
		}

		err = scoped.CreateInvite(ctx, inv)
		if err == nil {
			if err := s.auditor.LogInviteIssued(ctx, inv); err != nil {
				log.Error().Err(err).Msg("Failed to log audit event")
			}
			telemetry.Add(ctx, telemetry.GetMetrics().InvitesIssuedTotal, 1, "role", string(role))
			return &IssuedInvite{Invite: *inv, Code: code}, nil
		}

		if errors.Is(err, store.ErrDuplicate) {
			// Code hash collision (extremely unlikely); retry.
			continue
		}
		if errors.Is(err, store.ErrPolicyDenied) {
			return nil, ErrInsufficientPermissions
		}
		return nil, apperrors.Upstream(fmt.Errorf("failed to create invite: %w", err))
	}

	return nil, fmt.Errorf("failed to create invite: code collision retry exhausted")
}

// ListOpenInvites returns the redeemable invites of orgID for its owners and admins.
func (s *Service) ListOpenInvites(ctx context.Context, id *identity.Identity, orgID uuid.UUID) ([]store.Invite, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	scoped := scopedFor(s.port, id)
	if _, err := s.RequireManager(ctx, scoped, orgID, id.ID); err != nil {
		return nil, err
	}

	invites, err := scoped.ListOpenInvites(ctx, orgID, s.now())
	if err != nil {
		return nil, apperrors.Upstream(fmt.Errorf("failed to list invites: %w", err))
	}
	return invites, nil
}

// Redeem consumes code and grants its organization membership to id. An existing
// membership is kept as is and counts as success. Of concurrent redemptions of one
// code exactly one succeeds; the others get ErrInviteAlreadyUsed.
func (s *Service) Redeem(ctx context.Context, code string, id *identity.Identity) (*store.InviteClaim, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	if !ValidateInviteCodeFormat(code) {
		return nil, s.refuse(ctx, ErrInviteNotFound)
	}
	hash := HashInviteCode(code)
	scoped := scopedFor(s.port, id)

	inv, err := scoped.FindInviteByCode(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.refuse(ctx, ErrInviteNotFound)
		}
		return nil, apperrors.Upstream(fmt.Errorf("failed to load invite: %w", err))
	}

	now := s.now()
	if err := classifyInvite(inv, now); err != nil {
		return nil, s.refuse(ctx, err)
	}

	claim, err := scoped.ClaimInvite(ctx, hash, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInviteClaimed):
			// Lost a race or expired meanwhile; report what the row says now.
			return nil, s.refuse(ctx, s.reclassify(ctx, scoped, hash, now))
		case errors.Is(err, store.ErrNotFound):
			return nil, s.refuse(ctx, ErrInviteNotFound)
		}
		return nil, apperrors.Upstream(fmt.Errorf("failed to redeem invite: %w", err))
	}

	s.invalidate(ctx, id.ID)
	if err := s.auditor.LogInviteRedeemed(ctx, claim); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
	telemetry.Add(ctx, telemetry.GetMetrics().InvitesRedeemedTotal, 1, "role", string(claim.Member.Role))

	log.Info().
		Str("identity_id", id.ID.String()).
		Str("org_id", claim.Invite.OrganizationID.String()).
		Str("invite_id", claim.Invite.ID.String()).
		Bool("member_created", claim.MemberCreated).
		Msg("Invite redeemed")

	return claim, nil
}

// classifyInvite checks expiry before use, so an expired invite is reported as
// expired whether or not it was used.
func classifyInvite(inv *store.Invite, now time.Time) error {
	if !now.Before(inv.ExpiresAt) {
		return ErrInviteExpired
	}
	if inv.UsedAt != nil {
		return ErrInviteAlreadyUsed
	}
	return nil
}

func (s *Service) reclassify(ctx context.Context, scoped store.Scoped, hash []byte, now time.Time) error {
	inv, err := scoped.FindInviteByCode(ctx, hash)
	if err != nil {
		return ErrInviteAlreadyUsed
	}
	if err := classifyInvite(inv, now); err != nil {
		return err
	}
	return ErrInviteAlreadyUsed
}

func (s *Service) refuse(ctx context.Context, err error) error {
	reason := "not_found"
	switch {
	case errors.Is(err, apperrors.ErrExpired):
		reason = "expired"
	case errors.Is(err, apperrors.ErrAlreadyUsed):
		reason = "already_used"
	}
	telemetry.Add(ctx, telemetry.GetMetrics().InviteRejectsTotal, 1, "reason", reason)
	return err
}

func (s *Service) invalidate(ctx context.Context, identityID uuid.UUID) {
	if s.resolver != nil {
		s.resolver.Invalidate(ctx, identityID)
	}
}
