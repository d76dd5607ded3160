package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

type scoped struct {
	s      *Store
	caller store.Caller
}

func (v *scoped) run(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return v.s.inScope(ctx, v.caller, nil, fn)
}

func now() time.Time {
	return time.Now().UTC()
}

func (v *scoped) CreateOrganization(ctx context.Context, org *store.Organization) error {
	id := org.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ts := now()

	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO organizations (id, name, owner_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
		`, id, org.Name, org.OwnerID, ts); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO organization_members (organization_id, identity_id, role, created_at, updated_at)
			VALUES ($1, $2, 'owner', $3, $3)
		`, id, org.OwnerID, ts)
		return err
	})
	if err != nil {
		return err
	}

	org.ID = id
	org.CreatedAt, org.UpdatedAt = ts, ts
	log.Debug().Str("org_id", id.String()).Msg("Created organization")
	return nil
}

func (v *scoped) GetOrganization(ctx context.Context, orgID uuid.UUID) (*store.Organization, error) {
	var org store.Organization
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		org, err = scanOrganization(tx.QueryRow(ctx,
			`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, orgID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (v *scoped) ListOrganizationMemberships(ctx context.Context) ([]store.OrganizationMembership, error) {
	var out []store.OrganizationMembership
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT o.id, o.name, o.owner_id, o.created_at, o.updated_at,
			       m.organization_id, m.identity_id, m.role, m.created_at, m.updated_at
			FROM organization_members m
			JOIN organizations o ON o.id = m.organization_id
			WHERE m.identity_id = app_identity()
			ORDER BY m.created_at
		`)
		if err != nil {
			return err
		}
		out, err = collect(rows, func(row pgx.Row) (store.OrganizationMembership, error) {
			var om store.OrganizationMembership
			var role string
			err := row.Scan(
				&om.Organization.ID, &om.Organization.Name, &om.Organization.OwnerID,
				&om.Organization.CreatedAt, &om.Organization.UpdatedAt,
				&om.Member.OrganizationID, &om.Member.IdentityID, &role,
				&om.Member.CreatedAt, &om.Member.UpdatedAt,
			)
			om.Member.Role = store.Role(role)
			return om, err
		})
		return err
	})
	return out, err
}

func (v *scoped) ListOwnedOrganizations(ctx context.Context) ([]store.Organization, error) {
	var out []store.Organization
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+organizationColumns+` FROM organizations
			WHERE owner_id = app_identity()
			ORDER BY created_at
		`)
		if err != nil {
			return err
		}
		out, err = collect(rows, scanOrganization)
		return err
	})
	return out, err
}

func (v *scoped) GetOrganizationMember(ctx context.Context, orgID, identityID uuid.UUID) (*store.OrganizationMember, error) {
	var m store.OrganizationMember
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		m, err = scanOrgMember(tx.QueryRow(ctx, `
			SELECT `+orgMemberColumns+` FROM organization_members
			WHERE organization_id = $1 AND identity_id = $2
		`, orgID, identityID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (v *scoped) ListOrganizationMembers(ctx context.Context, orgID uuid.UUID) ([]store.OrganizationMember, error) {
	var out []store.OrganizationMember
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+orgMemberColumns+` FROM organization_members
			WHERE organization_id = $1
			ORDER BY created_at
		`, orgID)
		if err != nil {
			return err
		}
		out, err = collect(rows, scanOrgMember)
		return err
	})
	return out, err
}

func (v *scoped) CreateBusiness(ctx context.Context, b *store.Business, owner *store.BusinessMember) error {
	id := b.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ts := now()

	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		// Policy would reject an insert under an invisible organization; report it
		// the way a missing one is reported.
		var visible bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, b.OrganizationID,
		).Scan(&visible); err != nil {
			return err
		}
		if !visible {
			return store.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO businesses (id, organization_id, owner_id, name, type, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, id, b.OrganizationID, b.OwnerID, b.Name, b.Type, b.Description, ts); err != nil {
			return err
		}
		if owner == nil {
			return nil
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO business_members (business_id, identity_id, role, display_name, email, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (business_id, identity_id) DO NOTHING
		`, id, owner.IdentityID, string(owner.Role), owner.DisplayName, owner.Email, ts)
		return err
	})
	if err != nil {
		return err
	}

	b.ID = id
	b.CreatedAt, b.UpdatedAt = ts, ts
	if owner != nil {
		owner.BusinessID = id
		owner.CreatedAt = ts
	}
	return nil
}

func (v *scoped) GetBusiness(ctx context.Context, businessID uuid.UUID) (*store.Business, error) {
	var b store.Business
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		b, err = scanBusiness(tx.QueryRow(ctx,
			`SELECT `+businessColumns+` FROM businesses WHERE id = $1`, businessID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (v *scoped) ListBusinessMemberships(ctx context.Context) ([]store.BusinessMembership, error) {
	var out []store.BusinessMembership
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT b.id, b.organization_id, b.owner_id, b.name, b.type, b.description, b.created_at, b.updated_at,
			       m.business_id, m.identity_id, m.role, m.display_name, m.email, m.created_at
			FROM business_members m
			JOIN businesses b ON b.id = m.business_id
			WHERE m.identity_id = app_identity()
			ORDER BY m.created_at
		`)
		if err != nil {
			return err
		}
		out, err = collect(rows, func(row pgx.Row) (store.BusinessMembership, error) {
			var bm store.BusinessMembership
			var role string
			err := row.Scan(
				&bm.Business.ID, &bm.Business.OrganizationID, &bm.Business.OwnerID, &bm.Business.Name,
				&bm.Business.Type, &bm.Business.Description, &bm.Business.CreatedAt, &bm.Business.UpdatedAt,
				&bm.Member.BusinessID, &bm.Member.IdentityID, &role, &bm.Member.DisplayName,
				&bm.Member.Email, &bm.Member.CreatedAt,
			)
			bm.Member.Role = store.Role(role)
			return bm, err
		})
		return err
	})
	return out, err
}

func (v *scoped) ListOwnedBusinesses(ctx context.Context) ([]store.Business, error) {
	var out []store.Business
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+businessColumns+` FROM businesses
			WHERE owner_id = app_identity()
			ORDER BY created_at
		`)
		if err != nil {
			return err
		}
		out, err = collect(rows, scanBusiness)
		return err
	})
	return out, err
}

func (v *scoped) GetBusinessMember(ctx context.Context, businessID, identityID uuid.UUID) (*store.BusinessMember, error) {
	var m store.BusinessMember
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		m, err = scanBusinessMember(tx.QueryRow(ctx, `
			SELECT `+businessMemberColumns+` FROM business_members
			WHERE business_id = $1 AND identity_id = $2
		`, businessID, identityID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (v *scoped) InsertBusinessMember(ctx context.Context, m *store.BusinessMember) (bool, error) {
	ts := m.CreatedAt
	if ts.IsZero() {
		ts = now()
	}
	var inserted bool
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		inserted, err = insertBusinessMember(ctx, tx, m, ts)
		return err
	})
	if err == nil && inserted {
		m.CreatedAt = ts
	}
	return inserted, err
}

// insertBusinessMember inserts m unless the (business, identity) row exists.
func insertBusinessMember(ctx context.Context, tx pgx.Tx, m *store.BusinessMember, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO business_members (business_id, identity_id, role, display_name, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (business_id, identity_id) DO NOTHING
	`, m.BusinessID, m.IdentityID, string(m.Role), m.DisplayName, m.Email, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (v *scoped) CreateInvite(ctx context.Context, inv *store.Invite) error {
	id := inv.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}

	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO invites (id, organization_id, email, role, code_hash, issued_by, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, inv.OrganizationID, inv.Email, string(inv.Role), inv.CodeHash, inv.IssuedBy, createdAt, inv.ExpiresAt)
		return err
	})
	if err != nil {
		return err
	}
	inv.ID = id
	inv.CreatedAt = createdAt
	return nil
}

func (v *scoped) ListOpenInvites(ctx context.Context, orgID uuid.UUID, at time.Time) ([]store.Invite, error) {
	var out []store.Invite
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+inviteColumns+` FROM invites
			WHERE organization_id = $1 AND used_at IS NULL AND expires_at > $2
			ORDER BY created_at
		`, orgID, at)
		if err != nil {
			return err
		}
		out, err = collect(rows, scanInvite)
		return err
	})
	return out, err
}

func (v *scoped) FindInviteByCode(ctx context.Context, codeHash []byte) (*store.Invite, error) {
	var inv store.Invite
	err := v.s.inScope(ctx, v.caller, codeHash, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		inv, err = scanInvite(tx.QueryRow(ctx,
			`SELECT `+inviteColumns+` FROM invites WHERE code_hash = $1`, codeHash))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (v *scoped) ClaimInvite(ctx context.Context, codeHash []byte, at time.Time) (*store.InviteClaim, error) {
	claim := &store.InviteClaim{}
	err := v.s.inScope(ctx, v.caller, codeHash, func(ctx context.Context, tx pgx.Tx) error {
		// The row lock serializes concurrent claims; a waiting claim re-checks
		// used_at after the winner commits and matches nothing.
		inv, err := scanInvite(tx.QueryRow(ctx, `
			UPDATE invites SET used_at = $2, used_by = app_identity()
			WHERE code_hash = $1 AND used_at IS NULL AND expires_at > $2
			RETURNING `+inviteColumns, codeHash, at))
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM invites WHERE code_hash = $1)`, codeHash,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return store.ErrNotFound
			}
			return store.ErrInviteClaimed
		}
		if err != nil {
			return err
		}
		claim.Invite = inv

		member, err := scanOrgMember(tx.QueryRow(ctx, `
			INSERT INTO organization_members (organization_id, identity_id, role, created_at, updated_at)
			VALUES ($1, app_identity(), $2, $3, $3)
			ON CONFLICT (organization_id, identity_id) DO NOTHING
			RETURNING `+orgMemberColumns, inv.OrganizationID, string(inv.Role), at))
		if err == nil {
			claim.Member = member
			claim.MemberCreated = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		// Already a member: the existing role stands.
		claim.Member, err = scanOrgMember(tx.QueryRow(ctx, `
			SELECT `+orgMemberColumns+` FROM organization_members
			WHERE organization_id = $1 AND identity_id = app_identity()
		`, inv.OrganizationID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (v *scoped) CreateAccessRequest(ctx context.Context, req *store.AccessRequest) error {
	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}

	// No RETURNING: a request filed for another address is not visible to its submitter.
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO access_requests (
				id, business_id, requester_id, requester_name, requester_email, requester_message,
				requested_role, status, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, id, req.BusinessID, req.RequesterID, req.RequesterName, req.RequesterEmail, req.RequesterMessage,
			string(req.RequestedRole), string(req.Status), createdAt)
		return err
	})
	if err != nil {
		return err
	}
	req.ID = id
	req.CreatedAt = createdAt
	return nil
}

func (v *scoped) GetAccessRequest(ctx context.Context, requestID uuid.UUID) (*store.AccessRequest, error) {
	var r store.AccessRequest
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		r, err = scanAccessRequest(tx.QueryRow(ctx,
			`SELECT `+accessRequestColumns+` FROM access_requests WHERE id = $1`, requestID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (v *scoped) ListAccessRequests(ctx context.Context, businessID uuid.UUID, status store.AccessRequestStatus) ([]store.AccessRequest, error) {
	var out []store.AccessRequest
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+accessRequestColumns+` FROM access_requests
			WHERE business_id = $1 AND ($2 = '' OR status = $2)
			ORDER BY created_at
		`, businessID, string(status))
		if err != nil {
			return err
		}
		out, err = collect(rows, scanAccessRequest)
		return err
	})
	return out, err
}

func (v *scoped) DecideAccessRequest(ctx context.Context, d store.AccessDecision) (*store.AccessRequest, error) {
	var decided store.AccessRequest
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var businessID uuid.UUID
		if err := tx.QueryRow(ctx,
			`SELECT business_id FROM access_requests WHERE id = $1`, d.RequestID,
		).Scan(&businessID); err != nil {
			return err
		}

		var approver bool
		if err := tx.QueryRow(ctx,
			`SELECT app_business_role($1) IS NOT NULL OR app_owns_business($1)`, businessID,
		).Scan(&approver); err != nil {
			return err
		}
		if !approver {
			return store.ErrPolicyDenied
		}

		var grantee *uuid.UUID
		if d.Grant != nil && d.Status == store.AccessRequestApproved {
			id := d.Grant.IdentityID
			grantee = &id
		}

		var err error
		decided, err = scanAccessRequest(tx.QueryRow(ctx, `
			UPDATE access_requests
			SET status = $2,
			    decided_by = $3,
			    decided_at = $4,
			    requester_id = COALESCE($5::uuid, requester_id),
			    granted_at = CASE WHEN $5::uuid IS NULL THEN NULL ELSE $4 END
			WHERE id = $1 AND status = 'pending'
			RETURNING `+accessRequestColumns,
			d.RequestID, string(d.Status), d.DecidedBy, d.DecidedAt, grantee))
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotPending
		}
		if err != nil || grantee == nil {
			return err
		}

		grant := *d.Grant
		grant.BusinessID = businessID
		_, err = insertBusinessMember(ctx, tx, &grant, d.DecidedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &decided, nil
}

func (v *scoped) ListDeferredGrants(ctx context.Context) ([]store.AccessRequest, error) {
	if v.caller.Email == "" {
		return nil, nil
	}
	var out []store.AccessRequest
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+accessRequestColumns+` FROM access_requests
			WHERE status = 'approved' AND granted_at IS NULL AND requester_email = app_identity_email()
			ORDER BY created_at
		`)
		if err != nil {
			return err
		}
		out, err = collect(rows, scanAccessRequest)
		return err
	})
	return out, err
}

func (v *scoped) CompleteDeferredGrant(ctx context.Context, requestID uuid.UUID, member *store.BusinessMember, at time.Time) (bool, error) {
	if member.IdentityID != v.caller.ID {
		return false, store.ErrPolicyDenied
	}

	var inserted bool
	err := v.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var businessID uuid.UUID
		var role string
		err := tx.QueryRow(ctx, `
			UPDATE access_requests
			SET requester_id = app_identity(), granted_at = $2
			WHERE id = $1 AND status = 'approved' AND granted_at IS NULL
			  AND requester_email = app_identity_email() AND requested_role = $3
			RETURNING business_id, requested_role
		`, requestID, at, string(member.Role)).Scan(&businessID, &role)
		if errors.Is(err, pgx.ErrNoRows) {
			var status string
			if err := tx.QueryRow(ctx, `
				SELECT status FROM access_requests
				WHERE id = $1 AND requester_email = app_identity_email()
			`, requestID).Scan(&status); err != nil {
				return err
			}
			return store.ErrNotPending
		}
		if err != nil {
			return err
		}

		grant := *member
		grant.BusinessID = businessID
		grant.Role = store.Role(role)
		inserted, err = insertBusinessMember(ctx, tx, &grant, at)
		return err
	})
	return inserted, err
}
