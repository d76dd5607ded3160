package postgres

import (
	"context"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// owned reads as the pool role, outside row-level policy.
type owned struct {
	s *Store
}

func (o *owned) CountOwnedOrganizations(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	err := o.s.unscoped(ctx, func(ctx context.Context, q querier) error {
		return q.QueryRow(ctx, `SELECT count(*) FROM organizations WHERE owner_id = $1`, ownerID).Scan(&n)
	})
	return n, err
}

func (o *owned) ListOwnedOrganizations(ctx context.Context, ownerID uuid.UUID) ([]store.Organization, error) {
	var out []store.Organization
	err := o.s.unscoped(ctx, func(ctx context.Context, q querier) error {
		rows, err := q.Query(ctx, `
			SELECT `+organizationColumns+` FROM organizations
			WHERE owner_id = $1
			ORDER BY created_at
		`, ownerID)
		if err != nil {
			return err
		}
		out, err = collect(rows, scanOrganization)
		return err
	})
	return out, err
}

func (o *owned) CountOwnedBusinesses(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	err := o.s.unscoped(ctx, func(ctx context.Context, q querier) error {
		return q.QueryRow(ctx, `SELECT count(*) FROM businesses WHERE owner_id = $1`, ownerID).Scan(&n)
	})
	return n, err
}

func (o *owned) ListOwnedBusinesses(ctx context.Context, ownerID uuid.UUID) ([]store.Business, error) {
	var out []store.Business
	err := o.s.unscoped(ctx, func(ctx context.Context, q querier) error {
		rows, err := q.Query(ctx, `
			SELECT `+businessColumns+` FROM businesses
			WHERE owner_id = $1
			ORDER BY created_at
		`, ownerID)
		if err != nil {
			return err
		}
		out, err = collect(rows, scanBusiness)
		return err
	})
	return out, err
}

type maintenance struct {
	s *Store
}

func (m *maintenance) HealBusinessOwners(ctx context.Context) (int64, error) {
	var healed int64
	err := m.s.unscoped(ctx, func(ctx context.Context, q querier) error {
		tag, err := q.Exec(ctx, `
			INSERT INTO business_members (business_id, identity_id, role, display_name, email)
			SELECT b.id, b.owner_id, 'owner', COALESCE(i.display_name, ''), COALESCE(i.email, '')
			FROM businesses b
			LEFT JOIN identities i ON i.id = b.owner_id
			ON CONFLICT (business_id, identity_id) DO NOTHING
		`)
		healed = tag.RowsAffected()
		return err
	})
	if err == nil && healed > 0 {
		log.Info().Int64("healed", healed).Msg("Inserted missing business owner rows")
	}
	return healed, err
}

func (m *maintenance) DeleteExpiredInvites(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := m.s.unscoped(ctx, func(ctx context.Context, q querier) error {
		tag, err := q.Exec(ctx, `
			DELETE FROM invites
			WHERE used_at IS NULL AND expires_at < $1
		`, cutoff)
		deleted = tag.RowsAffected()
		return err
	})
	return deleted, err
}

func (m *maintenance) DeleteDecidedAccessRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := m.s.unscoped(ctx, func(ctx context.Context, q querier) error {
		tag, err := q.Exec(ctx, `
			DELETE FROM access_requests
			WHERE decided_at < $1
			  AND (status = 'rejected' OR granted_at IS NOT NULL)
		`, cutoff)
		deleted = tag.RowsAffected()
		return err
	})
	return deleted, err
}
