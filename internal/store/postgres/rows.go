package postgres

import (
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/jackc/pgx/v5"
)

const (
	organizationColumns   = `id, name, owner_id, created_at, updated_at`
	orgMemberColumns      = `organization_id, identity_id, role, created_at, updated_at`
	businessColumns       = `id, organization_id, owner_id, name, type, description, created_at, updated_at`
	businessMemberColumns = `business_id, identity_id, role, display_name, email, created_at`
	inviteColumns         = `id, organization_id, email, role, code_hash, issued_by, created_at, expires_at, used_at, used_by`
	accessRequestColumns  = `id, business_id, requester_id, requester_name, requester_email, requester_message,
		requested_role, status, decided_by, decided_at, granted_at, created_at`
)

func scanOrganization(row pgx.Row) (store.Organization, error) {
	var o store.Organization
	err := row.Scan(&o.ID, &o.Name, &o.OwnerID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanOrgMember(row pgx.Row) (store.OrganizationMember, error) {
	var m store.OrganizationMember
	var role string
	err := row.Scan(&m.OrganizationID, &m.IdentityID, &role, &m.CreatedAt, &m.UpdatedAt)
	m.Role = store.Role(role)
	return m, err
}

func scanBusiness(row pgx.Row) (store.Business, error) {
	var b store.Business
	err := row.Scan(&b.ID, &b.OrganizationID, &b.OwnerID, &b.Name, &b.Type, &b.Description, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func scanBusinessMember(row pgx.Row) (store.BusinessMember, error) {
	var m store.BusinessMember
	var role string
	err := row.Scan(&m.BusinessID, &m.IdentityID, &role, &m.DisplayName, &m.Email, &m.CreatedAt)
	m.Role = store.Role(role)
	return m, err
}

func scanInvite(row pgx.Row) (store.Invite, error) {
	var inv store.Invite
	var role string
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &role, &inv.CodeHash, &inv.IssuedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.UsedAt, &inv.UsedBy)
	inv.Role = store.Role(role)
	return inv, err
}

func scanAccessRequest(row pgx.Row) (store.AccessRequest, error) {
	var r store.AccessRequest
	var role, status string
	err := row.Scan(&r.ID, &r.BusinessID, &r.RequesterID, &r.RequesterName, &r.RequesterEmail, &r.RequesterMessage,
		&role, &status, &r.DecidedBy, &r.DecidedAt, &r.GrantedAt, &r.CreatedAt)
	r.RequestedRole = store.Role(role)
	r.Status = store.AccessRequestStatus(status)
	return r, err
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		return scan(row)
	})
}
