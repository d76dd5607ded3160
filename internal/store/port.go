package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Caller identifies whose row-level policy applies to a Scoped view.
type Caller struct {
	ID    uuid.UUID
	Email string
}

// Port is the data access boundary of the membership core.
type Port interface {
	// Scoped returns a view whose reads only see rows the caller is authorized for
	// and whose writes are checked against the same policy.
	Scoped(caller Caller) Scoped

	// Owned returns the administrative read path. It bypasses row-level policy and
	// must only be used to recover rows owned by a given identity.
	Owned() OwnedReader

	// Maintenance returns operator-side bulk operations.
	Maintenance() Maintenance

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// Scoped is the policy-restricted view for a single caller.
type Scoped interface {
	// CreateOrganization inserts the organization and its owner member row as one unit.
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*Organization, error)
	// ListOrganizationMemberships returns the caller's own organization member rows.
	ListOrganizationMemberships(ctx context.Context) ([]OrganizationMembership, error)
	// ListOwnedOrganizations returns organizations whose owner is the caller.
	ListOwnedOrganizations(ctx context.Context) ([]Organization, error)
	GetOrganizationMember(ctx context.Context, orgID, identityID uuid.UUID) (*OrganizationMember, error)
	ListOrganizationMembers(ctx context.Context, orgID uuid.UUID) ([]OrganizationMember, error)

	// CreateBusiness inserts the business and, when owner is non-nil, its owner member row.
	CreateBusiness(ctx context.Context, b *Business, owner *BusinessMember) error
	GetBusiness(ctx context.Context, businessID uuid.UUID) (*Business, error)
	// ListBusinessMemberships returns the caller's own business member rows.
	ListBusinessMemberships(ctx context.Context) ([]BusinessMembership, error)
	// ListOwnedBusinesses returns businesses whose owner is the caller.
	ListOwnedBusinesses(ctx context.Context) ([]Business, error)
	GetBusinessMember(ctx context.Context, businessID, identityID uuid.UUID) (*BusinessMember, error)
	// InsertBusinessMember inserts m unless a row for (business, identity) exists.
	// inserted is false when the row was already present.
	InsertBusinessMember(ctx context.Context, m *BusinessMember) (inserted bool, err error)

	CreateInvite(ctx context.Context, inv *Invite) error
	ListOpenInvites(ctx context.Context, orgID uuid.UUID, now time.Time) ([]Invite, error)
	// FindInviteByCode looks an invite up by code hash. Presenting the code is what
	// makes the row visible to a caller who is not an organization manager.
	FindInviteByCode(ctx context.Context, codeHash []byte) (*Invite, error)
	// ClaimInvite marks the invite used by the caller iff it is unused and unexpired at
	// now, then inserts the caller's organization member row with the invite's role
	// unless one already exists. Both happen as one unit. Returns ErrInviteClaimed
	// when the conditional transition matched nothing.
	ClaimInvite(ctx context.Context, codeHash []byte, now time.Time) (*InviteClaim, error)

	// CreateAccessRequest inserts a pending request. RequesterID must be nil or the
	// caller. Returns ErrDuplicate when a pending request already exists for
	// (business, requester email) and ErrNotFound when the business does not exist.
	CreateAccessRequest(ctx context.Context, req *AccessRequest) error
	GetAccessRequest(ctx context.Context, requestID uuid.UUID) (*AccessRequest, error)
	ListAccessRequests(ctx context.Context, businessID uuid.UUID, status AccessRequestStatus) ([]AccessRequest, error)
	// DecideAccessRequest moves a pending request into status. When grant is non-nil the
	// request's RequesterID is set to grant.IdentityID, the member row is inserted
	// (insert-or-ignore) and GrantedAt is stamped, all as one unit.
	// Returns ErrNotFound or ErrNotPending.
	DecideAccessRequest(ctx context.Context, d AccessDecision) (*AccessRequest, error)
	// ListDeferredGrants returns approved, not yet granted requests whose requester
	// email matches the caller.
	ListDeferredGrants(ctx context.Context) ([]AccessRequest, error)
	// CompleteDeferredGrant stamps GrantedAt on the request for the caller and inserts the
	// caller's member row. Returns ErrNotPending when the grant was completed already.
	CompleteDeferredGrant(ctx context.Context, requestID uuid.UUID, member *BusinessMember, at time.Time) (inserted bool, err error)
}

// InviteClaim is the result of a successful ClaimInvite.
type InviteClaim struct {
	Invite        Invite
	Member        OrganizationMember
	MemberCreated bool
}

// AccessDecision is the input of Scoped.DecideAccessRequest.
type AccessDecision struct {
	RequestID uuid.UUID
	Status    AccessRequestStatus
	DecidedBy uuid.UUID
	DecidedAt time.Time
	Grant     *BusinessMember
}

// OwnedReader answers ownership questions without row-level policy. Callers must still
// filter results by owner id in process.
type OwnedReader interface {
	CountOwnedOrganizations(ctx context.Context, ownerID uuid.UUID) (int, error)
	ListOwnedOrganizations(ctx context.Context, ownerID uuid.UUID) ([]Organization, error)
	CountOwnedBusinesses(ctx context.Context, ownerID uuid.UUID) (int, error)
	ListOwnedBusinesses(ctx context.Context, ownerID uuid.UUID) ([]Business, error)
}

// Maintenance holds store-wide jobs run by operators and the scheduler.
type Maintenance interface {
	// HealBusinessOwners inserts the missing owner member row of every business.
	HealBusinessOwners(ctx context.Context) (int64, error)
	// DeleteExpiredInvites removes unused invites that expired before cutoff.
	DeleteExpiredInvites(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteDecidedAccessRequests removes granted or rejected requests decided before cutoff.
	DeleteDecidedAccessRequests(ctx context.Context, cutoff time.Time) (int64, error)
}
