package store

import (
	"time"

	"github.com/google/uuid"
)

// Role is a member's role on an organization or business.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleEmployee:
		return true
	}
	return false
}

// IsGrantable reports whether r may be handed out through an invite or access request.
// Ownership is only ever obtained by creating the entity.
func (r Role) IsGrantable() bool {
	return r == RoleAdmin || r == RoleEmployee
}

// CanManage returns true if the role may administer the entity (issue invites, create businesses).
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Organization is the top-level tenant.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrganizationMember records an identity's role in an organization.
type OrganizationMember struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	IdentityID     uuid.UUID `json:"identity_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrganizationMembership is a member row joined with its organization.
type OrganizationMembership struct {
	Organization Organization
	Member       OrganizationMember
}

// Business is an operational unit that always belongs to one organization.
type Business struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BusinessMember records an identity's role in a business. DisplayName and Email are
// captured when the membership is granted.
type BusinessMember struct {
	BusinessID  uuid.UUID `json:"business_id"`
	IdentityID  uuid.UUID `json:"identity_id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
}

// BusinessMembership is a member row joined with its business.
type BusinessMembership struct {
	Business Business
	Member   BusinessMember
}

// Invite grants organization membership to whoever redeems its code.
// Only the SHA-256 hash of the code is persisted.
type Invite struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	CodeHash       []byte     `json:"-"`
	IssuedBy       uuid.UUID  `json:"issued_by"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	UsedBy         *uuid.UUID `json:"used_by,omitempty"`
}

// Redeemable reports whether the invite can still be redeemed at now.
func (i *Invite) Redeemable(now time.Time) bool {
	return i.UsedAt == nil && now.Before(i.ExpiresAt)
}

// AccessRequestStatus is the state of an access request.
type AccessRequestStatus string

const (
	AccessRequestPending  AccessRequestStatus = "pending"
	AccessRequestApproved AccessRequestStatus = "approved"
	AccessRequestRejected AccessRequestStatus = "rejected"
)

// IsValid reports whether s is a known status.
func (s AccessRequestStatus) IsValid() bool {
	switch s {
	case AccessRequestPending, AccessRequestApproved, AccessRequestRejected:
		return true
	}
	return false
}

// AccessRequest is an identity's request for business membership.
// RequesterID is nil when the requester could not be tied to an identity at submission.
// GrantedAt is set once the requester's BusinessMember row exists; an approved request
// with a nil GrantedAt is a deferred grant.
type AccessRequest struct {
	ID               uuid.UUID           `json:"id"`
	BusinessID       uuid.UUID           `json:"business_id"`
	RequesterID      *uuid.UUID          `json:"requester_id,omitempty"`
	RequesterName    string              `json:"requester_name"`
	RequesterEmail   string              `json:"requester_email"`
	RequesterMessage string              `json:"requester_message"`
	RequestedRole    Role                `json:"requested_role"`
	Status           AccessRequestStatus `json:"status"`
	DecidedBy        *uuid.UUID          `json:"decided_by,omitempty"`
	DecidedAt        *time.Time          `json:"decided_at,omitempty"`
	GrantedAt        *time.Time          `json:"granted_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Decision is the outcome chosen by an approver.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status returns the terminal status a decision moves a request into.
func (d Decision) Status() (AccessRequestStatus, bool) {
	switch d {
	case DecisionApprove:
		return AccessRequestApproved, true
	case DecisionReject:
		return AccessRequestRejected, true
	}
	return "", false
}
