package membership

import (
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
)

// OrganizationAccess is an organization the identity may act on.
// Synthesized is set when the row was inferred from ownership and is not persisted.
type OrganizationAccess struct {
	Organization store.Organization `json:"organization"`
	Role         store.Role         `json:"role"`
	Synthesized  bool               `json:"synthesized,omitempty"`
}

// BusinessAccess is a business the identity may act on.
type BusinessAccess struct {
	Business store.Business `json:"business"`
	Role     store.Role     `json:"role"`
}

// Membership is the resolved accessible set of one identity.
type Membership struct {
	IdentityID    uuid.UUID            `json:"identity_id"`
	Organizations []OrganizationAccess `json:"organizations"`
	Businesses    []BusinessAccess     `json:"businesses"`
	ResolvedAt    time.Time            `json:"resolved_at"`
}

// Empty returns the accessible set used when resolution failed.
func Empty(identityID uuid.UUID) *Membership {
	return &Membership{
		IdentityID:    identityID,
		Organizations: []OrganizationAccess{},
		Businesses:    []BusinessAccess{},
	}
}

// OrganizationRole returns the identity's role on orgID.
func (m *Membership) OrganizationRole(orgID uuid.UUID) (store.Role, bool) {
	for _, o := range m.Organizations {
		if o.Organization.ID == orgID {
			return o.Role, true
		}
	}
	return "", false
}

// BusinessRole returns the identity's role on businessID.
func (m *Membership) BusinessRole(businessID uuid.UUID) (store.Role, bool) {
	for _, b := range m.Businesses {
		if b.Business.ID == businessID {
			return b.Role, true
		}
	}
	return "", false
}
