package memory

import (
	"bytes"
	"context"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
)

type scoped struct {
	s      *Store
	caller store.Caller
}

func (v *scoped) CreateOrganization(ctx context.Context, org *store.Organization) error {
	if err := v.s.begin(ctx, "CreateOrganization"); err != nil {
		return err
	}
	if org.OwnerID != v.caller.ID {
		return store.ErrPolicyDenied
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if _, exists := v.s.orgs[org.ID]; exists {
		return store.ErrDuplicate
	}
	ts := now()
	org.CreatedAt, org.UpdatedAt = ts, ts

	o := *org
	v.s.orgs[o.ID] = &o
	v.s.orgMembers[memberKey{o.ID, o.OwnerID}] = &store.OrganizationMember{
		OrganizationID: o.ID,
		IdentityID:     o.OwnerID,
		Role:           store.RoleOwner,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	return nil
}

func (v *scoped) GetOrganization(ctx context.Context, orgID uuid.UUID) (*store.Organization, error) {
	if err := v.s.begin(ctx, "GetOrganization"); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	o, ok := v.s.orgs[orgID]
	if !ok || !v.s.seesOrg(orgID, v.caller.ID) {
		return nil, store.ErrNotFound
	}
	out := *o
	return &out, nil
}

func (v *scoped) ListOrganizationMemberships(ctx context.Context) ([]store.OrganizationMembership, error) {
	if err := v.s.begin(ctx, "ListOrganizationMemberships"); err != nil {
		return nil, err
	}
	if v.s.lagging() {
		return nil, nil
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var out []store.OrganizationMembership
	for k, m := range v.s.orgMembers {
		if k.identity != v.caller.ID {
			continue
		}
		o, ok := v.s.orgs[k.parent]
		if !ok {
			continue
		}
		out = append(out, store.OrganizationMembership{Organization: *o, Member: *m})
	}
	sortByCreated(out, func(m store.OrganizationMembership) time.Time { return m.Member.CreatedAt })
	return out, nil
}

func (v *scoped) ListOwnedOrganizations(ctx context.Context) ([]store.Organization, error) {
	if err := v.s.begin(ctx, "ListOwnedOrganizations"); err != nil {
		return nil, err
	}
	if v.s.lagging() {
		return nil, nil
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.ownedOrganizations(v.caller.ID), nil
}

func (v *scoped) GetOrganizationMember(ctx context.Context, orgID, identityID uuid.UUID) (*store.OrganizationMember, error) {
	if err := v.s.begin(ctx, "GetOrganizationMember"); err != nil {
		return nil, err
	}
	if v.s.lagging() {
		return nil, store.ErrNotFound
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	m, ok := v.s.orgMembers[memberKey{orgID, identityID}]
	if !ok || (identityID != v.caller.ID && !v.s.seesOrg(orgID, v.caller.ID)) {
		return nil, store.ErrNotFound
	}
	out := *m
	return &out, nil
}

func (v *scoped) ListOrganizationMembers(ctx context.Context, orgID uuid.UUID) ([]store.OrganizationMember, error) {
	if err := v.s.begin(ctx, "ListOrganizationMembers"); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	if !v.s.seesOrg(orgID, v.caller.ID) {
		return nil, nil
	}
	var out []store.OrganizationMember
	for k, m := range v.s.orgMembers {
		if k.parent == orgID {
			out = append(out, *m)
		}
	}
	sortByCreated(out, func(m store.OrganizationMember) time.Time { return m.CreatedAt })
	return out, nil
}

func (v *scoped) CreateBusiness(ctx context.Context, b *store.Business, owner *store.BusinessMember) error {
	if err := v.s.begin(ctx, "CreateBusiness"); err != nil {
		return err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.orgs[b.OrganizationID]; !ok {
		return store.ErrNotFound
	}
	if b.OwnerID != v.caller.ID || !v.s.managesOrg(b.OrganizationID, v.caller.ID) {
		return store.ErrPolicyDenied
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if _, exists := v.s.businesses[b.ID]; exists {
		return store.ErrDuplicate
	}
	ts := now()
	b.CreatedAt, b.UpdatedAt = ts, ts

	nb := *b
	v.s.businesses[nb.ID] = &nb
	if owner != nil {
		owner.BusinessID = nb.ID
		owner.CreatedAt = ts
		m := *owner
		v.s.bizMembers[memberKey{nb.ID, m.IdentityID}] = &m
	}
	return nil
}

func (v *scoped) GetBusiness(ctx context.Context, businessID uuid.UUID) (*store.Business, error) {
	if err := v.s.begin(ctx, "GetBusiness"); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	b, ok := v.s.businesses[businessID]
	if !ok || !v.s.seesBusiness(b, v.caller.ID) {
		return nil, store.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (v *scoped) ListBusinessMemberships(ctx context.Context) ([]store.BusinessMembership, error) {
	if err := v.s.begin(ctx, "ListBusinessMemberships"); err != nil {
		return nil, err
	}
	if v.s.lagging() {
		return nil, nil
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var out []store.BusinessMembership
	for k, m := range v.s.bizMembers {
		if k.identity != v.caller.ID {
			continue
		}
		b, ok := v.s.businesses[k.parent]
		if !ok {
			continue
		}
		out = append(out, store.BusinessMembership{Business: *b, Member: *m})
	}
	sortByCreated(out, func(m store.BusinessMembership) time.Time { return m.Member.CreatedAt })
	return out, nil
}

func (v *scoped) ListOwnedBusinesses(ctx context.Context) ([]store.Business, error) {
	if err := v.s.begin(ctx, "ListOwnedBusinesses"); err != nil {
		return nil, err
	}
	if v.s.lagging() {
		return nil, nil
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.ownedBusinesses(v.caller.ID), nil
}

func (v *scoped) GetBusinessMember(ctx context.Context, businessID, identityID uuid.UUID) (*store.BusinessMember, error) {
	if err := v.s.begin(ctx, "GetBusinessMember"); err != nil {
		return nil, err
	}
	if v.s.lagging() {
		return nil, store.ErrNotFound
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	m, ok := v.s.bizMembers[memberKey{businessID, identityID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	if identityID != v.caller.ID &&
		!v.s.isBusinessMember(businessID, v.caller.ID) &&
		!v.s.ownsBusiness(businessID, v.caller.ID) {
		return nil, store.ErrNotFound
	}
	out := *m
	return &out, nil
}

func (v *scoped) InsertBusinessMember(ctx context.Context, m *store.BusinessMember) (bool, error) {
	if err := v.s.begin(ctx, "InsertBusinessMember"); err != nil {
		return false, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.businesses[m.BusinessID]; !ok {
		return false, store.ErrNotFound
	}
	// Only an owner may write their own owner row through the scoped path.
	if m.IdentityID != v.caller.ID || m.Role != store.RoleOwner || !v.s.ownsBusiness(m.BusinessID, v.caller.ID) {
		return false, store.ErrPolicyDenied
	}
	return v.s.insertBusinessMember(m), nil
}

// insertBusinessMember inserts m unless the (business, identity) row exists.
func (s *Store) insertBusinessMember(m *store.BusinessMember) bool {
	key := memberKey{m.BusinessID, m.IdentityID}
	if _, exists := s.bizMembers[key]; exists {
		return false
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	row := *m
	s.bizMembers[key] = &row
	return true
}

func (v *scoped) CreateInvite(ctx context.Context, inv *store.Invite) error {
	if err := v.s.begin(ctx, "CreateInvite"); err != nil {
		return err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.orgs[inv.OrganizationID]; !ok {
		return store.ErrNotFound
	}
	if inv.IssuedBy != v.caller.ID || !v.s.managesOrg(inv.OrganizationID, v.caller.ID) {
		return store.ErrPolicyDenied
	}
	for _, existing := range v.s.invites {
		if bytes.Equal(existing.CodeHash, inv.CodeHash) {
			return store.ErrDuplicate
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now()
	}
	v.s.invites[inv.ID] = cloneInvite(inv)
	return nil
}

func (v *scoped) ListOpenInvites(ctx context.Context, orgID uuid.UUID, at time.Time) ([]store.Invite, error) {
	if err := v.s.begin(ctx, "ListOpenInvites"); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	if !v.s.managesOrg(orgID, v.caller.ID) {
		return nil, nil
	}
	var out []store.Invite
	for _, inv := range v.s.invites {
		if inv.OrganizationID == orgID && inv.Redeemable(at) {
			out = append(out, *cloneInvite(inv))
		}
	}
	sortByCreated(out, func(i store.Invite) time.Time { return i.CreatedAt })
	return out, nil
}

func (v *scoped) FindInviteByCode(ctx context.Context, codeHash []byte) (*store.Invite, error) {
	if err := v.s.begin(ctx, "FindInviteByCode"); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	inv := v.s.inviteByHash(codeHash)
	if inv == nil {
		return nil, store.ErrNotFound
	}
	return cloneInvite(inv), nil
}

func (s *Store) inviteByHash(codeHash []byte) *store.Invite {
	for _, inv := range s.invites {
		if bytes.Equal(inv.CodeHash, codeHash) {
			return inv
		}
	}
	return nil
}

func (v *scoped) ClaimInvite(ctx context.Context, codeHash []byte, at time.Time) (*store.InviteClaim, error) {
	if err := v.s.begin(ctx, "ClaimInvite"); err != nil {
		return nil, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	inv := v.s.inviteByHash(codeHash)
	if inv == nil {
		return nil, store.ErrNotFound
	}
	if !inv.Redeemable(at) {
		return nil, store.ErrInviteClaimed
	}

	usedAt := at
	usedBy := v.caller.ID
	inv.UsedAt = &usedAt
	inv.UsedBy = &usedBy

	claim := &store.InviteClaim{Invite: *cloneInvite(inv)}
	key := memberKey{inv.OrganizationID, v.caller.ID}
	if existing, ok := v.s.orgMembers[key]; ok {
		claim.Member = *existing
		return claim, nil
	}

	m := &store.OrganizationMember{
		OrganizationID: inv.OrganizationID,
		IdentityID:     v.caller.ID,
		Role:           inv.Role,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	v.s.orgMembers[key] = m
	claim.Member = *m
	claim.MemberCreated = true
	return claim, nil
}

func (v *scoped) CreateAccessRequest(ctx context.Context, req *store.AccessRequest) error {
	if err := v.s.begin(ctx, "CreateAccessRequest"); err != nil {
		return err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if (req.RequesterID != nil && *req.RequesterID != v.caller.ID) || req.Status != store.AccessRequestPending {
		return store.ErrPolicyDenied
	}
	if _, ok := v.s.businesses[req.BusinessID]; !ok {
		return store.ErrNotFound
	}
	for _, existing := range v.s.requests {
		if existing.BusinessID == req.BusinessID &&
			existing.RequesterEmail == req.RequesterEmail &&
			existing.Status == store.AccessRequestPending {
			return store.ErrDuplicate
		}
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	v.s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (v *scoped) GetAccessRequest(ctx context.Context, requestID uuid.UUID) (*store.AccessRequest, error) {
	if err := v.s.begin(ctx, "GetAccessRequest"); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	r, ok := v.s.requests[requestID]
	if !ok || !v.s.seesRequest(r, v.caller) {
		return nil, store.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (v *scoped) ListAccessRequests(ctx context.Context, businessID uuid.UUID, status store.AccessRequestStatus) ([]store.AccessRequest, error) {
	if err := v.s.begin(ctx, "ListAccessRequests"); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var out []store.AccessRequest
	for _, r := range v.s.requests {
		if r.BusinessID != businessID || !v.s.seesRequest(r, v.caller) {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *cloneRequest(r))
	}
	sortByCreated(out, func(r store.AccessRequest) time.Time { return r.CreatedAt })
	return out, nil
}

func (v *scoped) DecideAccessRequest(ctx context.Context, d store.AccessDecision) (*store.AccessRequest, error) {
	if err := v.s.begin(ctx, "DecideAccessRequest"); err != nil {
		return nil, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	r, ok := v.s.requests[d.RequestID]
	if !ok || !v.s.seesRequest(r, v.caller) {
		return nil, store.ErrNotFound
	}
	if !v.s.isBusinessMember(r.BusinessID, v.caller.ID) && !v.s.ownsBusiness(r.BusinessID, v.caller.ID) {
		return nil, store.ErrPolicyDenied
	}
	if r.Status != store.AccessRequestPending {
		return nil, store.ErrNotPending
	}

	decidedBy := d.DecidedBy
	decidedAt := d.DecidedAt
	r.Status = d.Status
	r.DecidedBy = &decidedBy
	r.DecidedAt = &decidedAt

	if d.Grant != nil && d.Status == store.AccessRequestApproved {
		requester := d.Grant.IdentityID
		grantedAt := d.DecidedAt
		r.RequesterID = &requester
		r.GrantedAt = &grantedAt

		m := *d.Grant
		m.BusinessID = r.BusinessID
		m.CreatedAt = d.DecidedAt
		v.s.insertBusinessMember(&m)
	}
	return cloneRequest(r), nil
}

func (v *scoped) ListDeferredGrants(ctx context.Context) ([]store.AccessRequest, error) {
	if err := v.s.begin(ctx, "ListDeferredGrants"); err != nil {
		return nil, err
	}
	if v.caller.Email == "" {
		return nil, nil
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var out []store.AccessRequest
	for _, r := range v.s.requests {
		if r.Status == store.AccessRequestApproved && r.GrantedAt == nil && r.RequesterEmail == v.caller.Email {
			out = append(out, *cloneRequest(r))
		}
	}
	sortByCreated(out, func(r store.AccessRequest) time.Time { return r.CreatedAt })
	return out, nil
}

func (v *scoped) CompleteDeferredGrant(ctx context.Context, requestID uuid.UUID, member *store.BusinessMember, at time.Time) (bool, error) {
	if err := v.s.begin(ctx, "CompleteDeferredGrant"); err != nil {
		return false, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	r, ok := v.s.requests[requestID]
	if !ok || v.caller.Email == "" || r.RequesterEmail != v.caller.Email {
		return false, store.ErrNotFound
	}
	if member.IdentityID != v.caller.ID || member.Role != r.RequestedRole {
		return false, store.ErrPolicyDenied
	}
	if r.Status != store.AccessRequestApproved || r.GrantedAt != nil {
		return false, store.ErrNotPending
	}

	requester := v.caller.ID
	grantedAt := at
	r.RequesterID = &requester
	r.GrantedAt = &grantedAt

	m := *member
	m.BusinessID = r.BusinessID
	m.CreatedAt = at
	return v.s.insertBusinessMember(&m), nil
}
