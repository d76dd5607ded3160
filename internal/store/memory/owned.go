package memory

import (
	"context"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
)

type owned struct {
	s *Store
}

func (o *owned) CountOwnedOrganizations(ctx context.Context, ownerID uuid.UUID) (int, error) {
	if err := o.s.begin(ctx, "owned.CountOwnedOrganizations"); err != nil {
		return 0, err
	}
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return len(o.s.ownedOrganizations(ownerID)), nil
}

func (o *owned) ListOwnedOrganizations(ctx context.Context, ownerID uuid.UUID) ([]store.Organization, error) {
	if err := o.s.begin(ctx, "owned.ListOwnedOrganizations"); err != nil {
		return nil, err
	}
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return o.s.ownedOrganizations(ownerID), nil
}

func (o *owned) CountOwnedBusinesses(ctx context.Context, ownerID uuid.UUID) (int, error) {
	if err := o.s.begin(ctx, "owned.CountOwnedBusinesses"); err != nil {
		return 0, err
	}
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return len(o.s.ownedBusinesses(ownerID)), nil
}

func (o *owned) ListOwnedBusinesses(ctx context.Context, ownerID uuid.UUID) ([]store.Business, error) {
	if err := o.s.begin(ctx, "owned.ListOwnedBusinesses"); err != nil {
		return nil, err
	}
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return o.s.ownedBusinesses(ownerID), nil
}

func (s *Store) ownedOrganizations(ownerID uuid.UUID) []store.Organization {
	var out []store.Organization
	for _, org := range s.orgs {
		if org.OwnerID == ownerID {
			out = append(out, *org)
		}
	}
	sortByCreated(out, func(o store.Organization) time.Time { return o.CreatedAt })
	return out
}

func (s *Store) ownedBusinesses(ownerID uuid.UUID) []store.Business {
	var out []store.Business
	for _, b := range s.businesses {
		if b.OwnerID == ownerID {
			out = append(out, *b)
		}
	}
	sortByCreated(out, func(b store.Business) time.Time { return b.CreatedAt })
	return out
}

type maintenance struct {
	s *Store
}

func (m *maintenance) HealBusinessOwners(ctx context.Context) (int64, error) {
	if err := m.s.begin(ctx, "maintenance.HealBusinessOwners"); err != nil {
		return 0, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var healed int64
	for _, b := range m.s.businesses {
		if m.s.insertBusinessMember(&store.BusinessMember{
			BusinessID: b.ID,
			IdentityID: b.OwnerID,
			Role:       store.RoleOwner,
		}) {
			healed++
		}
	}
	return healed, nil
}

func (m *maintenance) DeleteExpiredInvites(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := m.s.begin(ctx, "maintenance.DeleteExpiredInvites"); err != nil {
		return 0, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var deleted int64
	for id, inv := range m.s.invites {
		if inv.UsedAt == nil && inv.ExpiresAt.Before(cutoff) {
			delete(m.s.invites, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *maintenance) DeleteDecidedAccessRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := m.s.begin(ctx, "maintenance.DeleteDecidedAccessRequests"); err != nil {
		return 0, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var deleted int64
	for id, r := range m.s.requests {
		if r.DecidedAt == nil || !r.DecidedAt.Before(cutoff) {
			continue
		}
		if r.Status == store.AccessRequestRejected || r.GrantedAt != nil {
			delete(m.s.requests, id)
			deleted++
		}
	}
	return deleted, nil
}
