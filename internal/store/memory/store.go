// Package memory is an in-process store.Port for development and tests. It applies
// the same row visibility rules as the Postgres policies and can simulate policy
// propagation lag and upstream failures.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
)

type memberKey struct {
	parent   uuid.UUID
	identity uuid.UUID
}

type failure struct {
	err   error
	times int
}

// Store is an in-memory implementation of store.Port
type Store struct {
	mu         sync.RWMutex
	orgs       map[uuid.UUID]*store.Organization
	orgMembers map[memberKey]*store.OrganizationMember
	businesses map[uuid.UUID]*store.Business
	bizMembers map[memberKey]*store.BusinessMember
	invites    map[uuid.UUID]*store.Invite
	requests   map[uuid.UUID]*store.AccessRequest

	hooksMu  sync.Mutex
	lag      bool
	failures map[string]*failure
}

// New creates an empty store
func New() *Store {
	return &Store{
		orgs:       make(map[uuid.UUID]*store.Organization),
		orgMembers: make(map[memberKey]*store.OrganizationMember),
		businesses: make(map[uuid.UUID]*store.Business),
		bizMembers: make(map[memberKey]*store.BusinessMember),
		invites:    make(map[uuid.UUID]*store.Invite),
		requests:   make(map[uuid.UUID]*store.AccessRequest),
		failures:   make(map[string]*failure),
	}
}

// SetPolicyLag makes restricted membership and ownership reads return no rows, the way
// a freshly written row can be invisible to row-level policy for a short while.
// Writes and the owned path are unaffected.
func (s *Store) SetPolicyLag(enabled bool) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.lag = enabled
}

// FailNext makes the next times calls of op return err. Scoped operations are named
// after their method ("ClaimInvite"); owned and maintenance operations carry an
// "owned." or "maintenance." prefix. A nil err injects store.ErrUnavailable.
func (s *Store) FailNext(op string, err error, times int) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	if err == nil {
		err = store.Unavailable(errors.New("injected failure"))
	}
	s.failures[op] = &failure{err: err, times: times}
}

func (s *Store) lagging() bool {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return s.lag
}

func (s *Store) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}

	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	f, ok := s.failures[op]
	if !ok {
		return nil
	}
	f.times--
	if f.times <= 0 {
		delete(s.failures, op)
	}
	return f.err
}

// Scoped implements store.Port
func (s *Store) Scoped(caller store.Caller) store.Scoped {
	return &scoped{s: s, caller: caller}
}

// Owned implements store.Port
func (s *Store) Owned() store.OwnedReader {
	return &owned{s: s}
}

// Maintenance implements store.Port
func (s *Store) Maintenance() store.Maintenance {
	return &maintenance{s: s}
}

// Ping implements store.Port
func (s *Store) Ping(ctx context.Context) error {
	return s.begin(ctx, "Ping")
}

func now() time.Time {
	return time.Now().UTC()
}

// Visibility helpers. Callers hold s.mu.

func (s *Store) orgRole(orgID, identityID uuid.UUID) (store.Role, bool) {
	m, ok := s.orgMembers[memberKey{orgID, identityID}]
	if !ok {
		return "", false
	}
	return m.Role, true
}

func (s *Store) ownsOrg(orgID, identityID uuid.UUID) bool {
	o, ok := s.orgs[orgID]
	return ok && o.OwnerID == identityID
}

func (s *Store) managesOrg(orgID, identityID uuid.UUID) bool {
	if s.ownsOrg(orgID, identityID) {
		return true
	}
	role, ok := s.orgRole(orgID, identityID)
	return ok && role.CanManage()
}

func (s *Store) seesOrg(orgID, identityID uuid.UUID) bool {
	if s.ownsOrg(orgID, identityID) {
		return true
	}
	_, ok := s.orgRole(orgID, identityID)
	return ok
}

func (s *Store) ownsBusiness(businessID, identityID uuid.UUID) bool {
	b, ok := s.businesses[businessID]
	return ok && b.OwnerID == identityID
}

func (s *Store) isBusinessMember(businessID, identityID uuid.UUID) bool {
	_, ok := s.bizMembers[memberKey{businessID, identityID}]
	return ok
}

func (s *Store) seesBusiness(b *store.Business, identityID uuid.UUID) bool {
	return b.OwnerID == identityID ||
		s.isBusinessMember(b.ID, identityID) ||
		s.managesOrg(b.OrganizationID, identityID)
}

func (s *Store) seesRequest(r *store.AccessRequest, caller store.Caller) bool {
	if r.RequesterID != nil && *r.RequesterID == caller.ID {
		return true
	}
	if caller.Email != "" && r.RequesterEmail == caller.Email {
		return true
	}
	return s.isBusinessMember(r.BusinessID, caller.ID) || s.ownsBusiness(r.BusinessID, caller.ID)
}

func sortByCreated[T any](items []T, created func(T) time.Time) {
	slices.SortStableFunc(items, func(a, b T) int {
		return created(a).Compare(created(b))
	})
}

// BusinessOrganization returns the organization of businessID, bypassing visibility.
// It backs audit attribution in memory mode.
func (s *Store) BusinessOrganization(businessID uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return uuid.Nil, false
	}
	return b.OrganizationID, true
}
