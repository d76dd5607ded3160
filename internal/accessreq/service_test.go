package accessreq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/audit"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/membership"
	"github.com/aliuyar1234/bizdesk/internal/notify"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	audit    *audit.MemoryStore
	resolver *membership.Resolver
	service  *Service
	owner    *identity.Identity
	org      *store.Organization
	biz      *store.Business
}

func newIdentity(email string) *identity.Identity {
	return &identity.Identity{ID: uuid.New(), Email: email, Name: email}
}

// setup creates organization O and business B, both owned by A, with A's owner rows.
func setup(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	owner := newIdentity("a@example.com")
	scoped := s.Scoped(store.Caller{ID: owner.ID, Email: owner.Email})

	org := &store.Organization{Name: "O", OwnerID: owner.ID}
	require.NoError(t, scoped.CreateOrganization(ctx, org))
	biz := &store.Business{OrganizationID: org.ID, OwnerID: owner.ID, Name: "B"}
	require.NoError(t, scoped.CreateBusiness(ctx, biz, &store.BusinessMember{
		IdentityID: owner.ID,
		Role:       store.RoleOwner,
		Email:      owner.Email,
	}))

	auditStore := audit.NewMemoryStore()
	auditStore.OrgOf = s.BusinessOrganization
	resolver := membership.NewResolver(s, membership.WithCache(membership.NewMemoryCache(time.Hour)))
	service := NewService(s, resolver, audit.NewWriter(auditStore), opts...)

	return fixture{
		store:    s,
		audit:    auditStore,
		resolver: resolver,
		service:  service,
		owner:    owner,
		org:      org,
		biz:      biz,
	}
}

func (f fixture) submit(t *testing.T, requester *identity.Identity, role store.Role) *store.AccessRequest {
	t.Helper()
	req, err := f.service.Submit(context.Background(), requester, SubmitParams{
		BusinessID: f.biz.ID,
		Name:       "Casey",
		Email:      requester.Email,
		Message:    "I run the Monday shift",
		Role:       role,
	})
	require.NoError(t, err)
	return req
}

func TestApprove_GrantsRequesterMembership(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	casey := newIdentity("casey@example.com")

	// Cached before approval, so the grant must invalidate it.
	before, err := f.resolver.Resolve(ctx, casey)
	require.NoError(t, err)
	require.Empty(t, before.Businesses)

	req := f.submit(t, casey, store.RoleEmployee)
	require.Equal(t, store.AccessRequestPending, req.Status)
	require.NotNil(t, req.RequesterID)

	decided, err := f.service.Approve(ctx, f.owner, req.ID)
	require.NoError(t, err)
	require.Equal(t, store.AccessRequestApproved, decided.Status)
	require.Equal(t, f.owner.ID, *decided.DecidedBy)
	require.NotNil(t, decided.GrantedAt)

	after, err := f.resolver.Resolve(ctx, casey)
	require.NoError(t, err)
	role, ok := after.BusinessRole(f.biz.ID)
	require.True(t, ok)
	require.Equal(t, store.RoleEmployee, role)

	// The approver keeps their own role.
	member, err := f.store.Scoped(store.Caller{ID: f.owner.ID}).GetBusinessMember(ctx, f.biz.ID, f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, store.RoleOwner, member.Role)

	require.Contains(t, f.audit.Actions(), audit.EventAccessRequestSubmitted)
	require.Contains(t, f.audit.Actions(), audit.EventAccessRequestApproved)
}

func TestReject_GrantsNothing(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	casey := newIdentity("casey@example.com")
	req := f.submit(t, casey, store.RoleAdmin)

	decided, err := f.service.Reject(ctx, f.owner, req.ID)
	require.NoError(t, err)
	require.Equal(t, store.AccessRequestRejected, decided.Status)
	require.Nil(t, decided.GrantedAt)

	m, err := f.resolver.Resolve(ctx, casey)
	require.NoError(t, err)
	require.Empty(t, m.Businesses)
}

func TestDecide_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	req := f.submit(t, newIdentity("casey@example.com"), store.RoleEmployee)

	_, err := f.service.Approve(ctx, f.owner, req.ID)
	require.NoError(t, err)

	_, err = f.service.Approve(ctx, f.owner, req.ID)
	require.ErrorIs(t, err, apperrors.ErrAlreadyDecided)
	_, err = f.service.Reject(ctx, f.owner, req.ID)
	require.ErrorIs(t, err, apperrors.ErrAlreadyDecided)
}

func TestDecide_Errors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	casey := newIdentity("casey@example.com")
	req := f.submit(t, casey, store.RoleEmployee)

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := f.service.Approve(ctx, nil, req.ID)
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := f.service.Approve(ctx, f.owner, uuid.New())
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("requester cannot approve own request", func(t *testing.T) {
		_, err := f.service.Approve(ctx, casey, req.ID)
		require.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	})

	t.Run("invalid decision", func(t *testing.T) {
		_, err := f.service.Decide(ctx, f.owner, req.ID, store.Decision("maybe"))
		require.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("store down", func(t *testing.T) {
		f.store.FailNext("DecideAccessRequest", nil, 1)
		_, err := f.service.Approve(ctx, f.owner, req.ID)
		require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)

		// Nothing was decided.
		decided, err := f.service.Approve(ctx, f.owner, req.ID)
		require.NoError(t, err)
		require.Equal(t, store.AccessRequestApproved, decided.Status)
	})
}

func TestDecide_OwnerWithoutMemberRowIsHealed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	owner := newIdentity("a@example.com")
	scoped := s.Scoped(store.Caller{ID: owner.ID, Email: owner.Email})
	org := &store.Organization{Name: "O", OwnerID: owner.ID}
	require.NoError(t, scoped.CreateOrganization(ctx, org))
	biz := &store.Business{OrganizationID: org.ID, OwnerID: owner.ID, Name: "B"}
	require.NoError(t, scoped.CreateBusiness(ctx, biz, nil))

	service := NewService(s, nil, nil)
	casey := newIdentity("casey@example.com")
	req, err := service.Submit(ctx, casey, SubmitParams{BusinessID: biz.ID, Name: "Casey", Role: store.RoleEmployee})
	require.NoError(t, err)

	_, err = service.Approve(ctx, owner, req.ID)
	require.NoError(t, err)

	member, err := scoped.GetBusinessMember(ctx, biz.ID, owner.ID)
	require.NoError(t, err)
	require.Equal(t, store.RoleOwner, member.Role)
}

func TestSubmit_PendingUniqueness(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	casey := newIdentity("casey@example.com")
	first := f.submit(t, casey, store.RoleEmployee)

	_, err := f.service.Submit(ctx, casey, SubmitParams{BusinessID: f.biz.ID, Name: "Casey", Email: "CASEY@example.com"})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = f.service.Reject(ctx, f.owner, first.ID)
	require.NoError(t, err)

	second := f.submit(t, casey, store.RoleEmployee)
	require.NotEqual(t, first.ID, second.ID)
}

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	casey := newIdentity("casey@example.com")

	_, err := f.service.Submit(ctx, nil, SubmitParams{BusinessID: f.biz.ID})
	require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	_, err = f.service.Submit(ctx, casey, SubmitParams{BusinessID: f.biz.ID, Role: store.RoleOwner})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.Submit(ctx, casey, SubmitParams{BusinessID: f.biz.ID, Email: "not-an-email"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.Submit(ctx, casey, SubmitParams{BusinessID: uuid.New()})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// Name, email and role default from the identity.
	req, err := f.service.Submit(ctx, casey, SubmitParams{BusinessID: f.biz.ID})
	require.NoError(t, err)
	require.Equal(t, "casey@example.com", req.RequesterEmail)
	require.Equal(t, store.RoleEmployee, req.RequestedRole)
	require.Equal(t, casey.ID, *req.RequesterID)
}

func TestApprove_ForeignEmailUsesDirectory(t *testing.T) {
	ctx := context.Background()
	dir := identity.NewMemoryDirectory()
	f := setup(t, WithDirectory(dir))

	casey := newIdentity("casey@example.com")
	require.NoError(t, dir.Record(ctx, *casey))

	// A manager files the request on Casey's behalf.
	manager := newIdentity("manager@example.com")
	req, err := f.service.Submit(ctx, manager, SubmitParams{BusinessID: f.biz.ID, Name: "Casey", Email: "casey@example.com"})
	require.NoError(t, err)
	require.Nil(t, req.RequesterID)

	decided, err := f.service.Approve(ctx, f.owner, req.ID)
	require.NoError(t, err)
	require.NotNil(t, decided.GrantedAt)
	require.Equal(t, casey.ID, *decided.RequesterID)

	// The submitter is not the one granted.
	m, err := f.resolver.Resolve(ctx, manager)
	require.NoError(t, err)
	require.Empty(t, m.Businesses)

	m, err = f.resolver.Resolve(ctx, casey)
	require.NoError(t, err)
	_, ok := m.BusinessRole(f.biz.ID)
	require.True(t, ok)
}

func TestApprove_UnknownRequesterIsDeferred(t *testing.T) {
	ctx := context.Background()
	f := setup(t, WithDirectory(identity.NewMemoryDirectory()))

	manager := newIdentity("manager@example.com")
	req, err := f.service.Submit(ctx, manager, SubmitParams{BusinessID: f.biz.ID, Name: "Casey", Email: "casey@example.com"})
	require.NoError(t, err)

	decided, err := f.service.Approve(ctx, f.owner, req.ID)
	require.NoError(t, err)
	require.Equal(t, store.AccessRequestApproved, decided.Status)
	require.Nil(t, decided.GrantedAt)
	require.Nil(t, decided.RequesterID)

	// Casey signs up later and the grant is claimed by email.
	casey := newIdentity("casey@example.com")
	m, err := f.resolver.SignedIn(ctx, casey)
	require.NoError(t, err)
	role, ok := m.BusinessRole(f.biz.ID)
	require.True(t, ok)
	require.Equal(t, store.RoleEmployee, role)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	casey := newIdentity("casey@example.com")
	first := f.submit(t, casey, store.RoleEmployee)
	f.submit(t, newIdentity("dana@example.com"), store.RoleEmployee)
	_, err := f.service.Reject(ctx, f.owner, first.ID)
	require.NoError(t, err)

	all, err := f.service.List(ctx, f.owner, f.biz.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	pending, err := f.service.List(ctx, f.owner, f.biz.ID, store.AccessRequestPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "dana@example.com", pending[0].RequesterEmail)

	_, err = f.service.List(ctx, f.owner, f.biz.ID, "granted")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.List(ctx, casey, f.biz.ID, "")
	require.ErrorIs(t, err, apperrors.ErrNotAuthorized)
}

func TestSubmit_Notifies(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	f := setup(t, WithNotifier(notify.NewClient(srv.URL, 1000), "https://bizdesk.example.com"))
	f.submit(t, newIdentity("casey@example.com"), store.RoleEmployee)
	require.Equal(t, int32(1), calls.Load())

	// A failing webhook does not fail the submission.
	srv.Close()
	f.submit(t, newIdentity("dana@example.com"), store.RoleEmployee)
}

// stallingPort holds the first restricted business read of one caller until release
// is closed, once armed.
type stallingPort struct {
	*memory.Store
	target  uuid.UUID
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *stallingPort) Scoped(caller store.Caller) store.Scoped {
	scoped := p.Store.Scoped(caller)
	if caller.ID != p.target {
		return scoped
	}
	return &stallingScoped{Scoped: scoped, port: p}
}

type stallingScoped struct {
	store.Scoped
	port *stallingPort
}

func (s *stallingScoped) ListBusinessMemberships(ctx context.Context) ([]store.BusinessMembership, error) {
	rows, err := s.Scoped.ListBusinessMemberships(ctx)
	if s.port.armed.Load() {
		s.port.once.Do(func() {
			close(s.port.entered)
			<-s.port.release
		})
	}
	return rows, err
}

func TestApprove_DuringResolutionIsNotMaskedByCache(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	casey := newIdentity("casey@example.com")
	req := f.submit(t, casey, store.RoleEmployee)

	port := &stallingPort{
		Store:   f.store,
		target:  casey.ID,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	port.armed.Store(true)
	resolver := membership.NewResolver(port, membership.WithCache(membership.NewMemoryCache(time.Hour)))
	service := NewService(port, resolver, audit.NewWriter(f.audit))

	done := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(ctx, casey)
		done <- err
	}()
	select {
	case <-port.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("resolution never reached the business read")
	}

	// Approved after casey's rows were read but before the stale set is stored.
	_, err := service.Approve(ctx, f.owner, req.ID)
	require.NoError(t, err)

	close(port.release)
	require.NoError(t, <-done)

	after, err := resolver.Resolve(ctx, casey)
	require.NoError(t, err)
	role, ok := after.BusinessRole(f.biz.ID)
	require.True(t, ok)
	require.Equal(t, store.RoleEmployee, role)
}
