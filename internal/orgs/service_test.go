package orgs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/audit"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/membership"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *memory.Store
	service  *Service
	resolver *membership.Resolver
	audit    *audit.MemoryStore
	owner    *identity.Identity
	org      *store.Organization
}

func newIdentity(email string) *identity.Identity {
	return &identity.Identity{ID: uuid.New(), Email: email, Name: email}
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	s := memory.New()
	auditStore := audit.NewMemoryStore()
	resolver := membership.NewResolver(s, membership.WithCache(membership.NewMemoryCache(time.Hour)))
	svc := NewService(s, resolver, audit.NewWriter(auditStore))

	owner := newIdentity("owner@example.com")
	org, err := svc.CreateOrganization(context.Background(), owner, "Acme")
	require.NoError(t, err)

	return &testEnv{store: s, service: svc, resolver: resolver, audit: auditStore, owner: owner, org: org}
}

func (e *testEnv) issue(t *testing.T, role store.Role) *IssuedInvite {
	t.Helper()
	issued, err := e.service.Issue(context.Background(), e.owner, e.org.ID, "New.Hire@Example.com", role)
	require.NoError(t, err)
	return issued
}

func (e *testEnv) memberCount(t *testing.T) int {
	t.Helper()
	members, err := e.service.ListMembers(context.Background(), e.owner, e.org.ID)
	require.NoError(t, err)
	return len(members)
}

func TestCreateOrganization(t *testing.T) {
	e := newEnv(t)

	require.Equal(t, e.owner.ID, e.org.OwnerID)
	members, err := e.service.ListMembers(context.Background(), e.owner, e.org.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, store.RoleOwner, members[0].Role)
	require.Equal(t, []string{audit.EventOrgCreated}, e.audit.Actions())

	_, err = e.service.CreateOrganization(context.Background(), e.owner, "  ")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = e.service.CreateOrganization(context.Background(), nil, "Nope")
	require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	issued := e.issue(t, store.RoleAdmin)
	require.Equal(t, "new.hire@example.com", issued.Invite.Email)
	require.Equal(t, store.RoleAdmin, issued.Invite.Role)
	require.Equal(t, issued.Invite.CreatedAt.Add(7*24*time.Hour), issued.Invite.ExpiresAt)
	require.Equal(t, HashInviteCode(issued.Code), issued.Invite.CodeHash)
	require.Nil(t, issued.Invite.UsedAt)

	t.Run("owner role cannot be invited", func(t *testing.T) {
		_, err := e.service.Issue(ctx, e.owner, e.org.ID, "x@example.com", store.RoleOwner)
		require.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := e.service.Issue(ctx, e.owner, e.org.ID, "not-an-email", store.RoleEmployee)
		require.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("non member", func(t *testing.T) {
		_, err := e.service.Issue(ctx, newIdentity("x@example.com"), e.org.ID, "y@example.com", store.RoleEmployee)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("employee", func(t *testing.T) {
		employee := newIdentity("emp@example.com")
		_, err := e.service.Redeem(ctx, e.issue(t, store.RoleEmployee).Code, employee)
		require.NoError(t, err)

		_, err = e.service.Issue(ctx, employee, e.org.ID, "y@example.com", store.RoleEmployee)
		require.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	})

	t.Run("admin", func(t *testing.T) {
		admin := newIdentity("admin@example.com")
		_, err := e.service.Redeem(ctx, e.issue(t, store.RoleAdmin).Code, admin)
		require.NoError(t, err)

		_, err = e.service.Issue(ctx, admin, e.org.ID, "y@example.com", store.RoleEmployee)
		require.NoError(t, err)
	})
}

func TestIssue_OwnerHonoredDuringPolicyLag(t *testing.T) {
	e := newEnv(t)
	e.store.SetPolicyLag(true)

	_, err := e.service.Issue(context.Background(), e.owner, e.org.ID, "y@example.com", store.RoleEmployee)
	require.NoError(t, err)
}

func TestRedeem_GrantsOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	issued := e.issue(t, store.RoleEmployee)
	redeemer := newIdentity("new.hire@example.com")

	claim, err := e.service.Redeem(ctx, issued.Code, redeemer)
	require.NoError(t, err)
	require.True(t, claim.MemberCreated)
	require.Equal(t, store.RoleEmployee, claim.Member.Role)
	require.Equal(t, redeemer.ID, claim.Member.IdentityID)
	require.Equal(t, 2, e.memberCount(t))

	_, err = e.service.Redeem(ctx, issued.Code, redeemer)
	require.ErrorIs(t, err, apperrors.ErrAlreadyUsed)

	_, err = e.service.Redeem(ctx, issued.Code, newIdentity("other@example.com"))
	require.ErrorIs(t, err, apperrors.ErrAlreadyUsed)
	require.Equal(t, 2, e.memberCount(t))
}

func TestRedeem_InvalidatesResolvedMembership(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	redeemer := newIdentity("new.hire@example.com")

	before, err := e.resolver.Resolve(ctx, redeemer)
	require.NoError(t, err)
	require.Empty(t, before.Organizations)

	_, err = e.service.Redeem(ctx, e.issue(t, store.RoleEmployee).Code, redeemer)
	require.NoError(t, err)

	after, err := e.resolver.Resolve(ctx, redeemer)
	require.NoError(t, err)
	role, ok := after.OrganizationRole(e.org.ID)
	require.True(t, ok)
	require.Equal(t, store.RoleEmployee, role)
}

func TestRedeem_ExistingMemberIsNotEscalated(t *testing.T) {
	e := newEnv(t)

	claim, err := e.service.Redeem(context.Background(), e.issue(t, store.RoleAdmin).Code, e.owner)
	require.NoError(t, err)
	require.False(t, claim.MemberCreated)
	require.Equal(t, store.RoleOwner, claim.Member.Role)
	require.Equal(t, 1, e.memberCount(t))
}

func TestRedeem_Refusals(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	redeemer := newIdentity("r@example.com")

	t.Run("malformed", func(t *testing.T) {
		_, err := e.service.Redeem(ctx, "garbage", redeemer)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("unknown", func(t *testing.T) {
		code, _, err := GenerateInviteCode()
		require.NoError(t, err)
		_, err = e.service.Redeem(ctx, code, redeemer)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := e.service.Redeem(ctx, e.issue(t, store.RoleEmployee).Code, nil)
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	})

	t.Run("expired regardless of use", func(t *testing.T) {
		unused := e.issue(t, store.RoleEmployee)
		used := e.issue(t, store.RoleEmployee)
		_, err := e.service.Redeem(ctx, used.Code, newIdentity("u@example.com"))
		require.NoError(t, err)

		real := e.service.now
		e.service.now = func() time.Time { return real().Add(inviteTTL) }
		defer func() { e.service.now = real }()

		_, err = e.service.Redeem(ctx, unused.Code, redeemer)
		require.ErrorIs(t, err, apperrors.ErrExpired)
		_, err = e.service.Redeem(ctx, used.Code, redeemer)
		require.ErrorIs(t, err, apperrors.ErrExpired)
	})

	t.Run("store down", func(t *testing.T) {
		e.store.FailNext("FindInviteByCode", nil, 1)
		_, err := e.service.Redeem(ctx, e.issue(t, store.RoleEmployee).Code, redeemer)
		require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	})
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	issued := e.issue(t, store.RoleEmployee)

	const attempts = 2
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.service.Redeem(ctx, issued.Code, newIdentity("racer@example.com"))
		}(i)
	}
	wg.Wait()

	var wins, used int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperrors.ErrAlreadyUsed):
			used++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, used)
	require.Equal(t, 2, e.memberCount(t))
}

func TestListOpenInvites(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	open := e.issue(t, store.RoleEmployee)
	redeemed := e.issue(t, store.RoleEmployee)
	_, err := e.service.Redeem(ctx, redeemed.Code, newIdentity("x@example.com"))
	require.NoError(t, err)

	invites, err := e.service.ListOpenInvites(ctx, e.owner, e.org.ID)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	require.Equal(t, open.Invite.ID, invites[0].ID)
}
