// Package membership resolves which organizations and businesses an identity may act on.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/audit"
	"github.com/aliuyar1234/bizdesk/internal/consistency"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Resolver computes and caches accessible sets. It holds no per-identity state
// besides the cache; callers pass the identity on every call.
type Resolver struct {
	port      store.Port
	cache     Cache
	directory identity.Directory
	auditor   *audit.Writer
	backOff   func() backoff.BackOff
	now       func() time.Time
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCache sets the membership cache. The default caches nothing.
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithDirectory records identities in d when they sign in.
func WithDirectory(d identity.Directory) Option {
	return func(r *Resolver) { r.directory = d }
}

// WithAuditor records self-heal writes.
func WithAuditor(a *audit.Writer) Option {
	return func(r *Resolver) { r.auditor = a }
}

// WithHealBackOff sets the backoff between the two self-heal write attempts.
func WithHealBackOff(f func() backoff.BackOff) Option {
	return func(r *Resolver) { r.backOff = f }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver reading through port.
func NewResolver(port store.Port, opts ...Option) *Resolver {
	r := &Resolver{
		port:  port,
		cache: noCache{},
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			return b
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the accessible set of id, from cache when possible.
func (r *Resolver) Resolve(ctx context.Context, id *identity.Identity) (*Membership, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}

	m := telemetry.GetMetrics()
	if cached, ok := r.cache.Get(ctx, id.ID); ok {
		telemetry.Add(ctx, m.CacheHitsTotal, 1)
		return cached, nil
	}
	telemetry.Add(ctx, m.CacheMissesTotal, 1)

	// Read before the store so an invalidation during resolution voids the Set.
	gen, genOK := r.cache.Generation(ctx, id.ID)

	start := time.Now()
	resolved, cacheable, err := r.resolve(ctx, id)
	telemetry.Add(ctx, m.ResolveTotal, 1)
	if err != nil {
		telemetry.Add(ctx, m.ResolveErrorsTotal, 1)
		return nil, apperrors.Upstream(err)
	}
	if m.ResolveDuration != nil {
		m.ResolveDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if cacheable && genOK {
		r.cache.Set(ctx, resolved, gen)
	}
	return resolved, nil
}

// Invalidate drops the cached set of identityID.
func (r *Resolver) Invalidate(ctx context.Context, identityID uuid.UUID) {
	r.cache.Delete(ctx, identityID)
}

// Refresh invalidates and re-resolves the set of id.
func (r *Resolver) Refresh(ctx context.Context, id *identity.Identity) (*Membership, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	r.Invalidate(ctx, id.ID)
	return r.Resolve(ctx, id)
}

// SignedIn handles the sign-in lifecycle event: the identity is recorded in the
// directory and its accessible set re-resolved.
func (r *Resolver) SignedIn(ctx context.Context, id *identity.Identity) (*Membership, error) {
	if id.IsZero() {
		return nil, apperrors.ErrNotAuthenticated
	}
	r.Invalidate(ctx, id.ID)

	if r.directory != nil {
		if err := r.directory.Record(ctx, *id); err != nil {
			// Resolution does not depend on the directory.
			log.Warn().Err(err).Str("identity_id", id.ID.String()).Msg("Failed to record identity")
		}
	}

	return r.Resolve(ctx, id)
}

// SignedOut handles the sign-out lifecycle event.
func (r *Resolver) SignedOut(ctx context.Context, identityID uuid.UUID) {
	r.Invalidate(ctx, identityID)
}

// resolve reports cacheable=false when part of the result is known to be incomplete.
func (r *Resolver) resolve(ctx context.Context, id *identity.Identity) (*Membership, bool, error) {
	scoped := r.port.Scoped(store.Caller{ID: id.ID, Email: identity.NormalizeEmail(id.Email)})
	cacheable := true

	if err := r.claimDeferredGrants(ctx, scoped, id); err != nil {
		log.Warn().Err(err).Str("identity_id", id.ID.String()).Msg("Failed to claim deferred access grants")
		cacheable = false
	}

	orgs, complete, err := r.resolveOrganizations(ctx, scoped, id.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve organizations: %w", err)
	}
	cacheable = cacheable && complete

	businesses, complete, err := r.resolveBusinesses(ctx, scoped, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve businesses: %w", err)
	}
	cacheable = cacheable && complete

	return &Membership{
		IdentityID:    id.ID,
		Organizations: orgs,
		Businesses:    businesses,
		ResolvedAt:    r.now(),
	}, cacheable, nil
}

func (r *Resolver) resolveOrganizations(ctx context.Context, scoped store.Scoped, identityID uuid.UUID) ([]OrganizationAccess, bool, error) {
	owned := r.port.Owned()
	rows, outcome, err := consistency.Read(ctx, identityID, consistency.Source[OrganizationAccess]{
		Name: "organization_memberships",
		Restricted: func(ctx context.Context) ([]OrganizationAccess, error) {
			memberships, err := scoped.ListOrganizationMemberships(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]OrganizationAccess, 0, len(memberships))
			for _, m := range memberships {
				out = append(out, OrganizationAccess{Organization: m.Organization, Role: m.Member.Role})
			}
			return out, nil
		},
		CountOwned: func(ctx context.Context) (int, error) {
			return owned.CountOwnedOrganizations(ctx, identityID)
		},
		Owned: func(ctx context.Context) ([]OrganizationAccess, error) {
			orgs, err := owned.ListOwnedOrganizations(ctx, identityID)
			if err != nil {
				return nil, err
			}
			out := make([]OrganizationAccess, 0, len(orgs))
			for _, o := range orgs {
				out = append(out, OrganizationAccess{Organization: o, Role: store.RoleOwner, Synthesized: true})
			}
			return out, nil
		},
		Key:   func(o OrganizationAccess) uuid.UUID { return o.Organization.ID },
		Owner: func(o OrganizationAccess) uuid.UUID { return o.Organization.OwnerID },
	})
	if err != nil {
		return nil, false, err
	}
	r.recordOutcome(ctx, "organizations", outcome)
	return rows, outcome != consistency.OutcomeFallbackOnly, nil
}

// businessRow carries whether a row came from ownership alone and still needs its
// owner member row written.
type businessRow struct {
	access BusinessAccess
	heal   bool
}

func (r *Resolver) resolveBusinesses(ctx context.Context, scoped store.Scoped, id *identity.Identity) ([]BusinessAccess, bool, error) {
	owned := r.port.Owned()

	ownedBusinesses, ownedOutcome, err := consistency.Read(ctx, id.ID, consistency.Source[store.Business]{
		Name:       "owned_businesses",
		Restricted: scoped.ListOwnedBusinesses,
		CountOwned: func(ctx context.Context) (int, error) {
			return owned.CountOwnedBusinesses(ctx, id.ID)
		},
		Owned: func(ctx context.Context) ([]store.Business, error) {
			return owned.ListOwnedBusinesses(ctx, id.ID)
		},
		Key:   func(b store.Business) uuid.UUID { return b.ID },
		Owner: func(b store.Business) uuid.UUID { return b.OwnerID },
	})
	if err != nil {
		return nil, false, err
	}
	r.recordOutcome(ctx, "owned_businesses", ownedOutcome)

	ownedRows := make([]businessRow, 0, len(ownedBusinesses))
	for _, b := range ownedBusinesses {
		ownedRows = append(ownedRows, businessRow{access: BusinessAccess{Business: b, Role: store.RoleOwner}, heal: true})
	}
	key := func(b businessRow) uuid.UUID { return b.access.Business.ID }

	rows, outcome, err := consistency.Read(ctx, id.ID, consistency.Source[businessRow]{
		Name: "business_memberships",
		Restricted: func(ctx context.Context) ([]businessRow, error) {
			memberships, err := scoped.ListBusinessMemberships(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]businessRow, 0, len(memberships))
			for _, m := range memberships {
				out = append(out, businessRow{access: BusinessAccess{Business: m.Business, Role: m.Member.Role}})
			}
			return out, nil
		},
		CountOwned: func(context.Context) (int, error) {
			return len(ownedRows), nil
		},
		Owned: func(context.Context) ([]businessRow, error) {
			return ownedRows, nil
		},
		Key:   key,
		Owner: func(b businessRow) uuid.UUID { return b.access.Business.OwnerID },
	})
	if err != nil {
		return nil, false, err
	}
	r.recordOutcome(ctx, "business_memberships", outcome)

	// Owned businesses are always part of the set, even next to other memberships.
	rows = consistency.Merge(rows, ownedRows, key)

	out := make([]BusinessAccess, 0, len(rows))
	for _, row := range rows {
		if row.heal {
			if err := r.healOwner(ctx, scoped, id, &row.access.Business); err != nil {
				return nil, false, err
			}
		}
		out = append(out, row.access)
	}

	complete := ownedOutcome != consistency.OutcomeFallbackOnly && outcome != consistency.OutcomeFallbackOnly
	return out, complete, nil
}

// healOwner writes the owner member row of b. The write is insert-or-ignore, so a
// concurrent resolution inserting the same row is harmless. An unavailable store is
// retried once.
func (r *Resolver) healOwner(ctx context.Context, scoped store.Scoped, id *identity.Identity, b *store.Business) error {
	member := &store.BusinessMember{
		BusinessID:  b.ID,
		IdentityID:  id.ID,
		Role:        store.RoleOwner,
		DisplayName: id.Name,
		Email:       identity.NormalizeEmail(id.Email),
	}

	inserted, err := backoff.Retry(ctx, func() (bool, error) {
		inserted, err := scoped.InsertBusinessMember(ctx, member)
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		if err != nil && !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
			return false, backoff.Permanent(err)
		}
		return inserted, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(2))
	if err != nil {
		log.Error().
			Err(err).
			Str("identity_id", id.ID.String()).
			Str("business_id", b.ID.String()).
			Msg("Failed to write owner member row")
		return fmt.Errorf("%w: self-heal of business %s: %v", apperrors.ErrUpstreamUnavailable, b.ID, err)
	}
	if !inserted {
		return nil
	}

	log.Info().
		Str("identity_id", id.ID.String()).
		Str("business_id", b.ID.String()).
		Msg("Self-healed missing owner member row")
	telemetry.Add(ctx, telemetry.GetMetrics().SelfHealedTotal, 1)
	if err := r.auditor.LogMembershipSelfHealed(ctx, b); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
	return nil
}

// claimDeferredGrants materializes approved access requests that could not be tied to
// an identity when they were approved and whose email matches id.
func (r *Resolver) claimDeferredGrants(ctx context.Context, scoped store.Scoped, id *identity.Identity) error {
	if id.Email == "" {
		return nil
	}
	pending, err := scoped.ListDeferredGrants(ctx)
	if err != nil {
		return err
	}

	for _, req := range pending {
		member := &store.BusinessMember{
			BusinessID:  req.BusinessID,
			IdentityID:  id.ID,
			Role:        req.RequestedRole,
			DisplayName: req.RequesterName,
			Email:       req.RequesterEmail,
		}
		_, err := scoped.CompleteDeferredGrant(ctx, req.ID, member, r.now())
		if errors.Is(err, store.ErrNotPending) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to complete deferred grant %s: %w", req.ID, err)
		}

		log.Info().
			Str("identity_id", id.ID.String()).
			Str("request_id", req.ID.String()).
			Str("business_id", req.BusinessID.String()).
			Msg("Completed deferred access grant")
		telemetry.Add(ctx, telemetry.GetMetrics().DeferredGrantsTotal, 1)
	}
	return nil
}

func (r *Resolver) recordOutcome(ctx context.Context, read string, outcome consistency.Outcome) {
	if outcome == consistency.OutcomeRestricted {
		return
	}
	telemetry.Add(ctx, telemetry.GetMetrics().FallbackReadsTotal, 1, "read", read, "outcome", string(outcome))
}
