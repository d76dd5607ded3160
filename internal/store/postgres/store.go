// Package postgres implements store.Port on PostgreSQL. Scoped calls run under the
// bizdesk_app role so row-level policy applies; the owned-rows path and maintenance
// jobs run as the pool's own role.
package postgres

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AppRole is the database role scoped transactions switch to.
const AppRole = "bizdesk_app"

const defaultQueryTimeout = 5 * time.Second

// Store implements store.Port using PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithQueryTimeout bounds every store call. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// New creates a store on pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, timeout: defaultQueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return mapPostgresError(s.pool.Ping(ctx))
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// inScope runs fn in a transaction restricted to caller's row-level policy.
// inviteCode, when set, is the hash of an invite code the caller presented.
func (s *Store) inScope(ctx context.Context, caller store.Caller, inviteCode []byte, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+AppRole); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			SELECT set_config('app.identity_id', $1, true),
			       set_config('app.identity_email', $2, true),
			       set_config('app.invite_code', $3, true)
		`, caller.ID.String(), caller.Email, hex.EncodeToString(inviteCode)); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
	return mapPostgresError(err)
}

// unscoped runs fn on the pool without row-level policy.
func (s *Store) unscoped(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return mapPostgresError(fn(ctx, s.pool))
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
