package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownEmail is returned when no single identity is known for an email.
var ErrUnknownEmail = fmt.Errorf("identity: no identity for email: %w", apperrors.ErrNotFound)

// Directory is the privileged identity lookup. It learns identities as they sign in.
type Directory interface {
	// Record upserts the identity and stamps it as seen.
	Record(ctx context.Context, id Identity) error
	// LookupByEmail returns the identity signed in under email. Returns ErrUnknownEmail
	// when none or more than one identity uses the address.
	LookupByEmail(ctx context.Context, email string) (*Identity, error)
}

// PGDirectory is a Directory backed by the identities table
type PGDirectory struct {
	pool *pgxpool.Pool
}

// NewPGDirectory creates a directory on pool. The pool's role must bypass row-level
// policy on identities.
func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) Record(ctx context.Context, id Identity) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO identities (id, email, display_name, last_seen_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    display_name = EXCLUDED.display_name,
		    last_seen_at = NOW()
	`, id.ID, NormalizeEmail(id.Email), id.Name)
	if err != nil {
		return apperrors.Upstream(fmt.Errorf("failed to record identity: %w", err))
	}
	return nil
}

func (d *PGDirectory) LookupByEmail(ctx context.Context, email string) (*Identity, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, email, display_name
		FROM identities
		WHERE lower(email) = $1
		LIMIT 2
	`, NormalizeEmail(email))
	if err != nil {
		return nil, apperrors.Upstream(fmt.Errorf("failed to look up identity: %w", err))
	}

	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Identity, error) {
		var id Identity
		err := row.Scan(&id.ID, &id.Email, &id.Name)
		return id, err
	})
	if err != nil {
		return nil, apperrors.Upstream(fmt.Errorf("failed to scan identity: %w", err))
	}
	if len(found) != 1 {
		return nil, ErrUnknownEmail
	}
	return &found[0], nil
}

// MemoryDirectory is a Directory kept in process memory
type MemoryDirectory struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]Identity
	lastSeen map[uuid.UUID]time.Time
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:     make(map[uuid.UUID]Identity),
		lastSeen: make(map[uuid.UUID]time.Time),
	}
}

func (d *MemoryDirectory) Record(ctx context.Context, id Identity) error {
	if id.ID == uuid.Nil {
		return errors.New("identity id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id.Email = NormalizeEmail(id.Email)
	d.byID[id.ID] = id
	d.lastSeen[id.ID] = time.Now().UTC()
	return nil
}

func (d *MemoryDirectory) LookupByEmail(ctx context.Context, email string) (*Identity, error) {
	email = NormalizeEmail(email)
	d.mu.RLock()
	defer d.mu.RUnlock()

	var match *Identity
	for _, id := range d.byID {
		if id.Email != email {
			continue
		}
		if match != nil {
			return nil, ErrUnknownEmail
		}
		found := id
		match = &found
	}
	if match == nil {
		return nil, ErrUnknownEmail
	}
	return match, nil
}
