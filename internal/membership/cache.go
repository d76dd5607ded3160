package membership

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache holds resolved memberships per identity between explicit invalidations.
//
// Every Delete advances the identity's generation. A resolver reads the generation
// before it reads the store and hands it back to Set, which drops the write when an
// invalidation happened in between. A ttl of zero disables caching.
type Cache interface {
	Get(ctx context.Context, identityID uuid.UUID) (*Membership, bool)
	// Generation returns the current generation of identityID. ok is false when it
	// cannot be read, and the caller must not cache.
	Generation(ctx context.Context, identityID uuid.UUID) (gen uint64, ok bool)
	Set(ctx context.Context, m *Membership, gen uint64)
	Delete(ctx context.Context, identityID uuid.UUID)
}

type cacheEntry struct {
	membership *Membership
	expiresAt  time.Time
}

// MemoryCache is a process-local Cache with a fixed TTL
type MemoryCache struct {
	mu          sync.Mutex
	ttl         time.Duration
	entries     map[uuid.UUID]cacheEntry
	generations map[uuid.UUID]uint64
	now         func() time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:         ttl,
		entries:     make(map[uuid.UUID]cacheEntry),
		generations: make(map[uuid.UUID]uint64),
		now:         time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, identityID uuid.UUID) (*Membership, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[identityID]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, identityID)
		return nil, false
	}
	return e.membership, true
}

func (c *MemoryCache) Generation(ctx context.Context, identityID uuid.UUID) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[identityID], true
}

func (c *MemoryCache) Set(ctx context.Context, m *Membership, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[m.IdentityID] != gen {
		return
	}
	c.entries[m.IdentityID] = cacheEntry{membership: m, expiresAt: c.now().Add(c.ttl)}
}

func (c *MemoryCache) Delete(ctx context.Context, identityID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[identityID]++
	delete(c.entries, identityID)
}

type noCache struct{}

func (noCache) Get(context.Context, uuid.UUID) (*Membership, bool)   { return nil, false }
func (noCache) Generation(context.Context, uuid.UUID) (uint64, bool) { return 0, false }
func (noCache) Set(context.Context, *Membership, uint64)             {}
func (noCache) Delete(context.Context, uuid.UUID)                    {}
