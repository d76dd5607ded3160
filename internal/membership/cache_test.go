package membership

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetAfterInvalidationIsDropped(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour)
	id := uuid.New()

	gen, ok := c.Generation(ctx, id)
	require.True(t, ok)

	// Invalidated while the set was being resolved.
	c.Delete(ctx, id)
	c.Set(ctx, &Membership{IdentityID: id}, gen)
	_, ok = c.Get(ctx, id)
	require.False(t, ok)

	gen, _ = c.Generation(ctx, id)
	c.Set(ctx, &Membership{IdentityID: id}, gen)
	_, ok = c.Get(ctx, id)
	require.True(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	id := uuid.New()

	c.Set(ctx, &Membership{IdentityID: id}, 0)
	_, ok := c.Get(ctx, id)
	require.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get(ctx, id)
	require.False(t, ok)
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	c := NewMemoryCache(0)
	c.Set(ctx, &Membership{IdentityID: id}, 0)
	_, ok := c.Get(ctx, id)
	require.False(t, ok)

	// Returns before touching the client.
	require.NotPanics(t, func() {
		NewRedisCache(nil, 0).Set(ctx, &Membership{IdentityID: id}, 0)
	})
}
