package membership

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix        = "bizdesk:membership:"
	redisGenerationPrefix = "bizdesk:membership-gen:"

	// Generation keys outlive any resolution in flight by a wide margin.
	redisGenerationTTL = 24 * time.Hour
)

// RedisCache shares resolved memberships across instances. Redis failures degrade to
// cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache on client whose entries expire after ttl.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(identityID uuid.UUID) string {
	return redisKeyPrefix + identityID.String()
}

func redisGenerationKey(identityID uuid.UUID) string {
	return redisGenerationPrefix + identityID.String()
}

func (c *RedisCache) Get(ctx context.Context, identityID uuid.UUID) (*Membership, bool) {
	raw, err := c.client.Get(ctx, redisKey(identityID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("Membership cache read failed")
		}
		return nil, false
	}

	var m Membership
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Warn().Err(err).Str("identity_id", identityID.String()).Msg("Discarding unreadable membership cache entry")
		c.Delete(ctx, identityID)
		return nil, false
	}
	return &m, true
}

func (c *RedisCache) Generation(ctx context.Context, identityID uuid.UUID) (uint64, bool) {
	gen, err := readGeneration(ctx, c.client, identityID)
	if err != nil {
		log.Warn().Err(err).Msg("Membership cache generation read failed")
		return 0, false
	}
	return gen, true
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, cmd stringGetter, identityID uuid.UUID) (uint64, error) {
	gen, err := cmd.Get(ctx, redisGenerationKey(identityID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set writes m under WATCH on the generation key, so an invalidation that lands
// between the check and the write aborts the transaction.
func (c *RedisCache) Set(ctx context.Context, m *Membership, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode membership for cache")
		return
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, m.IdentityID)
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey(m.IdentityID), raw, c.ttl)
			return nil
		})
		return err
	}, redisGenerationKey(m.IdentityID))

	switch {
	case err == nil, errors.Is(err, redis.TxFailedErr):
	default:
		log.Warn().Err(err).Msg("Membership cache write failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, identityID uuid.UUID) {
	genKey := redisGenerationKey(identityID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, redisGenerationTTL)
		pipe.Del(ctx, redisKey(identityID))
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("identity_id", identityID.String()).Msg("Membership cache invalidation failed")
	}
}
