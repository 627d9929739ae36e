package groups

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResolver fronts a slow directory backend with a Redis cache.
// Membership changes propagate after at most TTL; permission checks hit the
// backend only on cache miss.
type CachedResolver struct {
	backend Resolver
	client  *redis.Client
	ttl     time.Duration
}

// NewCachedResolver wraps backend with a Redis cache at addr.
func NewCachedResolver(backend Resolver, addr, password string, db int, ttl time.Duration) *CachedResolver {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &CachedResolver{backend: backend, client: rdb, ttl: ttl}
}

func (r *CachedResolver) cacheKey(userID string) string {
	return "datakeep:groups:" + userID
}

func (r *CachedResolver) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	key := r.cacheKey(userID)

	val, err := r.client.Get(ctx, key).Result()
	if err == nil {
		var cached []string
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			return cached, nil
		}
		// Corrupt cache entry: fall through to the backend and overwrite.
	} else if err != redis.Nil {
		// Redis down: degrade to the backend rather than denying access checks.
		return r.backend.GroupsOf(ctx, userID)
	}

	groups, err := r.backend.GroupsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("groups backend: %w", err)
	}

	encoded, err := json.Marshal(groups)
	if err == nil {
		_ = r.client.Set(ctx, key, encoded, r.ttl).Err()
	}
	return groups, nil
}

// Invalidate drops the cached membership for a user (e.g. after an admin
// changes group assignments).
func (r *CachedResolver) Invalidate(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.cacheKey(userID)).Err()
}
