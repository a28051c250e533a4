package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Cache stores permission snapshots by user id.
//
// A fill reads Generation before loading and passes the token to Set. Set
// drops the snapshot when an invalidation for that user, or a global one,
// happened in between, so a load that raced a mutation is never cached.
type Cache interface {
	Get(ctx context.Context, userID string) (*Snapshot, bool)
	Generation(ctx context.Context, userID string) (string, error)
	Set(ctx context.Context, userID, generation string, snap *Snapshot)
	Invalidate(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

// Cache defaults.
const (
	DefaultCacheTTL  = time.Minute
	DefaultCacheSize = 10000
)

// LocalCache is an in-process expiring LRU. It is only coherent within one
// process, so multi-instance deployments use RedisCache instead.
type LocalCache struct {
	lru *expirable.LRU[string, *Snapshot]

	mu         sync.Mutex
	generation uint64
}

// NewLocalCache creates a local cache holding up to size snapshots for ttl.
func NewLocalCache(size int, ttl time.Duration) *LocalCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LocalCache{lru: expirable.NewLRU[string, *Snapshot](size, nil, ttl)}
}

func (c *LocalCache) Get(_ context.Context, userID string) (*Snapshot, bool) {
	return c.lru.Get(userID)
}

// Generation is shared by every user; any invalidation advances it.
func (c *LocalCache) Generation(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strconv.FormatUint(c.generation, 10), nil
}

func (c *LocalCache) Set(_ context.Context, userID, generation string, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != strconv.FormatUint(c.generation, 10) {
		return
	}
	c.lru.Add(userID, snap)
}

func (c *LocalCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Remove(userID)
	return nil
}

func (c *LocalCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Purge()
	return nil
}

// Redis key layout. Generation counters carry no TTL; an expired counter
// would restart at zero and accept tokens taken before it expired.
const (
	redisKeyPrefix       = "warden:perm:"
	redisSnapshotPrefix  = redisKeyPrefix + "snap:"
	redisUserGenPrefix   = redisKeyPrefix + "gen:"
	redisGlobalGenKey    = redisKeyPrefix + "gen"
	redisGenerationDelim = "."
)

// setIfCurrent writes the entry only while both generation counters still
// match the token the fill started with.
var setIfCurrent = redis.NewScript(`
local g = redis.call('GET', KEYS[1]) or '0'
local u = redis.call('GET', KEYS[2]) or '0'
if g .. '.' .. u ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
return 1
`)

type redisEntry struct {
	Generation string    `json:"generation"`
	Snapshot   *Snapshot `json:"snapshot"`
}

// RedisCache shares snapshots between instances. Invalidation advances a
// per-user or global counter in Redis; entries written under an older
// counter are rejected on read and on write.
type RedisCache struct {
	client *storage.RedisClient
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache with the given entry TTL.
func NewRedisCache(client *storage.RedisClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func generationToken(global, user interface{}) string {
	str := func(v interface{}) string {
		if s, ok := v.(string); ok {
			return s
		}
		return "0"
	}
	return str(global) + redisGenerationDelim + str(user)
}

// Get treats Redis errors as a miss; the resolver then reads the database.
func (c *RedisCache) Get(ctx context.Context, userID string) (*Snapshot, bool) {
	vals, err := c.client.Client().MGet(ctx, redisGlobalGenKey, redisUserGenPrefix+userID, redisSnapshotPrefix+userID).Result()
	if err != nil || len(vals) != 3 {
		return nil, false
	}
	raw, ok := vals[2].(string)
	if !ok {
		return nil, false
	}
	var entry redisEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Snapshot == nil {
		return nil, false
	}
	if entry.Generation != generationToken(vals[0], vals[1]) {
		return nil, false
	}
	return entry.Snapshot, true
}

func (c *RedisCache) Generation(ctx context.Context, userID string) (string, error) {
	vals, err := c.client.Client().MGet(ctx, redisGlobalGenKey, redisUserGenPrefix+userID).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read permission cache generation: %w", err)
	}
	return generationToken(vals[0], vals[1]), nil
}

func (c *RedisCache) Set(ctx context.Context, userID, generation string, snap *Snapshot) {
	data, err := json.Marshal(redisEntry{Generation: generation, Snapshot: snap})
	if err != nil {
		return
	}
	keys := []string{redisGlobalGenKey, redisUserGenPrefix + userID, redisSnapshotPrefix + userID}
	_ = setIfCurrent.Run(ctx, c.client.Client(), keys, generation, data, c.ttl.Milliseconds()).Err()
}

// Invalidate advances the user's counter, then removes the entry. Once the
// counter has moved a leftover entry is never served, so a failed delete
// is not reported.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Client().Incr(ctx, redisUserGenPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate permissions for %s: %w", userID, err)
	}
	_ = c.client.Delete(ctx, redisSnapshotPrefix+userID)
	return nil
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Client().Incr(ctx, redisGlobalGenKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate permissions: %w", err)
	}
	_ = c.client.DeletePattern(ctx, redisSnapshotPrefix+"*")
	return nil
}

type noCache struct{}

func (noCache) Get(context.Context, string) (*Snapshot, bool)      { return nil, false }
func (noCache) Generation(context.Context, string) (string, error) { return "", nil }
func (noCache) Set(context.Context, string, string, *Snapshot)     {}
func (noCache) Invalidate(context.Context, string) error           { return nil }
func (noCache) InvalidateAll(context.Context) error                { return nil }

// NoCache disables caching; every check reads the database.
func NoCache() Cache {
	return noCache{}
}
