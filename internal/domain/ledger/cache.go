package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

type cachedBalance struct {
	balance  int64
	valid    bool
	storedAt time.Time
	// seq of the last invalidation of this actor
	invalidated uint64
}

// LRUCache is a per-process balance cache with a TTL per entry.
//
// Generations come from one process-wide sequence. Each entry remembers
// the sequence of its last invalidation; when an entry is evicted, floor
// rises to that value so a fill older than the eviction is refused.
type LRUCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, cachedBalance]
	seq     uint64
	floor   uint64
	ttl     time.Duration
	now     func() time.Time
}

func NewLRUCache(size int, ttl time.Duration) (*LRUCache, error) {
	if size <= 0 {
		size = 10_000
	}
	c := &LRUCache{ttl: ttl, now: time.Now}
	entries, err := lru.NewWithEvict[string, cachedBalance](size, func(_ string, v cachedBalance) {
		// called with c.mu held
		c.floor = max(c.floor, v.invalidated)
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

func (c *LRUCache) Get(_ context.Context, actorRef string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(actorRef)
	if !ok || !v.valid {
		return 0, false, nil
	}
	if c.ttl > 0 && c.now().Sub(v.storedAt) > c.ttl {
		v.valid = false
		c.entries.Add(actorRef, v)
		return 0, false, nil
	}
	return v.balance, true, nil
}

func (c *LRUCache) Generation(context.Context, string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, nil
}

func (c *LRUCache) Fill(_ context.Context, actorRef string, gen uint64, balance int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen < c.floor {
		return false, nil
	}
	cur, _ := c.entries.Peek(actorRef)
	if cur.invalidated > gen {
		return false, nil
	}
	c.entries.Add(actorRef, cachedBalance{
		balance:     balance,
		valid:       true,
		storedAt:    c.now(),
		invalidated: cur.invalidated,
	})
	return true, nil
}

func (c *LRUCache) Invalidate(_ context.Context, actorRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries.Add(actorRef, cachedBalance{invalidated: c.seq})
	return nil
}

// RedisCache shares cached balances across instances. Each actor has a
// generation counter next to the value; invalidation bumps it and a fill
// only lands while the generation is still the one read before the replay.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	redisBalancePrefix = "eco:balance:"
	redisGenPrefix     = "eco:balance:gen:"

	// outlives any replay so a generation cannot reset under a reader
	redisGenTTL = 24 * time.Hour
)

var fillScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, actorRef string) (int64, bool, error) {
	balance, err := c.client.Get(ctx, redisBalancePrefix+actorRef).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, actorRef string) (uint64, error) {
	gen, err := c.client.Get(ctx, redisGenPrefix+actorRef).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) Fill(ctx context.Context, actorRef string, gen uint64, balance int64) (bool, error) {
	n, err := fillScript.Run(ctx, c.client,
		[]string{redisBalancePrefix + actorRef, redisGenPrefix + actorRef},
		gen, balance, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, actorRef string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, redisGenPrefix+actorRef)
		pipe.Expire(ctx, redisGenPrefix+actorRef, redisGenTTL)
		pipe.Del(ctx, redisBalancePrefix+actorRef)
		return nil
	})
	return err
}
