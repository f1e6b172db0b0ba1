// Package cache holds Redis-backed read caches.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
)

// DefaultCountTTL bounds how long a cached cart count may lag behind
// storage if an invalidation is lost.
const DefaultCountTTL = 30 * time.Second

var _ cart.CountCache = (*CartCounts)(nil)

// CartCounts caches cart line counts per user.
type CartCounts struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewCartCounts returns a CartCounts storing entries for ttl.
func NewCartCounts(rdb redis.Cmdable, ttl time.Duration) *CartCounts {
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}
	return &CartCounts{rdb: rdb, ttl: ttl}
}

// NewClient parses a redis:// URL and returns a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return redis.NewClient(opts), nil
}

func countKey(userID int64) string {
	return "cart:count:" + strconv.FormatInt(userID, 10)
}

func genKey(userID int64) string {
	return "cart:count:gen:" + strconv.FormatInt(userID, 10)
}

// genTTL keeps generations well beyond any count entry so a stale fill
// cannot match a generation that expired and restarted from zero.
const genTTL = 24 * time.Hour

// setIfGen writes the count only while the generation is unchanged.
var setIfGen = redis.NewScript(`
local gen = tonumber(redis.call("GET", KEYS[2]) or "0")
if gen ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "EX", ARGV[3])
return 1
`)

// Get returns the cached count, or the current generation on a miss. Redis
// failures count as a miss that Set will not fill.
func (c *CartCounts) Get(ctx context.Context, userID int64) (int, int64, bool) {
	vals, err := c.rdb.MGet(ctx, countKey(userID), genKey(userID)).Result()
	if err != nil {
		zctx.From(ctx).Warn("Read cart count", zap.Int64("user_id", userID), zap.Error(err))
		return 0, -1, false
	}

	var gen int64
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(s, 10, 64); err != nil {
			return 0, -1, false
		}
	}
	s, ok := vals[0].(string)
	if !ok {
		return 0, gen, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, gen, false
	}
	return n, gen, true
}

// Set stores n for the user unless the entry was invalidated after the Get
// that returned gen.
func (c *CartCounts) Set(ctx context.Context, userID int64, n int, gen int64) {
	if gen < 0 {
		return
	}
	err := setIfGen.Run(ctx, c.rdb,
		[]string{countKey(userID), genKey(userID)},
		gen, n, max(int64(c.ttl/time.Second), 1),
	).Err()
	if err != nil {
		zctx.From(ctx).Warn("Write cart count", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Invalidate drops the cached count and bumps the generation so in-flight
// fills are discarded.
func (c *CartCounts) Invalidate(ctx context.Context, userID int64) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(userID))
		pipe.Expire(ctx, genKey(userID), genTTL)
		pipe.Del(ctx, countKey(userID))
		return nil
	})
	if err != nil {
		zctx.From(ctx).Warn("Invalidate cart count", zap.Int64("user_id", userID), zap.Error(err))
	}
}
