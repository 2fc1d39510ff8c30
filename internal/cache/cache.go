// Package cache provides an optional Redis-backed result cache. Documents
// are content-addressed, so a deck that was already processed can return its
// result payload without rendering anything again. The cache is strictly an
// optimization: every operation degrades to a miss on error.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long cached results live without being refreshed.
const DefaultTTL = 24 * time.Hour

// Cache wraps a Redis client. The zero-value-like Disabled cache is a
// guaranteed miss, for deployments without Redis.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewRedis connects a result cache to Redis. The connection is verified
// lazily; a dead Redis behaves as a permanent miss.
func NewRedis(addr, password string, db int, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl: ttl,
		log: log.With().Str("component", "result_cache").Logger(),
	}
}

// Disabled returns a cache that never hits.
func Disabled() *Cache {
	return &Cache{}
}

// Enabled reports whether a Redis backend is configured.
func (c *Cache) Enabled() bool {
	return c.rdb != nil
}

// Variants for the processing options that change what a result payload
// contains. A deck processed without thumbnails must not satisfy a request
// that asked for them, so each option set caches under its own key.
const (
	VariantBase   = "base"
	VariantThumbs = "thumbs"
)

var variants = []string{VariantBase, VariantThumbs}

// VariantFor names the cache variant for a job's output options.
func VariantFor(thumbnails bool) string {
	if thumbnails {
		return VariantThumbs
	}
	return VariantBase
}

func resultKey(documentID, variant string) string {
	return "pptx:result:" + documentID + ":" + variant
}

// GetResult returns the cached result payload for a document and option
// variant, with a hit flag. Errors count as misses and are logged at debug
// level only.
func (c *Cache) GetResult(ctx context.Context, documentID, variant string) ([]byte, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, resultKey(documentID, variant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Debug().Err(err).Str("document_id", documentID).Msg("cache read failed")
		return nil, false
	}
	return data, true
}

// SetResult stores a result payload under its option variant. Failures are
// logged and swallowed.
func (c *Cache) SetResult(ctx context.Context, documentID, variant string, payload []byte) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, resultKey(documentID, variant), payload, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("document_id", documentID).Msg("cache write failed")
	}
}

// Invalidate drops a document's cached results across all variants, used
// when a job is retried with force regeneration.
func (c *Cache) Invalidate(ctx context.Context, documentID string) {
	if c.rdb == nil {
		return
	}
	keys := make([]string, len(variants))
	for i, v := range variants {
		keys[i] = resultKey(documentID, v)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Debug().Err(err).Str("document_id", documentID).Msg("cache invalidate failed")
	}
}

// Ping reports cache reachability for health checks. A disabled cache is
// healthy by definition.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
