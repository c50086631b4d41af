// Package accountcache provides a redis-backed cache of account
// metadata (id, display name) for deployments that run more than one
// server process against a shared storage back-end. It is purely an
// optimisation over pkg/directory's own in-memory account table: a
// miss or a redis outage only costs an extra lookup through the
// directory, never a correctness failure, since the directory itself
// remains the source of truth for account existence and permissions.
package accountcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dreamware/infdserver/pkg/acl"
)

var Error = errs.Class("accountcache")

// DefaultTTL bounds how long a cached entry is trusted before a fresh
// directory lookup is required, so a renamed or removed account is
// never masked by a stale cache entry for longer than this.
const DefaultTTL = 5 * time.Minute

// Client is the minimal redis surface the cache needs, narrow enough
// to fake in tests without a running server.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger attaches a logger for cache-layer warnings (redis errors
// are never fatal to a lookup, so they are logged rather than
// returned where a caller would have no recovery to do anyway).
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache wraps a redis client with the account-metadata key layout.
type Cache struct {
	client Client
	ttl    time.Duration
	logger *zap.Logger
}

// New returns a Cache backed by client.
func New(client Client, opts ...Option) *Cache {
	c := &Cache{client: client, ttl: DefaultTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account is the cache's own copy of an account's id and display
// name, kept independent of pkg/directory's type of the same shape so
// the two packages don't import each other.
type Account struct {
	ID   acl.AccountID `json:"id"`
	Name string        `json:"name"`
}

func accountKey(id acl.AccountID) string {
	return "infd:account:" + string(id)
}

// Get returns the cached account, or ok == false on a miss (including
// a redis error, which is treated the same as a miss since the caller
// always has the directory itself to fall back to).
func (c *Cache) Get(ctx context.Context, id acl.AccountID) (*Account, bool) {
	raw, err := c.client.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("accountcache get failed", zap.String("account", string(id)), zap.Error(err))
		}
		return nil, false
	}

	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		c.logger.Warn("accountcache entry corrupt", zap.String("account", string(id)), zap.Error(err))
		return nil, false
	}
	return &a, true
}

// Set stores acc with the cache's configured TTL.
func (c *Cache) Set(ctx context.Context, acc Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := c.client.Set(ctx, accountKey(acc.ID), raw, c.ttl).Err(); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// Invalidate drops a cached entry, for use after a rename or removal
// so a stale entry never outlives the directory's own state change.
func (c *Cache) Invalidate(ctx context.Context, id acl.AccountID) error {
	if err := c.client.Del(ctx, accountKey(id)).Err(); err != nil {
		return Error.Wrap(err)
	}
	return nil
}
