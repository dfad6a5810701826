// Package identity provides the user-group directory contract consulted when
// a query filters by candidate user.
package identity

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// GroupResolver lists the groups a user belongs to.
type GroupResolver interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
}

// GroupResolverFunc adapts a function to GroupResolver.
type GroupResolverFunc func(ctx context.Context, userID string) ([]string, error)

// GroupsForUser calls f.
func (f GroupResolverFunc) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

// Static is a fixed user-to-groups directory.
type Static map[string][]string

// GroupsForUser returns a copy of the user's groups.
func (s Static) GroupsForUser(_ context.Context, userID string) ([]string, error) {
	return slices.Clone(s[userID]), nil
}

// Cached memoizes another resolver's answers for a bounded time.
//
// Entries expire after ttl and the cache holds at most capacity users.
// Start must run (usually in its own goroutine) for expired entries to be
// purged eagerly; lookups never return expired entries either way.
type Cached struct {
	next   GroupResolver
	cache  *ttlcache.Cache[string, []string]
	logger *slog.Logger
}

// NewCached wraps next with a TTL cache.
func NewCached(next GroupResolver, capacity int, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	c := ttlcache.New(
		ttlcache.WithCapacity[string, []string](uint64(capacity)),
		ttlcache.WithTTL[string, []string](ttl),
	)
	return &Cached{next: next, cache: c, logger: logger}
}

// GroupsForUser returns the cached groups or asks the wrapped resolver.
func (c *Cached) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	if item := c.cache.Get(userID); item != nil {
		return slices.Clone(item.Value()), nil
	}

	groups, err := c.next.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("cached user groups", "user", userID, "groups", len(groups))
	c.cache.Set(userID, slices.Clone(groups), ttlcache.DefaultTTL)
	return groups, nil
}

// Invalidate drops the cached entry for userID, e.g. after a membership
// change.
func (c *Cached) Invalidate(userID string) {
	c.cache.Delete(userID)
}

// Len returns the number of cached users.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Start runs the expiry loop until ctx is done.
func (c *Cached) Start(ctx context.Context) {
	go c.cache.Start()
	<-ctx.Done()
	c.cache.Stop()
}
