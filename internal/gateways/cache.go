package gateways

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedProvider wraps an inner Provider with an in-process TTL cache.
//
// Refreshes are single-flight: concurrent callers that miss share one
// inner call. When a refresh fails and a previous list exists, the stale
// list is returned and the error is logged — never an empty list.
type CachedProvider struct {
	inner Provider
	ttl   time.Duration
	log   *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	snapshot  []*url.URL
	fetchedAt time.Time
}

// NewCached wraps inner with a cache holding results for ttl.
func NewCached(inner Provider, ttl time.Duration, log *slog.Logger) *CachedProvider {
	return &CachedProvider{inner: inner, ttl: ttl, log: log}
}

// Gateways returns the cached list when fresh, otherwise refreshes it.
func (c *CachedProvider) Gateways(ctx context.Context) ([]*url.URL, error) {
	if urls, ok := c.fresh(); ok {
		return urls, nil
	}

	v, err, _ := c.group.Do("gateways", func() (any, error) {
		// Re-check under the flight: another caller may have refreshed while
		// this one queued.
		if urls, ok := c.fresh(); ok {
			return urls, nil
		}

		urls, err := c.inner.Gateways(ctx)
		if err != nil {
			if stale := c.stale(); stale != nil {
				if c.log != nil {
					c.log.Warn("gateway_refresh_failed_serving_stale",
						slog.Int("gateways", len(stale)),
						slog.String("error", err.Error()),
					)
				}
				return stale, nil
			}
			return nil, err
		}

		c.mu.Lock()
		c.snapshot = urls
		c.fetchedAt = time.Now()
		c.mu.Unlock()

		return copyURLs(urls), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*url.URL), nil
}

// fresh returns a copy of the snapshot when it is within TTL.
func (c *CachedProvider) fresh() ([]*url.URL, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || time.Since(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return copyURLs(c.snapshot), true
}

// stale returns a copy of the snapshot regardless of age, or nil.
func (c *CachedProvider) stale() []*url.URL {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil
	}
	return copyURLs(c.snapshot)
}

func copyURLs(in []*url.URL) []*url.URL {
	out := make([]*url.URL, len(in))
	copy(out, in)
	return out
}
