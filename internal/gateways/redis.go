package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// cacheKey is the fixed key the serialized gateway list lives under.
const cacheKey = "wayfinder-gateways-cache"

const redisOpTimeout = 500 * time.Millisecond

// cacheRecord is the persisted value shape.
type cacheRecord struct {
	Gateways   []string `json:"gateways"`
	Timestamp  int64    `json:"timestamp"`
	TTLSeconds int64    `json:"ttlSeconds"`
}

// RedisProvider wraps an inner Provider with a persistent gateway-list
// cache so fresh processes start from the last known list.
//
// Semantics match CachedProvider: single-flight refresh, stale list kept
// across failed refreshes. All redis operations degrade gracefully — a
// down redis never fails the provider, it only disables persistence.
type RedisProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger

	group singleflight.Group
}

// NewRedis wraps inner with a redis-persisted cache.
func NewRedis(inner Provider, client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisProvider {
	return &RedisProvider{inner: inner, client: client, ttl: ttl, log: log}
}

// NewRedisFromURL connects to redisURL (verified with a PING) and wraps
// inner. The provider owns the client and releases it in Close.
func NewRedisFromURL(ctx context.Context, inner Provider, redisURL string, ttl time.Duration, log *slog.Logger) (*RedisProvider, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("gateways: parse redis url: %w", err)
	}

	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("gateways: redis ping: %w", err)
	}

	return NewRedis(inner, cli, ttl, log), nil
}

// Gateways returns the persisted list when fresh, refreshing through the
// inner provider otherwise.
func (p *RedisProvider) Gateways(ctx context.Context) ([]*url.URL, error) {
	if urls, ok := p.load(ctx, false); ok {
		return urls, nil
	}

	v, err, _ := p.group.Do(cacheKey, func() (any, error) {
		if urls, ok := p.load(ctx, false); ok {
			return urls, nil
		}

		urls, err := p.inner.Gateways(ctx)
		if err != nil {
			// Expired-but-present value beats no value.
			if stale, ok := p.load(ctx, true); ok {
				if p.log != nil {
					p.log.Warn("gateway_refresh_failed_serving_stale",
						slog.Int("gateways", len(stale)),
						slog.String("error", err.Error()),
					)
				}
				return stale, nil
			}
			return nil, err
		}

		p.store(ctx, urls)
		return urls, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*url.URL), nil
}

// Close releases the redis connection pool.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// load reads and decodes the cached record. With allowStale it ignores the
// record's age.
func (p *RedisProvider) load(ctx context.Context, allowStale bool) ([]*url.URL, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := p.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err != redis.Nil && p.log != nil {
			p.log.Warn("gateway_cache_get_error", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var rec cacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		if p.log != nil {
			p.log.Warn("gateway_cache_decode_error", slog.String("error", err.Error()))
		}
		return nil, false
	}

	if !allowStale {
		age := time.Since(time.UnixMilli(rec.Timestamp))
		if age >= time.Duration(rec.TTLSeconds)*time.Second {
			return nil, false
		}
	}

	urls := make([]*url.URL, 0, len(rec.Gateways))
	for _, g := range rec.Gateways {
		u, err := url.Parse(g)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, false
	}
	return urls, true
}

// store persists urls; failures are logged, never propagated. The record
// stays in redis without a key TTL so stale reads survive long outages.
func (p *RedisProvider) store(ctx context.Context, urls []*url.URL) {
	rec := cacheRecord{
		Gateways:   make([]string, 0, len(urls)),
		Timestamp:  time.Now().UnixMilli(),
		TTLSeconds: int64(p.ttl / time.Second),
	}
	for _, u := range urls {
		rec.Gateways = append(rec.Gateways, u.String())
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := p.client.Set(ctx, cacheKey, raw, 0).Err(); err != nil && p.log != nil {
		p.log.Warn("gateway_cache_set_error", slog.String("error", err.Error()))
	}
}
