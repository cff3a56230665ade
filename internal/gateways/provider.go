// Package gateways provides the sources of gateway URLs the router selects
// from.
//
// Two concrete sources are available:
//   - StaticProvider  — fixed list supplied at construction.
//   - NetworkProvider — discovers gateways from the network registry.
//
// Both can be wrapped in CachedProvider (in-process TTL cache) and
// RedisProvider (persistent gateway-list cache). Caches preserve stale
// results across failed refreshes rather than returning an empty list.
package gateways

import (
	"context"
	"net/url"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Provider is a source of gateway URLs.
//
// Implementations return a non-empty ordered list on success and a typed
// error on failure. Callers own the returned slice.
type Provider interface {
	Gateways(ctx context.Context) ([]*url.URL, error)
}

// StaticProvider serves a fixed gateway list.
type StaticProvider struct {
	urls []*url.URL
}

// NewStatic builds a provider over the given list. The list must be
// non-empty; every URL must be absolute with a host.
func NewStatic(urls []*url.URL) (*StaticProvider, error) {
	if len(urls) == 0 {
		return nil, wferr.New(wferr.KindNoGateways, "static provider requires at least one gateway")
	}
	for _, u := range urls {
		if u == nil || !u.IsAbs() || u.Host == "" {
			return nil, wferr.Newf(wferr.KindNoGateways, "gateway URL %v is not absolute", u)
		}
	}
	cp := make([]*url.URL, len(urls))
	copy(cp, urls)
	return &StaticProvider{urls: cp}, nil
}

// Gateways returns a copy of the configured list.
func (p *StaticProvider) Gateways(_ context.Context) ([]*url.URL, error) {
	out := make([]*url.URL, len(p.urls))
	copy(out, p.urls)
	return out, nil
}
