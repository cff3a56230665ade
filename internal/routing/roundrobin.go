package routing

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/ar-io/wayfinder-go/internal/gateways"
)

// RoundRobin walks the candidate list with a monotonic per-instance cursor.
// Two instances never share state.
type RoundRobin struct {
	provider gateways.Provider
	cursor   uint64

	// loaded caches the provider list after the first lazy load so the
	// cursor walks a stable sequence.
	loadOnce sync.Once
	loadErr  error
	loaded   []*url.URL
}

// NewRoundRobin builds a RoundRobin strategy. provider may be nil when
// callers always pass gateways in params.
func NewRoundRobin(provider gateways.Provider) *RoundRobin {
	return &RoundRobin{provider: provider}
}

func (s *RoundRobin) Name() string { return "round-robin" }

// SelectGateway returns the next candidate in turn. When params carry no
// gateways the provider list is loaded lazily on first call and reused.
func (s *RoundRobin) SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error) {
	urls := params.Gateways
	if len(urls) == 0 {
		s.loadOnce.Do(func() {
			s.loaded, s.loadErr = resolveGateways(ctx, params, s.provider)
		})
		if s.loadErr != nil {
			return nil, s.loadErr
		}
		urls = s.loaded
	}

	idx := atomic.AddUint64(&s.cursor, 1)
	return urls[(idx-1)%uint64(len(urls))], nil
}
