package routing

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cached memoises the inner strategy's last selection for a TTL.
//
// Concurrent callers that miss share one pending selection. When a refresh
// fails, the stale selection is returned if one exists; otherwise the error
// propagates.
type Cached struct {
	inner Strategy
	ttl   time.Duration
	log   *slog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	selected   *url.URL
	selectedAt time.Time
}

// NewCachedStrategy wraps inner with a selection cache holding the pick for
// ttl.
func NewCachedStrategy(inner Strategy, ttl time.Duration, log *slog.Logger) *Cached {
	return &Cached{inner: inner, ttl: ttl, log: log}
}

func (s *Cached) Name() string { return "cached(" + s.inner.Name() + ")" }

// SelectGateway returns the memoised pick when fresh, refreshing through
// the inner strategy otherwise.
func (s *Cached) SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error) {
	if gw, ok := s.fresh(); ok {
		return gw, nil
	}

	v, err, _ := s.group.Do("select", func() (any, error) {
		if gw, ok := s.fresh(); ok {
			return gw, nil
		}

		gw, err := s.inner.SelectGateway(ctx, params)
		if err != nil {
			s.mu.RLock()
			stale := s.selected
			s.mu.RUnlock()
			if stale != nil {
				if s.log != nil {
					s.log.Warn("selection_refresh_failed_serving_stale",
						slog.String("gateway", stale.String()),
						slog.String("error", err.Error()),
					)
				}
				return stale, nil
			}
			return nil, err
		}

		s.mu.Lock()
		s.selected = gw
		s.selectedAt = time.Now()
		s.mu.Unlock()

		return gw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*url.URL), nil
}

func (s *Cached) fresh() (*url.URL, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil || time.Since(s.selectedAt) >= s.ttl {
		return nil, false
	}
	return s.selected, true
}
