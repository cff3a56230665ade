package routing

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/ar-io/wayfinder-go/internal/gateways"
)

// PreferredWithFallback pins a preferred gateway, verified with a single
// health check, and falls back to another strategy when the preferred
// gateway is down.
type PreferredWithFallback struct {
	composite *Composite
}

// NewPreferredWithFallback builds the strategy. fallback may be nil, in
// which case a FastestPing over provider is used.
func NewPreferredWithFallback(preferred *url.URL, fallback Strategy, provider gateways.Provider, log *slog.Logger) *PreferredWithFallback {
	if fallback == nil {
		fallback = NewFastestPing(provider)
	}

	pinned := NewPing(
		NewStatic(preferred, log),
		WithPingRetries(1),
		WithPingTimeout(DefaultCheckTimeout),
		WithPingLogger(log),
	)

	// Construction cannot fail: both strategies are always present.
	composite, _ := NewComposite(log, pinned, fallback)

	return &PreferredWithFallback{composite: composite}
}

func (s *PreferredWithFallback) Name() string { return "preferred-with-fallback" }

func (s *PreferredWithFallback) SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error) {
	return s.composite.SelectGateway(ctx, params)
}
