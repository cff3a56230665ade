package routing

import (
	"context"
	"log/slog"
	"net/url"
)

// Static always returns the single gateway it was constructed with.
type Static struct {
	gateway *url.URL
	log     *slog.Logger
}

// NewStatic builds a Static strategy for gateway.
func NewStatic(gateway *url.URL, log *slog.Logger) *Static {
	return &Static{gateway: gateway, log: log}
}

func (s *Static) Name() string { return "static" }

// SelectGateway returns the configured gateway. A non-empty candidate list
// is ignored with a warning: callers combining Static with a provider are
// usually misconfigured.
func (s *Static) SelectGateway(_ context.Context, params SelectionParams) (*url.URL, error) {
	if len(params.Gateways) > 0 && s.log != nil {
		s.log.Warn("static_strategy_ignoring_gateways",
			slog.Int("supplied", len(params.Gateways)),
			slog.String("gateway", s.gateway.String()),
		)
	}
	return s.gateway, nil
}
