// Package routing implements the gateway selection strategies.
//
// All strategies implement Strategy. Wrapper strategies (Ping, Cached,
// PreferredWithFallback) own an inner strategy and decorate its choice.
// Strategies never mutate the gateway slice passed in; list ownership stays
// with the caller.
package routing

import (
	"context"
	"net/url"
	"strings"

	"github.com/ar-io/wayfinder-go/internal/gateways"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// SelectionParams carries the per-request inputs to a selection.
type SelectionParams struct {
	// Gateways is the candidate list. When empty, strategies fall back to
	// their injected gateways.Provider if they hold one.
	Gateways []*url.URL

	// Path is the request path used by probing strategies.
	Path string

	// Subdomain, when set, is prepended to the gateway host for probes and
	// the returned selection context.
	Subdomain string
}

// Strategy picks one gateway per call.
type Strategy interface {
	// Name identifies the strategy in logs, events and metrics.
	Name() string

	// SelectGateway returns the chosen gateway URL. Empty candidate input
	// with no fallback provider fails with KindNoGateways.
	SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error)
}

// resolveGateways returns params.Gateways or falls back to provider.
func resolveGateways(ctx context.Context, params SelectionParams, provider gateways.Provider) ([]*url.URL, error) {
	if len(params.Gateways) > 0 {
		return params.Gateways, nil
	}
	if provider == nil {
		return nil, wferr.New(wferr.KindNoGateways, "no gateways supplied and no provider configured")
	}
	urls, err := provider.Gateways(ctx)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, wferr.New(wferr.KindNoGateways, "provider returned no gateways")
	}
	return urls, nil
}

// probeURL builds the URL a HEAD probe targets: gateway plus path, with the
// subdomain (when present) prepended to the gateway host.
func probeURL(gateway *url.URL, path, subdomain string) string {
	u := *gateway
	if subdomain != "" {
		host := u.Hostname()
		if port := u.Port(); port != "" {
			u.Host = subdomain + "." + host + ":" + port
		} else {
			u.Host = subdomain + "." + host
		}
	}
	if path != "" {
		u.Path = "/" + strings.TrimPrefix(path, "/")
	}
	return u.String()
}
