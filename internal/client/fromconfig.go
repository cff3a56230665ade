package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/ar-io/wayfinder-go/internal/config"
	"github.com/ar-io/wayfinder-go/internal/events"
	"github.com/ar-io/wayfinder-go/internal/gateways"
	"github.com/ar-io/wayfinder-go/internal/logger"
	"github.com/ar-io/wayfinder-go/internal/manifest"
	"github.com/ar-io/wayfinder-go/internal/metrics"
	"github.com/ar-io/wayfinder-go/internal/routing"
	"github.com/ar-io/wayfinder-go/internal/verification"
)

// FromConfig assembles a Client from the loaded configuration, wiring the
// provider chain, routing and verification strategies, caches, metrics and
// the verification outcome recorder the way the config names them.
// The returned Recorder should be closed on shutdown to flush pending
// outcome logs.
func FromConfig(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*Client, *metrics.Registry, *logger.Recorder, error) {
	var provider gateways.Provider

	if len(cfg.Gateways) > 0 {
		urls, err := cfg.GatewayURLs()
		if err != nil {
			return nil, nil, nil, err
		}
		provider, err = gateways.NewStatic(urls)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		network, err := gateways.NewNetwork(cfg.Registry.URL,
			gateways.WithLimit(cfg.Registry.Limit),
			gateways.WithSortKey(gateways.SortKey(cfg.Registry.SortKey)),
			gateways.WithLogger(log),
		)
		if err != nil {
			return nil, nil, nil, err
		}
		provider = network
	}

	if cfg.Cache.Enabled {
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		if cfg.Redis.URL != "" {
			redisProvider, err := gateways.NewRedisFromURL(ctx, provider, cfg.Redis.URL, ttl, log)
			if err != nil {
				return nil, nil, nil, err
			}
			provider = redisProvider
		} else {
			provider = gateways.NewCached(provider, ttl, log)
		}
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New(version)
	}

	route, err := routingFromConfig(cfg, provider, reg, log)
	if err != nil {
		return nil, nil, nil, err
	}

	verifier, err := verificationFromConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// Verification outcomes flow from the emitter into the async recorder.
	emitter := events.New(log)
	recorder := logger.NewRecorder(log)
	recorder.Attach(emitter)

	c, err := New(
		WithGatewaysProvider(provider),
		WithRoutingStrategy(route),
		WithVerificationStrategy(verifier),
		WithStrict(cfg.Verification.Strict),
		WithTimeout(cfg.RequestTimeout),
		WithEmitter(emitter),
		WithMetrics(reg),
		WithLogger(log),
		WithManifestOptions(
			manifest.WithConcurrency(cfg.Verification.ManifestConcurrency),
			manifest.WithMaxDepth(cfg.Verification.ManifestMaxDepth),
		),
	)
	if err != nil {
		recorder.Close()
		return nil, nil, nil, err
	}
	return c, reg, recorder, nil
}

func routingFromConfig(cfg *config.Config, provider gateways.Provider, reg *metrics.Registry, log *slog.Logger) (routing.Strategy, error) {
	switch cfg.Routing.Strategy {
	case "round-robin":
		return routing.NewRoundRobin(provider), nil

	case "fastest-ping":
		return routing.NewFastestPing(provider,
			routing.WithProbeTimeout(cfg.Routing.PingTimeout),
			routing.WithProbeConcurrency(cfg.Routing.ProbeConcurrency),
			routing.WithProbeMetrics(reg),
		), nil

	case "preferred", "static":
		preferred, err := config.ParseGatewayURL(cfg.Routing.PreferredGateway)
		if err != nil {
			return nil, err
		}
		if cfg.Routing.Strategy == "static" {
			return routing.NewStatic(preferred, log), nil
		}
		return routing.NewPreferredWithFallback(preferred, nil, provider, log), nil

	default: // "random"
		return routing.NewRandom(provider), nil
	}
}

func verificationFromConfig(cfg *config.Config) (verification.Strategy, error) {
	if cfg.Verification.Strategy == "none" {
		return nil, nil
	}
	if cfg.Verification.Strategy == "remote" {
		return verification.NewRemote(), nil
	}

	urls, err := cfg.TrustedGatewayURLs()
	if err != nil {
		return nil, err
	}
	trusted, err := verification.NewTrustedGateways(urls,
		verification.WithTrustedConcurrency(cfg.Verification.DigestConcurrency),
	)
	if err != nil {
		return nil, err
	}

	switch cfg.Verification.Strategy {
	case "data-root":
		return verification.NewDataRoot(trusted, nil), nil
	case "signature":
		return verification.NewSignature(trusted), nil
	default: // "hash"
		return verification.NewHash(trusted), nil
	}
}
