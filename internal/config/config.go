// Package config loads and validates all runtime configuration for the
// WayFinder client.
//
// Configuration is read from environment variables (preferred for
// containers) or from a wayfinder.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example TRUSTED_GATEWAYS becomes
// trusted_gateways in YAML.
//
// Nothing is strictly required: with no configuration at all the client
// discovers gateways from the public registry, routes randomly and verifies
// digests against the default trusted gateway.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// LogLevel controls the minimum log level. One of: debug, info, warn,
	// error. Default: info.
	LogLevel string

	// Gateways is an optional static gateway list. When set, the network
	// registry is not consulted.
	Gateways []string

	// Registry configures gateway discovery from the network registry.
	Registry RegistryConfig

	// Routing selects and tunes the routing strategy.
	Routing RoutingConfig

	// Verification selects and tunes the verification strategy.
	Verification VerificationConfig

	// Cache controls gateway-list caching.
	Cache CacheConfig

	// Redis holds the connection URL for the persistent gateway-list cache.
	// Leave empty to keep the cache in-process only.
	Redis RedisConfig

	// RequestTimeout bounds one full request through the pipeline.
	// Default: 30s.
	RequestTimeout time.Duration

	// Metrics controls the prometheus registry.
	Metrics MetricsConfig
}

// RegistryConfig configures the network gateways provider.
type RegistryConfig struct {
	// URL is the gateway registry endpoint.
	URL string

	// Limit caps the emitted gateway list. Default: 10.
	Limit int

	// SortKey ranks discovered gateways. One of: operatorStake,
	// totalDelegatedStake, startTimestamp, performanceRatio,
	// compositeWeight, passedConsecutiveEpochs, tenureWeight, stakeWeight,
	// normalizedCompositeWeight. Default: normalizedCompositeWeight.
	SortKey string
}

// RoutingConfig selects the routing strategy.
type RoutingConfig struct {
	// Strategy is one of: random, round-robin, fastest-ping, preferred,
	// static. Default: random.
	Strategy string

	// PreferredGateway is required for the preferred and static strategies.
	PreferredGateway string

	// PingTimeout bounds each HEAD probe. Default: 500ms.
	PingTimeout time.Duration

	// ProbeConcurrency caps concurrent HEAD probes. Default: 50.
	ProbeConcurrency int
}

// VerificationConfig selects the verification strategy.
type VerificationConfig struct {
	// Strategy is one of: hash, data-root, signature, remote, none.
	// Default: hash.
	Strategy string

	// TrustedGateways are the verification oracles.
	TrustedGateways []string

	// Strict errors the delivered stream on verification failure instead of
	// reporting it through events only.
	Strict bool

	// DigestConcurrency caps concurrent trusted-digest lookups. Default: 1.
	DigestConcurrency int

	// ManifestConcurrency caps concurrent manifest resource verifications.
	// Default: 10.
	ManifestConcurrency int

	// ManifestMaxDepth bounds manifest recursion. Default: 5.
	ManifestMaxDepth int
}

// CacheConfig controls gateway-list caching.
type CacheConfig struct {
	// Enabled toggles the TTL cache around the gateways provider.
	// Default: true.
	Enabled bool

	// TTLSeconds is the gateway-list time to live in seconds. Default: 300.
	TTLSeconds int
}

// RedisConfig holds the optional persistent cache connection.
type RedisConfig struct {
	URL string
}

// MetricsConfig controls the prometheus registry.
type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables and (optionally) from
// wayfinder.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("wayfinder")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("REGISTRY_URL", "https://api.arns.app/v1/gateways")
	v.SetDefault("GATEWAY_LIMIT", 10)
	v.SetDefault("GATEWAY_SORT", "normalizedCompositeWeight")

	v.SetDefault("ROUTING_STRATEGY", "random")
	v.SetDefault("PING_TIMEOUT_MS", 500)
	v.SetDefault("PROBE_CONCURRENCY", 50)

	v.SetDefault("VERIFICATION_STRATEGY", "hash")
	v.SetDefault("TRUSTED_GATEWAYS", []string{"https://permagate.io"})
	v.SetDefault("STRICT_VERIFICATION", false)
	v.SetDefault("DIGEST_CONCURRENCY", 1)
	v.SetDefault("MANIFEST_CONCURRENCY", 10)
	v.SetDefault("MANIFEST_MAX_DEPTH", 5)

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL_SECONDS", 300)

	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("METRICS_ENABLED", true)

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Gateways: splitList(v.GetStringSlice("GATEWAYS")),

		Registry: RegistryConfig{
			URL:     v.GetString("REGISTRY_URL"),
			Limit:   v.GetInt("GATEWAY_LIMIT"),
			SortKey: v.GetString("GATEWAY_SORT"),
		},

		Routing: RoutingConfig{
			Strategy:         strings.ToLower(v.GetString("ROUTING_STRATEGY")),
			PreferredGateway: v.GetString("PREFERRED_GATEWAY"),
			PingTimeout:      time.Duration(v.GetInt("PING_TIMEOUT_MS")) * time.Millisecond,
			ProbeConcurrency: v.GetInt("PROBE_CONCURRENCY"),
		},

		Verification: VerificationConfig{
			Strategy:            strings.ToLower(v.GetString("VERIFICATION_STRATEGY")),
			TrustedGateways:     splitList(v.GetStringSlice("TRUSTED_GATEWAYS")),
			Strict:              v.GetBool("STRICT_VERIFICATION"),
			DigestConcurrency:   v.GetInt("DIGEST_CONCURRENCY"),
			ManifestConcurrency: v.GetInt("MANIFEST_CONCURRENCY"),
			ManifestMaxDepth:    v.GetInt("MANIFEST_MAX_DEPTH"),
		},

		Cache: CacheConfig{
			Enabled:    v.GetBool("CACHE_ENABLED"),
			TTLSeconds: v.GetInt("CACHE_TTL_SECONDS"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),

		Metrics: MetricsConfig{Enabled: v.GetBool("METRICS_ENABLED")},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as
// defaults.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.Routing.Strategy {
	case "random", "round-robin", "fastest-ping", "preferred", "static":
	default:
		return fmt.Errorf(
			"config: invalid ROUTING_STRATEGY %q; must be one of: random, round-robin, fastest-ping, preferred, static",
			c.Routing.Strategy,
		)
	}

	if (c.Routing.Strategy == "preferred" || c.Routing.Strategy == "static") && c.Routing.PreferredGateway == "" {
		return fmt.Errorf("config: PREFERRED_GATEWAY is required when ROUTING_STRATEGY=%s", c.Routing.Strategy)
	}

	switch c.Verification.Strategy {
	case "hash", "data-root", "signature", "remote", "none":
	default:
		return fmt.Errorf(
			"config: invalid VERIFICATION_STRATEGY %q; must be one of: hash, data-root, signature, remote, none",
			c.Verification.Strategy,
		)
	}

	if c.Verification.Strategy != "remote" && c.Verification.Strategy != "none" && len(c.Verification.TrustedGateways) == 0 {
		return fmt.Errorf("config: TRUSTED_GATEWAYS must not be empty for VERIFICATION_STRATEGY=%s", c.Verification.Strategy)
	}

	for _, raw := range append(append([]string{}, c.Gateways...), c.Verification.TrustedGateways...) {
		if _, err := parseAbsoluteURL(raw); err != nil {
			return fmt.Errorf("config: invalid gateway URL %q: %w", raw, err)
		}
	}

	if c.Registry.Limit < 1 {
		return fmt.Errorf("config: GATEWAY_LIMIT must be ≥ 1, got %d", c.Registry.Limit)
	}
	if c.Routing.ProbeConcurrency < 1 {
		return fmt.Errorf("config: PROBE_CONCURRENCY must be ≥ 1, got %d", c.Routing.ProbeConcurrency)
	}
	if c.Verification.ManifestMaxDepth < 1 {
		return fmt.Errorf("config: MANIFEST_MAX_DEPTH must be ≥ 1, got %d", c.Verification.ManifestMaxDepth)
	}
	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("config: CACHE_TTL_SECONDS must be ≥ 1, got %d", c.Cache.TTLSeconds)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT must be a positive duration")
	}

	return nil
}

// GatewayURLs returns the static gateway list parsed into URLs.
func (c *Config) GatewayURLs() ([]*url.URL, error) {
	return parseURLList(c.Gateways)
}

// TrustedGatewayURLs returns the trusted gateway list parsed into URLs.
func (c *Config) TrustedGatewayURLs() ([]*url.URL, error) {
	return parseURLList(c.Verification.TrustedGateways)
}

// ParseGatewayURL validates one gateway URL.
func ParseGatewayURL(raw string) (*url.URL, error) {
	u, err := parseAbsoluteURL(raw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid gateway URL %q: %w", raw, err)
	}
	return u, nil
}

func parseURLList(raw []string) ([]*url.URL, error) {
	out := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		u, err := parseAbsoluteURL(r)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("URL must be absolute with a host")
	}
	return u, nil
}

// splitList flattens comma-separated entries so GATEWAYS=a,b and a YAML list
// both work.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
