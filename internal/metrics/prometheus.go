// Package metrics provides a Prometheus metrics registry for the WayFinder
// client.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when the client is embedded
// in other applications. Exporters (OTLP and friends) sit outside the core;
// these instruments are the in-process glue they scrape.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// wayfinder_requests_total{outcome}
	requestsTotal *prometheus.CounterVec

	// wayfinder_routing_selections_total{strategy,outcome}
	routingSelections *prometheus.CounterVec

	// wayfinder_routing_duration_seconds{strategy}
	routingDuration *prometheus.HistogramVec

	// wayfinder_probe_attempts_total{outcome}
	probeAttempts *prometheus.CounterVec

	// wayfinder_verifications_total{strategy,outcome}
	verifications *prometheus.CounterVec

	// wayfinder_verification_duration_seconds{strategy}
	verificationDuration *prometheus.HistogramVec

	// wayfinder_verified_bytes_total{strategy}
	verifiedBytes *prometheus.CounterVec

	// wayfinder_gateway_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// wayfinder_manifest_resources_total{outcome}
	manifestResources *prometheus.CounterVec

	// wayfinder_build_info{version}
	buildInfo *prometheus.GaugeVec
}

func New(version string) *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_requests_total",
				Help: "Total requests through the pipeline",
			},
			[]string{"outcome"},
		),

		routingSelections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_routing_selections_total",
				Help: "Gateway selections by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		routingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wayfinder_routing_duration_seconds",
				Help:    "Gateway selection duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"strategy"},
		),

		probeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_probe_attempts_total",
				Help: "HEAD probe attempts by outcome",
			},
			[]string{"outcome"},
		),

		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_verifications_total",
				Help: "Verification passes by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		verificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wayfinder_verification_duration_seconds",
				Help:    "Verification duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		),

		verifiedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_verified_bytes_total",
				Help: "Bytes fed through verification by strategy",
			},
			[]string{"strategy"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_gateway_cache_operations_total",
				Help: "Gateway-list cache operations",
			},
			[]string{"op", "result"},
		),

		manifestResources: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_manifest_resources_total",
				Help: "Manifest resource verifications by outcome",
			},
			[]string{"outcome"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wayfinder_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.requestsTotal,
		r.routingSelections,
		r.routingDuration,
		r.probeAttempts,
		r.verifications,
		r.verificationDuration,
		r.verifiedBytes,
		r.cacheOps,
		r.manifestResources,
		r.buildInfo,
	)

	r.buildInfo.WithLabelValues(version).Set(1)

	return r
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// All record methods are nil-safe so callers can hold an optional *Registry.

func (r *Registry) RecordRequest(outcome string) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) RecordRoutingSelection(strategy, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.routingSelections.WithLabelValues(strategy, outcome).Inc()
	r.routingDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (r *Registry) RecordProbe(outcome string) {
	if r == nil {
		return
	}
	r.probeAttempts.WithLabelValues(outcome).Inc()
}

func (r *Registry) RecordVerification(strategy, outcome string, d time.Duration, bytes int64) {
	if r == nil {
		return
	}
	r.verifications.WithLabelValues(strategy, outcome).Inc()
	r.verificationDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if bytes > 0 {
		r.verifiedBytes.WithLabelValues(strategy).Add(float64(bytes))
	}
}

func (r *Registry) RecordCacheOp(op, result string) {
	if r == nil {
		return
	}
	r.cacheOps.WithLabelValues(op, result).Inc()
}

func (r *Registry) RecordManifestResource(outcome string) {
	if r == nil {
		return
	}
	r.manifestResources.WithLabelValues(outcome).Inc()
}
