package routing

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ar-io/wayfinder-go/internal/gateways"
	"github.com/ar-io/wayfinder-go/internal/metrics"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// DefaultProbeConcurrency caps the fan-out HEAD probes.
const DefaultProbeConcurrency = 50

// FastestPing probes every candidate concurrently and returns the first one
// that answers 2xx. Remaining probes are cancelled as soon as a winner
// arrives; ties are broken by arrival order.
type FastestPing struct {
	provider    gateways.Provider
	prober      *prober
	concurrency int64
}

// FastestPingOption tunes a FastestPing strategy.
type FastestPingOption func(*FastestPing)

// WithProbeTimeout bounds each HEAD probe. Default 500ms.
func WithProbeTimeout(d time.Duration) FastestPingOption {
	return func(s *FastestPing) { s.prober.timeout = d }
}

// WithProbeConcurrency caps concurrent probes. Default 50.
func WithProbeConcurrency(n int) FastestPingOption {
	return func(s *FastestPing) {
		if n > 0 {
			s.concurrency = int64(n)
		}
	}
}

// WithProbeClient overrides the probe HTTP client.
func WithProbeClient(c *http.Client) FastestPingOption {
	return func(s *FastestPing) { s.prober.client = c }
}

// WithProbeMetrics records probe outcomes on met.
func WithProbeMetrics(met *metrics.Registry) FastestPingOption {
	return func(s *FastestPing) { s.prober.metrics = met }
}

// NewFastestPing builds the strategy. provider may be nil when callers
// always pass gateways in params.
func NewFastestPing(provider gateways.Provider, opts ...FastestPingOption) *FastestPing {
	s := &FastestPing{
		provider:    provider,
		prober:      newProber(nil, DefaultProbeTimeout, nil),
		concurrency: DefaultProbeConcurrency,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *FastestPing) Name() string { return "fastest-ping" }

// SelectGateway fans out HEAD probes and returns the first healthy
// candidate, or KindNoHealthyGateway when every probe fails.
func (s *FastestPing) SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error) {
	urls, err := resolveGateways(ctx, params, s.provider)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(s.concurrency)
	winners := make(chan *url.URL, len(urls))

	var wg sync.WaitGroup
	for _, gw := range urls {
		wg.Add(1)
		go func(gw *url.URL) {
			defer wg.Done()
			if err := sem.Acquire(probeCtx, 1); err != nil {
				return // cancelled while queued
			}
			defer sem.Release(1)
			if s.prober.head(probeCtx, probeURL(gw, params.Path, params.Subdomain)) {
				winners <- gw
			}
		}(gw)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case gw := <-winners:
		cancel() // stop the stragglers
		return gw, nil
	case <-done:
		// All probes finished; a winner may have landed in the same instant.
		select {
		case gw := <-winners:
			return gw, nil
		default:
		}
		if ctx.Err() != nil {
			return nil, wferr.Wrap(wferr.KindCancelled, "probe fan-out cancelled", ctx.Err())
		}
		return nil, wferr.Newf(wferr.KindNoHealthyGateway, "all %d gateways failed the health probe", len(urls))
	case <-ctx.Done():
		return nil, wferr.Wrap(wferr.KindCancelled, "probe fan-out cancelled", ctx.Err())
	}
}
