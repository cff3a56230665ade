package routing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ar-io/wayfinder-go/internal/metrics"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// DefaultPingRetries is the number of base-strategy selections the Ping
// wrapper verifies before giving up.
const DefaultPingRetries = 5

// Ping decorates a base strategy with a HEAD verification of its choice.
// On probe failure it asks the base for a fresh selection, up to the retry
// budget.
type Ping struct {
	base    Strategy
	retries int
	prober  *prober
	log     *slog.Logger
}

// PingOption tunes a Ping wrapper.
type PingOption func(*Ping)

// WithPingRetries sets the selection budget. Default 5.
func WithPingRetries(n int) PingOption {
	return func(s *Ping) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithPingTimeout bounds the verification probe. Default 1000ms.
func WithPingTimeout(d time.Duration) PingOption {
	return func(s *Ping) { s.prober.timeout = d }
}

// WithPingClient overrides the probe HTTP client.
func WithPingClient(c *http.Client) PingOption {
	return func(s *Ping) { s.prober.client = c }
}

// WithPingMetrics records probe outcomes on met.
func WithPingMetrics(met *metrics.Registry) PingOption {
	return func(s *Ping) { s.prober.metrics = met }
}

// WithPingLogger sets the wrapper logger.
func WithPingLogger(log *slog.Logger) PingOption {
	return func(s *Ping) { s.log = log }
}

// NewPing wraps base.
func NewPing(base Strategy, opts ...PingOption) *Ping {
	s := &Ping{
		base:    base,
		retries: DefaultPingRetries,
		prober:  newProber(nil, DefaultCheckTimeout, nil),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Ping) Name() string { return "ping(" + s.base.Name() + ")" }

// SelectGateway verifies the base's choice with a HEAD probe, re-selecting
// on failure until the budget is spent.
func (s *Ping) SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error) {
	var lastErr error

	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, wferr.Wrap(wferr.KindCancelled, "ping wrapper cancelled", err)
		}

		gw, err := s.base.SelectGateway(ctx, params)
		if err != nil {
			lastErr = err
			continue
		}

		if s.prober.head(ctx, probeURL(gw, params.Path, params.Subdomain)) {
			return gw, nil
		}

		if s.log != nil {
			s.log.Warn("ping_check_failed",
				slog.String("gateway", gw.String()),
				slog.Int("attempt", attempt),
			)
		}
		lastErr = wferr.Newf(wferr.KindNoHealthyGateway, "gateway %s failed the health check", gw)
	}

	if lastErr == nil {
		lastErr = wferr.New(wferr.KindNoHealthyGateway, "ping retries exhausted")
	}
	if wferr.IsKind(lastErr, wferr.KindNoHealthyGateway) {
		return nil, lastErr
	}
	return nil, wferr.Wrap(wferr.KindNoHealthyGateway, "ping retries exhausted", lastErr)
}
