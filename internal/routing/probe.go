package routing

import (
	"context"
	"net/http"
	"time"

	"github.com/ar-io/wayfinder-go/internal/metrics"
)

const (
	// DefaultProbeTimeout bounds one fan-out HEAD probe.
	DefaultProbeTimeout = 500 * time.Millisecond

	// DefaultCheckTimeout bounds the Ping wrapper's verification probe.
	DefaultCheckTimeout = 1000 * time.Millisecond
)

// prober issues bounded HEAD requests against candidate gateways.
type prober struct {
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Registry
}

func newProber(client *http.Client, timeout time.Duration, met *metrics.Registry) *prober {
	if client == nil {
		client = &http.Client{
			// Health probes must not follow redirects: a gateway that
			// bounces the request elsewhere is not itself serving it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &prober{client: client, timeout: timeout, metrics: met}
}

// head issues one HEAD request and reports whether it answered 2xx within
// the probe timeout.
func (p *prober) head(ctx context.Context, target string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		p.metrics.RecordProbe("error")
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.RecordProbe("error")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.metrics.RecordProbe("ok")
		return true
	}
	p.metrics.RecordProbe("bad_status")
	return false
}
