package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

const (
	registryPageSize = 1000

	// maxFailedPages is the number of consecutive page failures tolerated
	// before discovery gives up.
	maxFailedPages = 3

	defaultRegistryTimeout = 10 * time.Second
)

// SortKey ranks discovered gateways. The set is closed.
type SortKey string

const (
	SortOperatorStake             SortKey = "operatorStake"
	SortTotalDelegatedStake       SortKey = "totalDelegatedStake"
	SortStartTimestamp            SortKey = "startTimestamp"
	SortPerformanceRatio          SortKey = "performanceRatio"
	SortCompositeWeight           SortKey = "compositeWeight"
	SortPassedConsecutiveEpochs   SortKey = "passedConsecutiveEpochs"
	SortTenureWeight              SortKey = "tenureWeight"
	SortStakeWeight               SortKey = "stakeWeight"
	SortNormalizedCompositeWeight SortKey = "normalizedCompositeWeight"
)

// ValidSortKey reports whether k is one of the recognised ranking keys.
func ValidSortKey(k SortKey) bool {
	switch k {
	case SortOperatorStake, SortTotalDelegatedStake, SortStartTimestamp,
		SortPerformanceRatio, SortCompositeWeight, SortPassedConsecutiveEpochs,
		SortTenureWeight, SortStakeWeight, SortNormalizedCompositeWeight:
		return true
	}
	return false
}

// registryItem is one gateway record as served by the registry.
type registryItem struct {
	GatewayAddress string `json:"gatewayAddress"`
	OperatorStake  int64  `json:"operatorStake"`
	TotalDelegated int64  `json:"totalDelegatedStake"`
	StartTimestamp int64  `json:"startTimestamp"`
	Status         string `json:"status"`

	Settings struct {
		FQDN     string `json:"fqdn"`
		Port     int    `json:"port"`
		Protocol string `json:"protocol"`
	} `json:"settings"`

	Weights struct {
		CompositeWeight           float64 `json:"compositeWeight"`
		NormalizedCompositeWeight float64 `json:"normalizedCompositeWeight"`
		StakeWeight               float64 `json:"stakeWeight"`
		TenureWeight              float64 `json:"tenureWeight"`
		GatewayPerformanceRatio   float64 `json:"gatewayPerformanceRatio"`
	} `json:"weights"`

	Stats struct {
		PassedConsecutiveEpochs int64 `json:"passedConsecutiveEpochs"`
	} `json:"stats"`
}

type registryPage struct {
	Items      []registryItem `json:"items"`
	NextCursor string         `json:"nextCursor"`
}

// NetworkProvider discovers gateways from the registry, filters by status,
// ranks them and emits a bounded list.
type NetworkProvider struct {
	registryURL string
	sortKey     SortKey
	limit       int

	client *http.Client
	log    *slog.Logger
}

// NetworkOption tunes a NetworkProvider.
type NetworkOption func(*NetworkProvider)

// WithSortKey sets the ranking key. Default: normalizedCompositeWeight.
func WithSortKey(k SortKey) NetworkOption {
	return func(p *NetworkProvider) { p.sortKey = k }
}

// WithLimit caps the emitted list. Default: 1000.
func WithLimit(n int) NetworkOption {
	return func(p *NetworkProvider) { p.limit = n }
}

// WithHTTPClient overrides the registry HTTP client.
func WithHTTPClient(c *http.Client) NetworkOption {
	return func(p *NetworkProvider) { p.client = c }
}

// WithLogger sets the provider logger.
func WithLogger(log *slog.Logger) NetworkOption {
	return func(p *NetworkProvider) { p.log = log }
}

// NewNetwork builds a registry-backed provider.
func NewNetwork(registryURL string, opts ...NetworkOption) (*NetworkProvider, error) {
	if _, err := url.Parse(registryURL); err != nil {
		return nil, fmt.Errorf("gateways: registry url: %w", err)
	}
	p := &NetworkProvider{
		registryURL: registryURL,
		sortKey:     SortNormalizedCompositeWeight,
		limit:       registryPageSize,
		client:      &http.Client{Timeout: defaultRegistryTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if !ValidSortKey(p.sortKey) {
		return nil, fmt.Errorf("gateways: unknown sort key %q", p.sortKey)
	}
	if p.limit < 1 {
		return nil, fmt.Errorf("gateways: limit must be ≥ 1, got %d", p.limit)
	}
	return p, nil
}

// Gateways paginates the registry, tolerating up to maxFailedPages
// consecutive page failures, then filters, ranks and truncates the result.
func (p *NetworkProvider) Gateways(ctx context.Context) ([]*url.URL, error) {
	var (
		items  []registryItem
		cursor string
		failed int
	)

	for {
		page, err := p.fetchPage(ctx, cursor)
		if err != nil {
			failed++
			if failed >= maxFailedPages {
				if len(items) == 0 {
					return nil, wferr.Wrap(wferr.KindProviderUnavailable, "registry unreachable", err)
				}
				// Partial discovery is better than none.
				if p.log != nil {
					p.log.Warn("registry_pagination_aborted",
						slog.Int("pages_failed", failed),
						slog.Int("items", len(items)),
						slog.String("error", err.Error()),
					)
				}
				break
			}
			continue
		}

		failed = 0
		items = append(items, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	joined := items[:0]
	for _, it := range items {
		if it.Status == "joined" && it.Settings.FQDN != "" {
			joined = append(joined, it)
		}
	}

	p.rank(joined)

	if len(joined) > p.limit {
		joined = joined[:p.limit]
	}

	out := make([]*url.URL, 0, len(joined))
	for _, it := range joined {
		u, err := itemURL(it)
		if err != nil {
			continue
		}
		out = append(out, u)
	}

	if len(out) == 0 {
		return nil, wferr.New(wferr.KindNoGateways, "registry returned no joined gateways")
	}
	return out, nil
}

// fetchPage requests one registry page, retrying transient errors with a
// short constant backoff before reporting the page as failed.
func (p *NetworkProvider) fetchPage(ctx context.Context, cursor string) (*registryPage, error) {
	op := func() (*registryPage, error) {
		u, err := url.Parse(p.registryURL)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		q := u.Query()
		q.Set("limit", fmt.Sprint(registryPageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("registry status %d", resp.StatusCode)
		}

		var page registryPage
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return nil, err
		}
		return &page, nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 2),
		ctx,
	)
	return backoff.RetryWithData(op, bo)
}

func (p *NetworkProvider) rank(items []registryItem) {
	key := p.sortKey
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch key {
		case SortOperatorStake:
			return a.OperatorStake > b.OperatorStake
		case SortTotalDelegatedStake:
			return a.TotalDelegated > b.TotalDelegated
		case SortStartTimestamp:
			return a.StartTimestamp < b.StartTimestamp
		case SortPerformanceRatio:
			return a.Weights.GatewayPerformanceRatio > b.Weights.GatewayPerformanceRatio
		case SortCompositeWeight:
			return a.Weights.CompositeWeight > b.Weights.CompositeWeight
		case SortPassedConsecutiveEpochs:
			return a.Stats.PassedConsecutiveEpochs > b.Stats.PassedConsecutiveEpochs
		case SortTenureWeight:
			return a.Weights.TenureWeight > b.Weights.TenureWeight
		case SortStakeWeight:
			return a.Weights.StakeWeight > b.Weights.StakeWeight
		default: // SortNormalizedCompositeWeight
			return a.Weights.NormalizedCompositeWeight > b.Weights.NormalizedCompositeWeight
		}
	})
}

func itemURL(it registryItem) (*url.URL, error) {
	proto := it.Settings.Protocol
	if proto == "" {
		proto = "https"
	}
	host := it.Settings.FQDN
	if it.Settings.Port != 0 && it.Settings.Port != 443 && it.Settings.Port != 80 {
		host = fmt.Sprintf("%s:%d", host, it.Settings.Port)
	}
	return url.Parse(proto + "://" + host)
}
