package routing

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/url"

	"github.com/ar-io/wayfinder-go/internal/gateways"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Random picks uniformly from the candidate set.
type Random struct {
	provider gateways.Provider
}

// NewRandom builds a Random strategy. provider may be nil when callers
// always pass gateways in params.
func NewRandom(provider gateways.Provider) *Random {
	return &Random{provider: provider}
}

func (s *Random) Name() string { return "random" }

// SelectGateway returns a uniformly random candidate. crypto/rand.Int uses
// rejection sampling, so the pick carries no modulo bias.
func (s *Random) SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error) {
	urls, err := resolveGateways(ctx, params, s.provider)
	if err != nil {
		return nil, err
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(urls))))
	if err != nil {
		return nil, wferr.Wrap(wferr.KindNoGateways, "random source", err)
	}
	return urls[n.Int64()], nil
}
