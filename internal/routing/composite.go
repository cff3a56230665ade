package routing

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Composite tries strategies in declaration order and returns the first
// success.
type Composite struct {
	strategies []Strategy
	log        *slog.Logger
}

// NewComposite builds a Composite over the given strategies. At least one
// strategy is required.
func NewComposite(log *slog.Logger, strategies ...Strategy) (*Composite, error) {
	if len(strategies) == 0 {
		return nil, wferr.New(wferr.KindAllStrategiesFailed, "composite requires at least one strategy")
	}
	return &Composite{strategies: strategies, log: log}, nil
}

func (s *Composite) Name() string {
	names := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		names[i] = st.Name()
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// SelectGateway walks the strategies in order; universal failure is
// KindAllStrategiesFailed wrapping the last error.
func (s *Composite) SelectGateway(ctx context.Context, params SelectionParams) (*url.URL, error) {
	var lastErr error

	for _, st := range s.strategies {
		if err := ctx.Err(); err != nil {
			return nil, wferr.Wrap(wferr.KindCancelled, "composite cancelled", err)
		}

		gw, err := st.SelectGateway(ctx, params)
		if err == nil {
			return gw, nil
		}
		if s.log != nil {
			s.log.Warn("composite_strategy_failed",
				slog.String("strategy", st.Name()),
				slog.String("error", err.Error()),
			)
		}
		lastErr = err
	}

	return nil, wferr.Wrap(wferr.KindAllStrategiesFailed, "every strategy failed", lastErr)
}
