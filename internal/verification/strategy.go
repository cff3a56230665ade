// Package verification implements the integrity strategies that check a
// retrieved stream against what trusted gateways attest to.
//
// A strategy consumes one branch of the teed response body and either
// returns nil (the bytes are authentic) or a typed error. Strategies that
// consult verification oracles expose their trusted gateway set so callers
// (notably the manifest verifier) can fetch nested resources from the same
// oracles.
package verification

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Input carries one verification pass.
type Input struct {
	// Data is the verifier's branch of the teed response body. The
	// strategy must drain it even on early failure so the client branch is
	// never stalled by tee backpressure.
	Data io.Reader

	// Headers are the response headers as served by the origin gateway.
	Headers http.Header

	// TxID identifies the content being verified.
	TxID string

	// Progress, when non-nil, receives (processedBytes, totalBytes) as the
	// stream is consumed. totalBytes is -1 when unknown.
	Progress func(processed, total int64)
}

// Strategy is the integrity policy.
type Strategy interface {
	// Name identifies the strategy in logs, events and metrics.
	Name() string

	// VerifyData consumes the stream and fails with a typed error when the
	// bytes cannot be proven authentic.
	VerifyData(ctx context.Context, in Input) error
}

// TrustedGatewayHolder is implemented by strategies that consult trusted
// gateways.
type TrustedGatewayHolder interface {
	TrustedGateways() []*url.URL
}

// totalFromHeaders reads Content-Length, or -1 when absent or malformed.
func totalFromHeaders(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// progressWriter reports cumulative byte counts to a callback.
type progressWriter struct {
	progress func(processed, total int64)
	total    int64
	n        int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	if w.progress != nil {
		w.progress(w.n, w.total)
	}
	return len(p), nil
}
