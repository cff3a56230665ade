// Package retrieval fetches content from a selected gateway.
//
// Two transports are available: Contiguous issues a single streaming GET;
// Chunked reassembles the payload chunk by chunk from absolute offsets
// inside its root transaction. Both return a streaming Response — the body
// is owned by the caller until it is teed for verification.
package retrieval

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Header names the gateways speak.
const (
	HeaderRootTxID         = "X-AR-IO-Root-Transaction-Id"
	HeaderRootDataOffset   = "X-AR-IO-Root-Data-Offset"
	HeaderDigest           = "X-AR-IO-Digest"
	HeaderVerified         = "X-AR-IO-Verified"
	HeaderChunkReadOffset  = "X-Arweave-Chunk-Read-Offset"
	HeaderChunkStartOffset = "X-Arweave-Chunk-Start-Offset"
	HeaderChunkTxID        = "X-Arweave-Chunk-Tx-Id"
)

// DefaultHTTPTimeout bounds a whole retrieval when the caller's context
// carries no deadline.
const DefaultHTTPTimeout = 300 * time.Second

// Request describes one retrieval.
type Request struct {
	// Gateway is the selected gateway base URL.
	Gateway *url.URL

	// Path is the request path below the gateway (txId or manifest path).
	Path string

	// Subdomain, when set, is prepended to the gateway host.
	Subdomain string

	// Headers are propagated to the gateway.
	Headers http.Header
}

// Response is a streaming retrieval result.
type Response struct {
	Body       io.ReadCloser
	Headers    http.Header
	StatusCode int
}

// Strategy is the transport policy.
type Strategy interface {
	// Name identifies the strategy in logs and events.
	Name() string

	// GetData issues the retrieval. Transport errors fail with
	// KindRetrievalFailed; HTTP error statuses surface the response
	// unchanged so callers can relay it.
	GetData(ctx context.Context, req Request) (*Response, error)
}

// RequestURL builds the absolute URL for req.
func RequestURL(req Request) string {
	u := *req.Gateway
	if req.Subdomain != "" {
		host := u.Hostname()
		if port := u.Port(); port != "" {
			u.Host = req.Subdomain + "." + host + ":" + port
		} else {
			u.Host = req.Subdomain + "." + host
		}
	}
	u.Path = "/" + strings.TrimPrefix(req.Path, "/")
	return u.String()
}
