// Package client assembles the WayFinder pipeline: URI resolution, gateway
// routing, retrieval, and streaming verification behind a single Request
// entry point.
package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ar-io/wayfinder-go/internal/aruri"
	"github.com/ar-io/wayfinder-go/internal/events"
	"github.com/ar-io/wayfinder-go/internal/gateways"
	"github.com/ar-io/wayfinder-go/internal/manifest"
	"github.com/ar-io/wayfinder-go/internal/metrics"
	"github.com/ar-io/wayfinder-go/internal/retrieval"
	"github.com/ar-io/wayfinder-go/internal/routing"
	"github.com/ar-io/wayfinder-go/internal/verification"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// HeaderResolvedTxID carries the transaction id a gateway resolved an ArNS
// name to.
const HeaderResolvedTxID = "X-Arns-Resolved-Id"

// Client is the WayFinder pipeline.
type Client struct {
	provider  gateways.Provider
	routing   routing.Strategy
	retrieval retrieval.Strategy
	verifier  verification.Strategy // nil disables verification

	emitter *events.Emitter
	metrics *metrics.Registry
	log     *slog.Logger

	httpClient *http.Client
	timeout    time.Duration
	strict     bool

	manifestOpts []manifest.VerifierOption
}

// Option configures a Client.
type Option func(*Client)

// WithGatewaysProvider sets the gateway source.
func WithGatewaysProvider(p gateways.Provider) Option {
	return func(c *Client) { c.provider = p }
}

// WithRoutingStrategy sets the selection policy. Default: Random over the
// provider.
func WithRoutingStrategy(s routing.Strategy) Option {
	return func(c *Client) { c.routing = s }
}

// WithRetrievalStrategy sets the transport policy. Default: Contiguous.
func WithRetrievalStrategy(s retrieval.Strategy) Option {
	return func(c *Client) { c.retrieval = s }
}

// WithVerificationStrategy sets the integrity policy. nil disables
// verification.
func WithVerificationStrategy(s verification.Strategy) Option {
	return func(c *Client) { c.verifier = s }
}

// WithStrict errors the delivered stream when verification fails.
func WithStrict(strict bool) Option {
	return func(c *Client) { c.strict = strict }
}

// WithTimeout bounds one full request. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithEmitter sets the process-wide emitter; per-request handlers attach
// to children of it.
func WithEmitter(e *events.Emitter) Option {
	return func(c *Client) { c.emitter = e }
}

// WithMetrics wires the prometheus registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient overrides the client used for direct (non-ar) fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithManifestOptions forwards options to the manifest verifier used by
// RequestWithManifest.
func WithManifestOptions(opts ...manifest.VerifierOption) Option {
	return func(c *Client) { c.manifestOpts = opts }
}

// New builds a Client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		retrieval:  retrieval.NewContiguous(nil),
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.emitter == nil {
		c.emitter = events.New(c.log)
	}
	if c.routing == nil {
		if c.provider == nil {
			return nil, wferr.New(wferr.KindNoGateways, "a routing strategy or a gateways provider is required")
		}
		c.routing = routing.NewRandom(c.provider)
	}
	return c, nil
}

// Response is the pipeline result delivered to the caller.
type Response struct {
	Body       io.ReadCloser
	Headers    http.Header
	StatusCode int

	// Gateway is the gateway that served the request; nil for bypassed
	// non-ar URIs.
	Gateway *url.URL

	// TxID is the verified content id when known.
	TxID string

	// RequestID correlates events and logs for this request.
	RequestID uuid.UUID
}

// RequestOption adjusts one request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers  http.Header
	handlers map[events.Topic][]events.Handler
}

// WithHeaders propagates extra request headers to the gateway.
func WithHeaders(h http.Header) RequestOption {
	return func(o *requestOptions) { o.headers = h }
}

// WithEventHandler registers a per-request event handler.
func WithEventHandler(topic events.Topic, h events.Handler) RequestOption {
	return func(o *requestOptions) {
		if o.handlers == nil {
			o.handlers = make(map[events.Topic][]events.Handler)
		}
		o.handlers[topic] = append(o.handlers[topic], h)
	}
}

// Request runs the full pipeline for uri.
func (c *Client) Request(ctx context.Context, uri string, opts ...RequestOption) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	resp, err := c.request(ctx, uri, nil, opts...)
	if resp == nil {
		cancel()
		return nil, err
	}

	// The body outlives this call; the context is released when the
	// caller closes the stream.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, err
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// verifyFunc runs the verifier branch and returns the verification error.
// Manifest verification keeps its richer result in a variable captured by
// the closure.
type verifyFunc func(ctx context.Context, txID string, headers http.Header, branch io.Reader) error

func (c *Client) request(ctx context.Context, uri string, verify verifyFunc, opts ...RequestOption) (*Response, error) {
	var ro requestOptions
	for _, o := range opts {
		o(&ro)
	}

	emitter := c.emitter.Child()
	for topic, handlers := range ro.handlers {
		for _, h := range handlers {
			emitter.On(topic, h)
		}
	}

	reqID := uuid.New()

	parsed, err := aruri.Parse(uri)
	if err != nil {
		c.metrics.RecordRequest("invalid_uri")
		return nil, err
	}

	// Non-ar URIs bypass routing and verification entirely.
	if !parsed.IsAr {
		emitter.Emit(ctx, events.Event{Topic: events.RoutingSkipped, RequestID: reqID})
		return c.direct(ctx, uri, reqID, ro.headers)
	}

	path, subdomain := requestTarget(parsed)

	emitter.Emit(ctx, events.Event{Topic: events.RoutingStarted, RequestID: reqID, TxID: parsed.TxID, Strategy: c.routing.Name()})

	routeStart := time.Now()
	gateway, err := c.routing.SelectGateway(ctx, routing.SelectionParams{
		Path:      path,
		Subdomain: subdomain,
	})
	if err != nil {
		c.metrics.RecordRoutingSelection(c.routing.Name(), "error", time.Since(routeStart))
		c.metrics.RecordRequest("routing_failed")
		emitter.Emit(ctx, events.Event{Topic: events.RoutingFailed, RequestID: reqID, TxID: parsed.TxID, Strategy: c.routing.Name(), Err: err})
		return nil, err
	}
	c.metrics.RecordRoutingSelection(c.routing.Name(), "ok", time.Since(routeStart))
	emitter.Emit(ctx, events.Event{Topic: events.RoutingSucceeded, RequestID: reqID, TxID: parsed.TxID, Strategy: c.routing.Name(), Gateway: gateway.String()})

	resp, err := c.retrieval.GetData(ctx, retrieval.Request{
		Gateway:   gateway,
		Path:      path,
		Subdomain: subdomain,
		Headers:   ro.headers,
	})
	if err != nil {
		c.metrics.RecordRequest("retrieval_failed")
		return nil, err
	}

	out := &Response{
		Body:       resp.Body,
		Headers:    resp.Headers,
		StatusCode: resp.StatusCode,
		Gateway:    gateway,
		TxID:       parsed.TxID,
		RequestID:  reqID,
	}

	// Error statuses carry no verifiable payload: the response is handed
	// back unchanged together with a typed error.
	if resp.StatusCode >= 400 {
		c.metrics.RecordRequest("gateway_error")
		e := wferr.Newf(wferr.KindRetrievalFailed, "gateway %s answered %d", gateway.Host, resp.StatusCode)
		e.Status = resp.StatusCode
		return out, e
	}

	txID := parsed.TxID
	if txID == "" {
		txID = resp.Headers.Get(HeaderResolvedTxID)
	}
	out.TxID = txID

	if verify == nil {
		if c.verifier == nil {
			emitter.Emit(ctx, events.Event{Topic: events.VerificationSkipped, RequestID: reqID, TxID: txID})
			c.metrics.RecordRequest("ok_unverified")
			return out, nil
		}
		verify = func(ctx context.Context, txID string, headers http.Header, branch io.Reader) error {
			return c.verifier.VerifyData(ctx, verification.Input{
				Data:    branch,
				Headers: headers,
				TxID:    txID,
				Progress: func(processed, total int64) {
					emitter.Emit(ctx, events.Event{
						Topic:     events.VerificationProgress,
						RequestID: reqID,
						TxID:      txID,
						Processed: processed,
						Total:     total,
					})
				},
			})
		}
	}

	if txID == "" {
		// Nothing to verify against: the gateway did not reveal the
		// resolved id.
		emitter.Emit(ctx, events.Event{Topic: events.VerificationWarning, RequestID: reqID,
			Detail: map[string]any{"reason": "no transaction id to verify against"}})
		emitter.Emit(ctx, events.Event{Topic: events.VerificationSkipped, RequestID: reqID})
		c.metrics.RecordRequest("ok_unverified")
		return out, nil
	}

	out.Body = c.startVerification(ctx, emitter, reqID, txID, resp, verify)
	c.metrics.RecordRequest("ok")
	return out, nil
}

// startVerification tees the response body and runs the verifier branch
// concurrently with delivery. The returned stream is byte-identical to the
// gateway's body.
func (c *Client) startVerification(ctx context.Context, emitter *events.Emitter, reqID uuid.UUID, txID string, resp *retrieval.Response, verify verifyFunc) io.ReadCloser {
	strategyName := "custom"
	if c.verifier != nil {
		strategyName = c.verifier.Name()
	}

	clientPipe := newPipe(teeBufferSize)
	verifierPipe := newPipe(teeBufferSize)

	emitter.Emit(ctx, events.Event{Topic: events.VerificationStarted, RequestID: reqID, TxID: txID, Strategy: strategyName})

	verdict := make(chan error, 1)
	start := time.Now()

	go func() {
		err := verify(ctx, txID, resp.Headers, verifierPipe)
		// Unblock the pump if the verifier stopped before draining.
		verifierPipe.Close()

		latency := time.Since(start)
		total := totalBytes(resp.Headers)
		outcome := events.Event{
			Topic:     events.VerificationSucceeded,
			RequestID: reqID,
			TxID:      txID,
			Strategy:  strategyName,
			Processed: total,
			Detail:    map[string]any{"latency_ms": latency.Milliseconds()},
		}
		if err != nil {
			outcome.Topic = events.VerificationFailed
			outcome.Err = err
			c.metrics.RecordVerification(strategyName, "failed", latency, total)
		} else {
			c.metrics.RecordVerification(strategyName, "ok", latency, total)
		}
		emitter.Emit(ctx, outcome)
		verdict <- err
	}()

	go func() {
		defer resp.Body.Close()

		buf := make([]byte, teeChunkSize)
		verifierAlive := true
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if verifierAlive {
					if err := verifierPipe.write(buf[:n]); err != nil {
						verifierAlive = false
					}
				}
				if err := clientPipe.write(buf[:n]); err != nil {
					// Consumer closed its branch: cancellation propagates
					// to the verifier branch and upstream.
					verifierPipe.closeWrite(wferr.New(wferr.KindCancelled, "client branch closed"))
					return
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					verifierPipe.closeWrite(nil)
					break
				}
				verifierPipe.closeWrite(readErr)
				clientPipe.closeWrite(readErr)
				return
			}
		}

		if c.strict {
			// Hold the client's EOF until the verdict: a failed
			// verification must error the delivered stream.
			if err := <-verdict; err != nil {
				clientPipe.closeWrite(err)
				return
			}
		}
		clientPipe.closeWrite(nil)
	}()

	return clientPipe
}

// direct fetches a non-ar URI without routing or verification.
func (c *Client) direct(ctx context.Context, uri string, reqID uuid.UUID, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "build request", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRequest("direct_failed")
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "direct fetch", err)
	}

	c.metrics.RecordRequest("direct")
	return &Response{
		Body:       resp.Body,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
	}, nil
}

// ResolveParams identifies content for routing-only resolution. Exactly one
// field should be set.
type ResolveParams struct {
	OriginalURL  string
	WayfinderURL string
	TxID         string
	ArNSName     string
}

// ResolveURL runs routing only and returns the URL the content would be
// fetched from.
func (c *Client) ResolveURL(ctx context.Context, params ResolveParams) (*url.URL, error) {
	uri := params.WayfinderURL
	switch {
	case uri != "":
	case params.OriginalURL != "":
		uri = params.OriginalURL
	case params.TxID != "":
		uri = "ar://" + params.TxID
	case params.ArNSName != "":
		uri = "ar://" + params.ArNSName
	default:
		return nil, wferr.New(wferr.KindInvalidURI, "no identifier supplied")
	}

	parsed, err := aruri.Parse(uri)
	if err != nil {
		return nil, err
	}
	if !parsed.IsAr {
		return url.Parse(uri)
	}

	path, subdomain := requestTarget(parsed)

	gateway, err := c.routing.SelectGateway(ctx, routing.SelectionParams{
		Path:      path,
		Subdomain: subdomain,
	})
	if err != nil {
		return nil, err
	}

	resolved, err := url.Parse(retrieval.RequestURL(retrieval.Request{
		Gateway:   gateway,
		Path:      path,
		Subdomain: subdomain,
	}))
	if err != nil {
		return nil, wferr.Wrap(wferr.KindInvalidURI, "build resolved url", err)
	}
	return resolved, nil
}

// ManifestResponse is the RequestWithManifest result.
type ManifestResponse struct {
	*Response

	Manifest    *manifest.Manifest
	Results     map[string]*manifest.VerificationResult
	AllVerified bool
}

// RequestWithManifest runs the pipeline and recursively verifies the
// manifest's resource graph. The delivered body is buffered: the result
// fields are only known once the payload has been read to completion.
func (c *Client) RequestWithManifest(ctx context.Context, uri string, opts ...RequestOption) (*ManifestResponse, error) {
	if c.verifier == nil {
		return nil, wferr.New(wferr.KindVerificationFailed, "manifest verification requires a verification strategy")
	}

	verifierOpts := append([]manifest.VerifierOption{
		manifest.WithStrict(c.strict),
		manifest.WithVerifierLogger(c.log),
		manifest.WithEmitter(c.emitter),
	}, c.manifestOpts...)

	mv, err := manifest.NewVerifier(c.verifier, verifierOpts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result *manifest.Result
	done := make(chan struct{})
	verify := func(ctx context.Context, txID string, headers http.Header, branch io.Reader) error {
		defer close(done)
		res, err := mv.VerifyResponse(ctx, txID, headers, branch)
		result = res
		return err
	}

	resp, err := c.request(ctx, uri, verify, opts...)
	if err != nil {
		return nil, err
	}

	// Drain the client branch; in strict mode a verification failure
	// surfaces here as the stream error.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	// The resource graph may still be verifying after the top-level
	// payload has streamed through.
	select {
	case <-done:
	case <-ctx.Done():
		resp.Body.Close()
		return nil, wferr.Wrap(wferr.KindCancelled, "manifest verification cancelled", ctx.Err())
	}
	if err := resp.Body.Close(); err != nil {
		return nil, err
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))

	out := &ManifestResponse{Response: resp}
	if result != nil {
		out.Manifest = result.Manifest
		out.Results = result.Results
		out.AllVerified = result.AllVerified
	}
	return out, nil
}

// requestTarget derives the gateway path and subdomain from a parsed URI.
func requestTarget(parsed *aruri.Parsed) (path, subdomain string) {
	if parsed.TxID != "" {
		path = parsed.TxID
		if parsed.Path != "" {
			path += "/" + parsed.Path
		}
		return path, parsed.Subdomain
	}
	return parsed.Path, parsed.Subdomain
}

func totalBytes(h http.Header) int64 {
	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
