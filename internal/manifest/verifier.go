package manifest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ar-io/wayfinder-go/internal/events"
	"github.com/ar-io/wayfinder-go/internal/verification"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

const (
	// DefaultMaxDepth bounds manifest recursion.
	DefaultMaxDepth = 5

	// DefaultResourceConcurrency caps concurrent resource verifications.
	DefaultResourceConcurrency = 10
)

// Verifier wraps a base verification strategy and recursively verifies
// every resource a manifest references.
//
// The base strategy must expose at least one trusted gateway — nested
// resources are fetched from those oracles. Remote verification cannot do
// that and is rejected at construction.
type Verifier struct {
	base    verification.Strategy
	trusted *verification.TrustedGateways
	cache   *Cache
	emitter *events.Emitter
	log     *slog.Logger

	maxDepth    int
	concurrency int64
	strict      bool
	ttl         time.Duration
}

// VerifierOption tunes a Verifier.
type VerifierOption func(*Verifier)

// WithMaxDepth bounds recursion. Default 5.
func WithMaxDepth(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.maxDepth = n
		}
	}
}

// WithConcurrency caps concurrent resource verifications. Default 10.
func WithConcurrency(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = int64(n)
		}
	}
}

// WithStrict makes nested verification failures fail the top-level call.
func WithStrict(strict bool) VerifierOption {
	return func(v *Verifier) { v.strict = strict }
}

// WithCache supplies a shared verification cache.
func WithCache(c *Cache) VerifierOption {
	return func(v *Verifier) { v.cache = c }
}

// WithResultTTL sets the cache lifetime of stored results. Default 1 hour.
func WithResultTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) { v.ttl = ttl }
}

// WithEmitter wires manifest-progress events.
func WithEmitter(e *events.Emitter) VerifierOption {
	return func(v *Verifier) { v.emitter = e }
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(log *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.log = log }
}

// WithTrustedGateways overrides the oracle the verifier fetches nested
// resources from. By default it is built from the base strategy's trusted
// gateway set.
func WithTrustedGateways(t *verification.TrustedGateways) VerifierOption {
	return func(v *Verifier) { v.trusted = t }
}

// NewVerifier builds a Verifier over base.
func NewVerifier(base verification.Strategy, opts ...VerifierOption) (*Verifier, error) {
	if _, isRemote := base.(*verification.Remote); isRemote {
		return nil, wferr.New(wferr.KindVerificationFailed,
			"remote verification cannot fetch nested manifest resources")
	}
	holder, ok := base.(verification.TrustedGatewayHolder)
	if !ok || len(holder.TrustedGateways()) == 0 {
		return nil, wferr.New(wferr.KindVerificationFailed,
			"manifest verification requires a strategy with at least one trusted gateway")
	}

	trusted, err := verification.NewTrustedGateways(holder.TrustedGateways())
	if err != nil {
		return nil, err
	}

	v := &Verifier{
		base:        base,
		trusted:     trusted,
		cache:       NewCache(),
		maxDepth:    DefaultMaxDepth,
		concurrency: DefaultResourceConcurrency,
		ttl:         DefaultResultTTL,
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Cache exposes the verifier's result cache.
func (v *Verifier) Cache() *Cache { return v.cache }

// Result is the outcome of a manifest verification pass.
type Result struct {
	// Manifest is the parsed top-level manifest, nil when the payload was
	// not a manifest.
	Manifest *Manifest

	// Results holds one entry per verified transaction id (the top-level
	// payload included).
	Results map[string]*VerificationResult

	// AllVerified reports whether every referenced resource verified.
	AllVerified bool
}

// run is the per-call state shared across the recursion.
type run struct {
	mu      sync.Mutex
	visited map[string]struct{}
	results map[string]*VerificationResult
	sem     *semaphore.Weighted
}

func (r *run) visit(txID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visited[txID]; ok {
		return false
	}
	r.visited[txID] = struct{}{}
	return true
}

func (r *run) record(res *VerificationResult) {
	r.mu.Lock()
	r.results[res.TxID] = res
	r.mu.Unlock()
}

// VerifyResponse consumes the verifier branch of a teed response body,
// verifies it with the base strategy, and — when the payload is a manifest
// — recursively verifies every referenced resource.
func (v *Verifier) VerifyResponse(ctx context.Context, txID string, headers http.Header, body io.Reader) (*Result, error) {
	r := &run{
		visited: map[string]struct{}{txID: {}},
		results: make(map[string]*VerificationResult),
		sem:     semaphore.NewWeighted(v.concurrency),
	}

	contentType := headers.Get("Content-Type")
	candidate := IsJSONContentType(contentType)

	if IsManifestContentType(contentType) {
		v.progress(ctx, txID, "manifest-detected", nil)
	}

	capture := newCappedBuffer(MaxCapturedBytes)
	reader := body
	if candidate {
		reader = io.TeeReader(body, capture)
	}

	baseErr := v.base.VerifyData(ctx, verification.Input{
		Data:    reader,
		Headers: headers,
		TxID:    txID,
	})

	topResult := resultFor(txID, headers, capture, baseErr)
	v.cache.Set(txID, topResult, v.ttl)
	r.record(topResult)

	if baseErr != nil {
		return &Result{Results: r.results}, baseErr
	}

	if !candidate || capture.overflowed {
		return &Result{Results: r.results, AllVerified: true}, nil
	}

	m, err := Parse(capture.Bytes())
	if err != nil || m == nil {
		// Valid JSON that is not a path manifest — nothing to recurse into.
		return &Result{Results: r.results, AllVerified: true}, nil
	}

	v.progress(ctx, txID, "manifest-parsed", map[string]any{"paths": len(m.Paths)})

	ids, err := m.TxIDs()
	if err != nil {
		return &Result{Manifest: m, Results: r.results}, err
	}

	if err := v.verifyResources(ctx, r, ids, 1); err != nil {
		return &Result{Manifest: m, Results: r.results, AllVerified: allVerified(r, m)}, err
	}

	res := &Result{Manifest: m, Results: r.results, AllVerified: allVerified(r, m)}

	v.progress(ctx, txID, "manifest-complete", map[string]any{
		"resources":    len(ids),
		"all_verified": res.AllVerified,
	})

	if v.strict && !res.AllVerified {
		return res, wferr.Newf(wferr.KindVerificationFailed,
			"manifest %s references resources that failed verification", txID)
	}
	return res, nil
}

// verifyResources fans the ids out under the shared semaphore. depth is
// the depth of the manifest referencing them.
func (v *Verifier) verifyResources(ctx context.Context, r *run, ids []string, depth int) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, id := range ids {
		id := id
		if !r.visit(id) {
			continue
		}
		g.Go(func() error {
			if err := r.sem.Acquire(gctx, 1); err != nil {
				return wferr.Wrap(wferr.KindCancelled, "resource verification cancelled", err)
			}
			defer r.sem.Release(1)
			return v.verifyResource(gctx, r, id, depth)
		})
	}

	return g.Wait()
}

// verifyResource fetches and verifies one referenced resource, recursing
// into nested manifests.
func (v *Verifier) verifyResource(ctx context.Context, r *run, txID string, depth int) error {
	if cached, ok := v.cache.Get(txID); ok {
		r.record(cached)
		v.progress(ctx, txID, "resource-verified", map[string]any{"cached": true, "verified": cached.Verified})
		return nil
	}

	v.progress(ctx, txID, "resource-verifying", map[string]any{"depth": depth})

	resp, err := v.trusted.FetchResource(ctx, txID)
	if err != nil {
		res := &VerificationResult{TxID: txID, Error: err.Error(), Timestamp: time.Now()}
		v.cache.Set(txID, res, v.ttl)
		r.record(res)
		if v.strict {
			return err
		}
		v.progress(ctx, txID, "resource-verified", map[string]any{"verified": false, "error": err.Error()})
		return nil
	}
	defer resp.Body.Close()

	capture := newCappedBuffer(MaxCapturedBytes)
	verifyErr := v.base.VerifyData(ctx, verification.Input{
		Data:    io.TeeReader(resp.Body, capture),
		Headers: resp.Headers,
		TxID:    txID,
	})

	res := resultFor(txID, resp.Headers, capture, verifyErr)
	v.cache.Set(txID, res, v.ttl)
	r.record(res)

	if verifyErr != nil {
		if v.log != nil {
			v.log.Warn("manifest_resource_failed",
				slog.String("tx_id", txID),
				slog.String("error", verifyErr.Error()),
			)
		}
		if v.strict {
			return verifyErr
		}
		v.progress(ctx, txID, "resource-verified", map[string]any{"verified": false, "error": verifyErr.Error()})
		return nil
	}

	v.progress(ctx, txID, "resource-verified", map[string]any{"verified": true})

	// A JSON-like child may itself be a manifest.
	if IsJSONContentType(resp.Headers.Get("Content-Type")) && !capture.overflowed {
		if nested, err := Parse(capture.Bytes()); err == nil && nested != nil {
			childDepth := depth + 1
			if childDepth > v.maxDepth {
				return wferr.Newf(wferr.KindMaxDepthExceeded,
					"manifest %s nests beyond the depth limit of %d", txID, v.maxDepth)
			}
			v.progress(ctx, txID, "nested-manifest-detected", map[string]any{"depth": childDepth})
			ids, err := nested.TxIDs()
			if err != nil {
				return err
			}
			return v.verifyResources(ctx, r, ids, childDepth)
		}
	}

	return nil
}

func (v *Verifier) progress(ctx context.Context, txID, stage string, detail map[string]any) {
	if v.emitter == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["stage"] = stage
	v.emitter.Emit(ctx, events.Event{
		Topic:  events.ManifestProgress,
		TxID:   txID,
		Detail: detail,
	})
}

// allVerified reports whether every resource the manifest references has a
// verified cache entry.
func allVerified(r *run, m *Manifest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range m.Paths {
		res, ok := r.results[entry.ID]
		if !ok || !res.Verified {
			return false
		}
	}
	return true
}

func resultFor(txID string, headers http.Header, capture *cappedBuffer, verifyErr error) *VerificationResult {
	res := &VerificationResult{
		TxID:        txID,
		Verified:    verifyErr == nil,
		Timestamp:   time.Now(),
		ContentType: headers.Get("Content-Type"),
		Headers:     headers,
	}
	if verifyErr != nil {
		res.Error = verifyErr.Error()
	}
	if verifyErr == nil && !capture.overflowed {
		res.Content = capture.Bytes()
	}
	return res
}

// cappedBuffer buffers writes up to a limit; past it the buffer is
// discarded and writes become no-ops so oversize payloads are never held
// in memory.
type cappedBuffer struct {
	buf        bytes.Buffer
	limit      int
	overflowed bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.overflowed {
		return len(p), nil
	}
	if b.buf.Len()+len(p) > b.limit {
		b.overflowed = true
		b.buf.Reset()
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }
