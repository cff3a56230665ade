package verification

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ar-io/wayfinder-go/internal/aruri"
	"github.com/ar-io/wayfinder-go/internal/retrieval"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// DefaultDigestConcurrency serialises trusted-digest lookups.
const DefaultDigestConcurrency = 1

const trustedRequestTimeout = 30 * time.Second

// TrustedGateways is the verification oracle: the set of gateways the
// caller explicitly designates as authorities for digests, data roots and
// transaction metadata.
type TrustedGateways struct {
	gateways    []*url.URL
	client      *http.Client
	log         *slog.Logger
	concurrency int64
}

// TrustedOption tunes the oracle.
type TrustedOption func(*TrustedGateways)

// WithTrustedClient overrides the HTTP client.
func WithTrustedClient(c *http.Client) TrustedOption {
	return func(t *TrustedGateways) { t.client = c }
}

// WithTrustedConcurrency caps concurrent lookups. Default 1.
func WithTrustedConcurrency(n int) TrustedOption {
	return func(t *TrustedGateways) {
		if n > 0 {
			t.concurrency = int64(n)
		}
	}
}

// WithTrustedLogger sets the oracle logger.
func WithTrustedLogger(log *slog.Logger) TrustedOption {
	return func(t *TrustedGateways) { t.log = log }
}

// NewTrustedGateways builds the oracle. At least one gateway is required.
func NewTrustedGateways(gateways []*url.URL, opts ...TrustedOption) (*TrustedGateways, error) {
	if len(gateways) == 0 {
		return nil, wferr.New(wferr.KindVerificationFailed, "at least one trusted gateway is required")
	}
	t := &TrustedGateways{
		gateways:    gateways,
		client:      &http.Client{Timeout: trustedRequestTimeout},
		concurrency: DefaultDigestConcurrency,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Gateways returns the oracle set.
func (t *TrustedGateways) Gateways() []*url.URL {
	out := make([]*url.URL, len(t.gateways))
	copy(out, t.gateways)
	return out
}

// Digest asks every trusted gateway for the content digest of txID and
// returns the agreed value. Responders that disagree fail the lookup with
// KindDigestMismatch; a lookup with no responder fails with
// KindVerificationFailed.
//
// Per gateway the sequence is HEAD → GET → HEAD: the GET (body discarded)
// warms the gateway's digest cache when the first HEAD carries no digest
// header.
func (t *TrustedGateways) Digest(ctx context.Context, txID string) (string, error) {
	results, err := t.collect(ctx, func(ctx context.Context, gw *url.URL) (string, error) {
		return t.digestFrom(ctx, gw, txID)
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", wferr.Newf(wferr.KindVerificationFailed, "no trusted gateway returned a digest for %s", txID)
	}
	first := results[0]
	for _, d := range results[1:] {
		if d != first {
			return "", wferr.Newf(wferr.KindDigestMismatch, "trusted gateways disagree on digest for %s", txID)
		}
	}
	return first, nil
}

// DataRoot fetches the merkle data root for txID, cross-checking all
// responders.
func (t *TrustedGateways) DataRoot(ctx context.Context, txID string) (string, error) {
	results, err := t.collect(ctx, func(ctx context.Context, gw *url.URL) (string, error) {
		return t.textFrom(ctx, gw, "/tx/"+txID+"/data_root")
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", wferr.Newf(wferr.KindVerificationFailed, "no trusted gateway returned a data root for %s", txID)
	}
	first := results[0]
	for _, d := range results[1:] {
		if d != first {
			return "", wferr.Newf(wferr.KindDataRootMismatch, "trusted gateways disagree on data root for %s", txID)
		}
	}
	return first, nil
}

// TxMetadata fetches /tx/{txID} from the trusted gateways and returns the
// raw JSON bodies of every responder for field-level cross-checking.
func (t *TrustedGateways) TxMetadata(ctx context.Context, txID string) ([][]byte, error) {
	bodies, err := t.collectBytes(ctx, func(ctx context.Context, gw *url.URL) ([]byte, error) {
		return t.bytesFrom(ctx, gw, "/tx/"+txID)
	})
	if err != nil {
		return nil, err
	}
	if len(bodies) == 0 {
		return nil, wferr.Newf(wferr.KindVerificationFailed, "no trusted gateway returned metadata for %s", txID)
	}
	return bodies, nil
}

// FetchResource retrieves txID's content from the trusted gateways with
// first-success semantics. The caller owns the response body.
func (t *TrustedGateways) FetchResource(ctx context.Context, txID string) (*retrieval.Response, error) {
	sandbox, err := aruri.SandboxSubdomain(txID)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindBadManifestEntry, "sandbox encoding", err)
	}

	var lastErr error
	for _, gw := range t.gateways {
		target := sandboxURL(gw, sandbox, txID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = wferr.Newf(wferr.KindRetrievalFailed, "trusted gateway %s status %d", gw.Host, resp.StatusCode)
			continue
		}
		return &retrieval.Response{
			Body:       resp.Body,
			Headers:    resp.Header,
			StatusCode: resp.StatusCode,
		}, nil
	}
	return nil, wferr.Wrap(wferr.KindRetrievalFailed, "no trusted gateway served the resource", lastErr)
}

// collect runs fetch against every gateway under the concurrency cap and
// returns the successful results in gateway order.
func (t *TrustedGateways) collect(ctx context.Context, fetch func(context.Context, *url.URL) (string, error)) ([]string, error) {
	sem := semaphore.NewWeighted(t.concurrency)
	results := make([]string, len(t.gateways))
	ok := make([]bool, len(t.gateways))

	var wg sync.WaitGroup
	for i, gw := range t.gateways {
		wg.Add(1)
		go func(i int, gw *url.URL) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			v, err := fetch(ctx, gw)
			if err != nil {
				if t.log != nil {
					t.log.Warn("trusted_gateway_lookup_failed",
						slog.String("gateway", gw.Host),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			results[i] = v
			ok[i] = true
		}(i, gw)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, wferr.Wrap(wferr.KindCancelled, "trusted lookup cancelled", err)
	}

	out := make([]string, 0, len(results))
	for i, v := range results {
		if ok[i] {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *TrustedGateways) collectBytes(ctx context.Context, fetch func(context.Context, *url.URL) ([]byte, error)) ([][]byte, error) {
	sem := semaphore.NewWeighted(t.concurrency)
	results := make([][]byte, len(t.gateways))

	var wg sync.WaitGroup
	for i, gw := range t.gateways {
		wg.Add(1)
		go func(i int, gw *url.URL) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			v, err := fetch(ctx, gw)
			if err != nil {
				if t.log != nil {
					t.log.Warn("trusted_gateway_lookup_failed",
						slog.String("gateway", gw.Host),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			results[i] = v
		}(i, gw)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, wferr.Wrap(wferr.KindCancelled, "trusted lookup cancelled", err)
	}

	out := make([][]byte, 0, len(results))
	for _, v := range results {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// digestFrom performs the HEAD → GET → HEAD dance against one gateway.
func (t *TrustedGateways) digestFrom(ctx context.Context, gw *url.URL, txID string) (string, error) {
	sandbox, err := aruri.SandboxSubdomain(txID)
	if err != nil {
		return "", err
	}
	target := sandboxURL(gw, sandbox, txID)

	if d, err := t.headDigest(ctx, target); err == nil && d != "" {
		return d, nil
	}

	// Warm the gateway's cache; the digest header appears once the gateway
	// has hashed the content.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	if d := resp.Header.Get(retrieval.HeaderDigest); d != "" {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return d, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	d, err := t.headDigest(ctx, target)
	if err != nil {
		return "", err
	}
	if d == "" {
		return "", wferr.Newf(wferr.KindVerificationFailed, "gateway %s has no digest for %s", gw.Host, txID)
	}
	return d, nil
}

func (t *TrustedGateways) headDigest(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", wferr.Newf(wferr.KindVerificationFailed, "head status %d", resp.StatusCode)
	}
	return resp.Header.Get(retrieval.HeaderDigest), nil
}

func (t *TrustedGateways) textFrom(ctx context.Context, gw *url.URL, path string) (string, error) {
	b, err := t.bytesFrom(ctx, gw, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (t *TrustedGateways) bytesFrom(ctx context.Context, gw *url.URL, path string) ([]byte, error) {
	u := *gw
	u.Path = path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, wferr.Newf(wferr.KindVerificationFailed, "status %d from %s", resp.StatusCode, gw.Host)
	}
	return io.ReadAll(resp.Body)
}

func sandboxURL(gw *url.URL, sandbox, txID string) string {
	u := *gw
	host := u.Hostname()
	if port := u.Port(); port != "" {
		u.Host = sandbox + "." + host + ":" + port
	} else {
		u.Host = sandbox + "." + host
	}
	u.Path = "/" + txID
	return u.String()
}
