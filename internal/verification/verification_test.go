package verification

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ar-io/wayfinder-go/internal/aruri"
	"github.com/ar-io/wayfinder-go/internal/retrieval"
	"github.com/ar-io/wayfinder-go/internal/verification/merkle"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

const testTxID = "dQdyZwYsAfBJZtgEFDUbWe6MSNIMcPmXwLiFYCUB0pc"

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func digestOf(data []byte) string {
	h := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// trustedServer serves digest heads for one payload. Trusted lookups hit
// the sandbox subdomain; httptest binds 127.0.0.1, so the handler ignores
// the Host header and just answers.
func trustedServer(t *testing.T, digest string, headHasDigest bool) *httptest.Server {
	t.Helper()
	var warmed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			if headHasDigest || warmed.Load() {
				w.Header().Set(retrieval.HeaderDigest, digest)
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			warmed.Store(true)
			w.Write([]byte("warm"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// oracleFor builds a TrustedGateways over srvs using a client that maps
// sandbox subdomains back to the loopback listeners.
func oracleFor(t *testing.T, srvs ...*httptest.Server) *TrustedGateways {
	t.Helper()
	urls := make([]*url.URL, len(srvs))
	for i, s := range srvs {
		urls[i] = mustURL(t, s.URL)
	}
	tg, err := NewTrustedGateways(urls, WithTrustedClient(sandboxStrippingClient(t)))
	if err != nil {
		t.Fatalf("NewTrustedGateways: %v", err)
	}
	return tg
}

// sandboxStrippingClient rewrites <sandbox>.127.0.0.1:port hosts back to
// 127.0.0.1:port so the sandbox-subdomain URLs resolve in tests.
func sandboxStrippingClient(t *testing.T) *http.Client {
	t.Helper()
	return &http.Client{
		Transport: &hostRewriteTransport{inner: http.DefaultTransport},
	}
}

type hostRewriteTransport struct {
	inner http.RoundTripper
}

func (t *hostRewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	if i := strings.Index(host, ".127.0.0.1"); i > 0 {
		clone := req.Clone(req.Context())
		clone.URL.Host = host[i+1:]
		return t.inner.RoundTrip(clone)
	}
	return t.inner.RoundTrip(req)
}

func TestHash_RoundTrip(t *testing.T) {
	payload := []byte("the permanent bytes")
	srv := trustedServer(t, digestOf(payload), true)

	s := NewHash(oracleFor(t, srv))

	var lastProcessed int64
	err := s.VerifyData(context.Background(), Input{
		Data:    bytes.NewReader(payload),
		Headers: http.Header{"Content-Length": []string{fmt.Sprint(len(payload))}},
		TxID:    testTxID,
		Progress: func(processed, total int64) {
			if processed < lastProcessed {
				t.Errorf("progress went backwards: %d after %d", processed, lastProcessed)
			}
			lastProcessed = processed
			if total != int64(len(payload)) {
				t.Errorf("total = %d, want %d", total, len(payload))
			}
		},
	})
	if err != nil {
		t.Fatalf("VerifyData: %v", err)
	}
	if lastProcessed != int64(len(payload)) {
		t.Errorf("final processed = %d, want %d", lastProcessed, len(payload))
	}
}

func TestHash_DigestMismatch(t *testing.T) {
	srv := trustedServer(t, digestOf([]byte("different bytes")), true)
	s := NewHash(oracleFor(t, srv))

	err := s.VerifyData(context.Background(), Input{
		Data:    bytes.NewReader([]byte("the real bytes")),
		Headers: http.Header{},
		TxID:    testTxID,
	})
	if !wferr.IsKind(err, wferr.KindDigestMismatch) {
		t.Errorf("err = %v, want digest_mismatch", err)
	}
}

func TestHash_TrustedGatewaysDisagree(t *testing.T) {
	payload := []byte("payload")
	a := trustedServer(t, digestOf(payload), true)
	b := trustedServer(t, digestOf([]byte("other")), true)

	s := NewHash(oracleFor(t, a, b))
	err := s.VerifyData(context.Background(), Input{
		Data:    bytes.NewReader(payload),
		Headers: http.Header{},
		TxID:    testTxID,
	})
	if !wferr.IsKind(err, wferr.KindDigestMismatch) {
		t.Errorf("err = %v, want digest_mismatch", err)
	}
}

func TestTrusted_GetWarmsDigestCache(t *testing.T) {
	payload := []byte("cold content")
	srv := trustedServer(t, digestOf(payload), false) // HEAD empty until GET warms

	tg := oracleFor(t, srv)
	d, err := tg.Digest(context.Background(), testTxID)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d != digestOf(payload) {
		t.Errorf("digest = %q, want %q", d, digestOf(payload))
	}
}

func TestTrusted_SandboxHostUsed(t *testing.T) {
	sandbox, err := aruri.SandboxSubdomain(testTxID)
	if err != nil {
		t.Fatal(err)
	}
	got := sandboxURL(mustURL(t, "https://gw.example"), sandbox, testTxID)
	want := "https://" + sandbox + ".gw.example/" + testTxID
	if got != want {
		t.Errorf("sandboxURL = %q, want %q", got, want)
	}
}

func TestRemote_Verified(t *testing.T) {
	s := NewRemote()

	headers := http.Header{}
	headers.Set("x-ar-io-verified", "true") // case-insensitive name
	err := s.VerifyData(context.Background(), Input{
		Data:    strings.NewReader("bytes"),
		Headers: headers,
	})
	if err != nil {
		t.Fatalf("VerifyData: %v", err)
	}
}

func TestRemote_Unverified(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"missing", ""},
		{"wrong value", "false"},
		{"case-sensitive value", "True"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.value != "" {
				headers.Set(retrieval.HeaderVerified, tt.value)
			}
			err := NewRemote().VerifyData(context.Background(), Input{
				Data:    strings.NewReader("bytes"),
				Headers: headers,
			})
			if !wferr.IsKind(err, wferr.KindVerificationFailed) {
				t.Errorf("err = %v, want verification_failed", err)
			}
		})
	}
}

// dataRootServer serves /tx/{id}/data_root and a graphql classifier.
func dataRootServer(t *testing.T, root string, bundled bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tx/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, root)
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if bundled {
			fmt.Fprintf(w, `{"data":{"transactions":{"edges":[{"node":{"id":%q,"bundledIn":{"id":"bundle-tx"}}}]}}}`, testTxID)
			return
		}
		fmt.Fprintf(w, `{"data":{"transactions":{"edges":[{"node":{"id":%q,"bundledIn":null}}]}}}`, testTxID)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDataRoot_Match(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5A}, 3*merkle.MaxChunkSize+4096)
	root, _, err := merkle.RootOfReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	rootText := base64.RawURLEncoding.EncodeToString(root[:])

	srv := dataRootServer(t, rootText, false)
	s := NewDataRoot(oracleFor(t, srv), nil)

	err = s.VerifyData(context.Background(), Input{
		Data:    bytes.NewReader(payload),
		Headers: http.Header{},
		TxID:    testTxID,
	})
	if err != nil {
		t.Fatalf("VerifyData: %v", err)
	}
}

func TestDataRoot_Mismatch(t *testing.T) {
	srv := dataRootServer(t, base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)), false)
	s := NewDataRoot(oracleFor(t, srv), nil)

	err := s.VerifyData(context.Background(), Input{
		Data:    bytes.NewReader([]byte("whatever")),
		Headers: http.Header{},
		TxID:    testTxID,
	})
	if !wferr.IsKind(err, wferr.KindDataRootMismatch) {
		t.Errorf("err = %v, want data_root_mismatch", err)
	}
}

func TestDataRoot_BundledRejected(t *testing.T) {
	srv := dataRootServer(t, "irrelevant", true)
	s := NewDataRoot(oracleFor(t, srv), nil)

	err := s.VerifyData(context.Background(), Input{
		Data:    bytes.NewReader([]byte("bundled bytes")),
		Headers: http.Header{},
		TxID:    testTxID,
	})
	if !wferr.IsKind(err, wferr.KindUnsupportedForBundled) {
		t.Errorf("err = %v, want unsupported_for_bundled", err)
	}
}

func txMetaServer(t *testing.T, signature, owner string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"signature":%q,"owner":%q}`, signature, owner)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSignature_Agreement(t *testing.T) {
	a := txMetaServer(t, "sig-bytes", "owner-key")
	b := txMetaServer(t, "sig-bytes", "owner-key")

	s := NewSignature(oracleFor(t, a, b))
	err := s.VerifyData(context.Background(), Input{
		Data:    strings.NewReader("bytes"),
		Headers: http.Header{},
		TxID:    testTxID,
	})
	if err != nil {
		t.Fatalf("VerifyData: %v", err)
	}
}

func TestSignature_Disagreement(t *testing.T) {
	a := txMetaServer(t, "sig-bytes", "owner-key")
	b := txMetaServer(t, "forged", "owner-key")

	s := NewSignature(oracleFor(t, a, b))
	err := s.VerifyData(context.Background(), Input{
		Data:    strings.NewReader("bytes"),
		Headers: http.Header{},
		TxID:    testTxID,
	})
	if !wferr.IsKind(err, wferr.KindVerificationFailed) {
		t.Errorf("err = %v, want verification_failed", err)
	}
}

func TestGraphQLClassifier(t *testing.T) {
	bundled := dataRootServer(t, "", true)
	plain := dataRootServer(t, "", false)

	c1 := NewGraphQLClassifier(mustURL(t, bundled.URL), nil)
	kind, err := c1.Classify(context.Background(), testTxID)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != KindANS104 {
		t.Errorf("kind = %v, want ans104", kind)
	}

	c2 := NewGraphQLClassifier(mustURL(t, plain.URL), nil)
	kind, err = c2.Classify(context.Background(), testTxID)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != KindTransaction {
		t.Errorf("kind = %v, want transaction", kind)
	}
}
