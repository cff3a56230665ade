package verification

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Hash verifies the stream's SHA-256 digest against the trusted gateways.
type Hash struct {
	trusted *TrustedGateways
}

// NewHash builds the strategy over the given oracle.
func NewHash(trusted *TrustedGateways) *Hash {
	return &Hash{trusted: trusted}
}

func (s *Hash) Name() string { return "hash" }

// TrustedGateways exposes the oracle set.
func (s *Hash) TrustedGateways() []*url.URL { return s.trusted.Gateways() }

// VerifyData hashes the stream incrementally while the trusted digest is
// fetched concurrently, then compares the two.
func (s *Hash) VerifyData(ctx context.Context, in Input) error {
	var (
		computed string
		expected string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h := sha256.New()
		pw := &progressWriter{progress: in.Progress, total: totalFromHeaders(in.Headers)}
		if _, err := io.Copy(io.MultiWriter(h, pw), in.Data); err != nil {
			return wferr.Wrap(wferr.KindVerificationFailed, "read stream", err)
		}
		computed = base64.RawURLEncoding.EncodeToString(h.Sum(nil))
		return nil
	})

	g.Go(func() error {
		d, err := s.trusted.Digest(gctx, in.TxID)
		if err != nil {
			return err
		}
		expected = d
		return nil
	})

	if err := g.Wait(); err != nil {
		// The stream must be fully drained even when the trusted lookup
		// failed first, or the client branch stalls on tee backpressure.
		io.Copy(io.Discard, in.Data)
		return err
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) != 1 {
		return wferr.Newf(wferr.KindDigestMismatch,
			"computed digest %s does not match trusted digest %s for %s", computed, expected, in.TxID)
	}
	return nil
}
