package verification

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/ar-io/wayfinder-go/internal/verification/merkle"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// DataRoot verifies the stream's merkle data root against the trusted
// gateways.
//
// Bundled (ans104) payloads carry no data root of their own; the
// classifier rejects them with KindUnsupportedForBundled. Classification
// runs concurrently with hashing, so the stream is still read to the end
// before the rejection is returned.
type DataRoot struct {
	trusted    *TrustedGateways
	classifier DataClassifier
}

// NewDataRoot builds the strategy. classifier may be nil, in which case
// the first trusted gateway's GraphQL endpoint classifies payloads.
func NewDataRoot(trusted *TrustedGateways, classifier DataClassifier) *DataRoot {
	if classifier == nil {
		classifier = NewGraphQLClassifier(trusted.Gateways()[0], nil)
	}
	return &DataRoot{trusted: trusted, classifier: classifier}
}

func (s *DataRoot) Name() string { return "data-root" }

// TrustedGateways exposes the oracle set.
func (s *DataRoot) TrustedGateways() []*url.URL { return s.trusted.Gateways() }

// VerifyData partitions and hashes the stream while the trusted data root
// and the payload classification are fetched concurrently.
func (s *DataRoot) VerifyData(ctx context.Context, in Input) error {
	var (
		computed [32]byte
		expected string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		kind, err := s.classifier.Classify(gctx, in.TxID)
		if err != nil {
			return err
		}
		if kind == KindANS104 {
			return wferr.Newf(wferr.KindUnsupportedForBundled,
				"%s is a bundled data item; data-root verification needs a plain transaction", in.TxID)
		}
		return nil
	})

	g.Go(func() error {
		pw := &progressWriter{progress: in.Progress, total: totalFromHeaders(in.Headers)}
		root, _, err := merkle.RootOfReader(io.TeeReader(in.Data, pw))
		if err != nil {
			return wferr.Wrap(wferr.KindVerificationFailed, "read stream", err)
		}
		computed = root
		return nil
	})

	g.Go(func() error {
		r, err := s.trusted.DataRoot(gctx, in.TxID)
		if err != nil {
			return err
		}
		expected = r
		return nil
	})

	if err := g.Wait(); err != nil {
		io.Copy(io.Discard, in.Data)
		return err
	}

	computedText := base64.RawURLEncoding.EncodeToString(computed[:])
	if subtle.ConstantTimeCompare([]byte(computedText), []byte(expected)) != 1 {
		return wferr.Newf(wferr.KindDataRootMismatch,
			"computed data root %s does not match trusted root %s for %s", computedText, expected, in.TxID)
	}
	return nil
}
