package verification

import (
	"context"
	"io"

	"github.com/ar-io/wayfinder-go/internal/retrieval"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Remote trusts the origin gateway's own verification attestation: the
// response must carry `X-AR-IO-Verified: true`. It holds no trusted
// gateways and therefore cannot fetch nested resources.
type Remote struct{}

// NewRemote builds the strategy.
func NewRemote() *Remote { return &Remote{} }

func (s *Remote) Name() string { return "remote" }

// VerifyData drains the stream (the bytes still have to reach the client
// branch) and checks the attestation header. The header name is
// case-insensitive per HTTP; the value must be exactly "true".
func (s *Remote) VerifyData(_ context.Context, in Input) error {
	pw := &progressWriter{progress: in.Progress, total: totalFromHeaders(in.Headers)}
	if _, err := io.Copy(pw, in.Data); err != nil {
		return wferr.Wrap(wferr.KindVerificationFailed, "read stream", err)
	}

	if v := in.Headers.Get(retrieval.HeaderVerified); v != "true" {
		return wferr.Newf(wferr.KindVerificationFailed,
			"gateway did not attest verification (header %q = %q)", retrieval.HeaderVerified, v)
	}
	return nil
}
