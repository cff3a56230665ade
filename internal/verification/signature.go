package verification

import (
	"context"
	"io"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Signature cross-checks the transaction signature across the trusted
// gateways: every responder must agree on the signature and owner fields.
type Signature struct {
	trusted *TrustedGateways
}

// NewSignature builds the strategy over the given oracle.
func NewSignature(trusted *TrustedGateways) *Signature {
	return &Signature{trusted: trusted}
}

func (s *Signature) Name() string { return "signature" }

// TrustedGateways exposes the oracle set.
func (s *Signature) TrustedGateways() []*url.URL { return s.trusted.Gateways() }

// VerifyData drains the stream and compares the signature attestations of
// every responding trusted gateway.
func (s *Signature) VerifyData(ctx context.Context, in Input) error {
	pw := &progressWriter{progress: in.Progress, total: totalFromHeaders(in.Headers)}
	if _, err := io.Copy(pw, in.Data); err != nil {
		return wferr.Wrap(wferr.KindVerificationFailed, "read stream", err)
	}

	bodies, err := s.trusted.TxMetadata(ctx, in.TxID)
	if err != nil {
		return err
	}

	var signature, owner string
	for i, body := range bodies {
		if !gjson.ValidBytes(body) {
			return wferr.Newf(wferr.KindVerificationFailed, "trusted gateway returned invalid metadata for %s", in.TxID)
		}
		sig := gjson.GetBytes(body, "signature").String()
		own := gjson.GetBytes(body, "owner").String()
		if sig == "" {
			return wferr.Newf(wferr.KindVerificationFailed, "trusted gateway returned no signature for %s", in.TxID)
		}
		if i == 0 {
			signature, owner = sig, own
			continue
		}
		if sig != signature || own != owner {
			return wferr.Newf(wferr.KindVerificationFailed,
				"trusted gateways disagree on the signature for %s", in.TxID)
		}
	}
	return nil
}
