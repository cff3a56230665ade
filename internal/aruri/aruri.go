// Package aruri parses ar:// addresses and derives the routing fields the
// pipeline needs: the transaction id or ArNS name, the sandbox subdomain,
// and the residual path.
package aruri

import (
	"encoding/base32"
	"encoding/base64"
	"strings"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// TxIDLength is the fixed length of a base64url transaction id.
const TxIDLength = 43

// Parsed is the decomposed form of a WayFinder address.
type Parsed struct {
	// Raw is the input as given.
	Raw string

	// IsAr reports whether the input used the ar:// scheme. Non-ar inputs
	// bypass routing and are fetched directly.
	IsAr bool

	// TxID is set when the identifier is a 43-char transaction id.
	TxID string

	// ArNSName is set when the identifier is a human-readable name.
	ArNSName string

	// Subdomain is the host label prepended for origin isolation: the name
	// itself for names, the base32 sandbox encoding for transaction ids.
	Subdomain string

	// Path is everything after the identifier, without a leading slash.
	Path string
}

// Parse decomposes uri. Inputs that do not use the ar:// scheme are returned
// with IsAr == false and no error; malformed ar:// inputs fail with
// KindInvalidURI.
func Parse(uri string) (*Parsed, error) {
	const scheme = "ar://"

	if !strings.HasPrefix(uri, scheme) {
		return &Parsed{Raw: uri}, nil
	}

	rest := strings.TrimPrefix(uri, scheme)
	if rest == "" {
		return nil, wferr.New(wferr.KindInvalidURI, "missing identifier after ar://")
	}

	ident := rest
	path := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		ident = rest[:i]
		path = strings.TrimPrefix(rest[i:], "/")
	}

	p := &Parsed{Raw: uri, IsAr: true, Path: path}

	switch {
	case IsTxID(ident):
		p.TxID = ident
		sandbox, err := SandboxSubdomain(ident)
		if err != nil {
			return nil, wferr.Wrap(wferr.KindInvalidURI, "sandbox encoding", err)
		}
		p.Subdomain = sandbox
	case IsArNSName(ident):
		p.ArNSName = ident
		p.Subdomain = ident
	default:
		return nil, wferr.Newf(wferr.KindInvalidURI, "identifier %q is neither a txId nor an ArNS name", ident)
	}

	return p, nil
}

// IsTxID reports whether s is exactly 43 characters of the base64url
// alphabet.
func IsTxID(s string) bool {
	if len(s) != TxIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// IsArNSName reports whether s is a valid ArNS name: lowercase alphanumerics,
// dashes and underscores, of length 1-42 or 44-51. Length 43 is reserved for
// transaction ids.
func IsArNSName(s string) bool {
	n := len(s)
	if n < 1 || n > 51 || n == TxIDLength {
		return false
	}
	for i := 0; i < n; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

var sandboxEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SandboxSubdomain returns the lowercase unpadded base32 encoding of the
// decoded txId bytes. Gateways serve each transaction from this subdomain so
// every piece of content gets its own browser origin.
func SandboxSubdomain(txID string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(txID)
	if err != nil {
		return "", err
	}
	return strings.ToLower(sandboxEncoding.EncodeToString(raw)), nil
}
