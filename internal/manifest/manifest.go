// Package manifest parses path manifests and recursively verifies the
// transitive resource graph they reference.
package manifest

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/ar-io/wayfinder-go/internal/aruri"
	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// ContentType is the manifest media type gateways serve.
const ContentType = "application/x.arweave-manifest+json"

// manifestKind is the fixed value of the "manifest" field.
const manifestKind = "arweave/paths"

// Manifest maps path names to transaction ids.
type Manifest struct {
	Manifest string               `json:"manifest"`
	Version  string               `json:"version"`
	Index    *Index               `json:"index,omitempty"`
	Paths    map[string]PathEntry `json:"paths"`
}

// Index names the path served for the bare manifest root.
type Index struct {
	Path string `json:"path"`
}

// PathEntry is one manifest target.
type PathEntry struct {
	ID string `json:"id"`
}

// Parse decodes data as a manifest. It returns (nil, nil) when the JSON is
// valid but not a path manifest, so callers can treat any JSON payload as a
// candidate.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if m.Manifest != manifestKind {
		return nil, nil
	}
	return &m, nil
}

// TxIDs returns the distinct transaction ids referenced by the manifest.
// A malformed id fails with KindBadManifestEntry.
func (m *Manifest) TxIDs() ([]string, error) {
	seen := make(map[string]struct{}, len(m.Paths))
	out := make([]string, 0, len(m.Paths))
	for name, entry := range m.Paths {
		if !aruri.IsTxID(entry.ID) {
			return nil, wferr.Newf(wferr.KindBadManifestEntry,
				"path %q references malformed id %q", name, entry.ID)
		}
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		seen[entry.ID] = struct{}{}
		out = append(out, entry.ID)
	}
	return out, nil
}

// ResolvePath resolves p to a transaction id. Leading and trailing slashes
// are normalised; the empty path and "/" resolve to the index path when one
// is present.
func (m *Manifest) ResolvePath(p string) (string, error) {
	p = strings.Trim(p, "/")

	if p == "" {
		if m.Index == nil || m.Index.Path == "" {
			return "", fmt.Errorf("manifest: no index path")
		}
		p = strings.Trim(m.Index.Path, "/")
	}

	entry, ok := m.Paths[p]
	if !ok {
		return "", fmt.Errorf("manifest: path %q not found", p)
	}
	return entry.ID, nil
}

// IsManifestContentType reports whether ct names the manifest media type.
// The comparison is case-insensitive and ignores parameters.
func IsManifestContentType(ct string) bool {
	parsed, _, err := mime.ParseMediaType(ct)
	if err != nil {
		parsed = strings.ToLower(strings.TrimSpace(ct))
	}
	return parsed == ContentType
}

// IsJSONContentType reports whether ct is JSON-like — such payloads are
// parsed as manifest candidates.
func IsJSONContentType(ct string) bool {
	parsed, _, err := mime.ParseMediaType(ct)
	if err != nil {
		parsed = strings.ToLower(strings.TrimSpace(ct))
	}
	if parsed == ContentType || parsed == "application/json" {
		return true
	}
	return strings.HasSuffix(parsed, "+json")
}
