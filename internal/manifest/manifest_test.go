package manifest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

func txID(seed byte) string {
	return strings.Repeat(string([]byte{'a' + seed%26}), 43)
}

func TestParse_Manifest(t *testing.T) {
	doc := fmt.Sprintf(`{
		"manifest": "arweave/paths",
		"version": "0.1.0",
		"index": {"path": "index.html"},
		"paths": {
			"index.html": {"id": %q},
			"js/app.js":  {"id": %q}
		}
	}`, txID(0), txID(1))

	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m == nil {
		t.Fatal("Parse returned nil for a valid manifest")
	}
	if m.Index.Path != "index.html" {
		t.Errorf("Index.Path = %q", m.Index.Path)
	}
	if len(m.Paths) != 2 {
		t.Errorf("len(Paths) = %d, want 2", len(m.Paths))
	}
}

func TestParse_PlainJSONIsNotAManifest(t *testing.T) {
	m, err := Parse([]byte(`{"hello": "world"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m != nil {
		t.Error("plain JSON parsed as a manifest")
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Fatal("Parse succeeded on invalid JSON")
	}
}

func TestTxIDs_DistinctAndValidated(t *testing.T) {
	doc := fmt.Sprintf(`{
		"manifest": "arweave/paths",
		"version": "0.1.0",
		"paths": {
			"a": {"id": %q},
			"b": {"id": %q},
			"c": {"id": %q}
		}
	}`, txID(0), txID(1), txID(0))

	m, err := Parse([]byte(doc))
	if err != nil || m == nil {
		t.Fatalf("Parse: %v", err)
	}

	ids, err := m.TxIDs()
	if err != nil {
		t.Fatalf("TxIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("len(ids) = %d, want 2 distinct", len(ids))
	}
}

func TestTxIDs_MalformedEntry(t *testing.T) {
	m := &Manifest{
		Manifest: "arweave/paths",
		Paths:    map[string]PathEntry{"bad": {ID: "too-short"}},
	}
	_, err := m.TxIDs()
	if !wferr.IsKind(err, wferr.KindBadManifestEntry) {
		t.Errorf("err = %v, want bad_manifest_entry", err)
	}
}

func TestResolvePath(t *testing.T) {
	m := &Manifest{
		Manifest: "arweave/paths",
		Index:    &Index{Path: "index.html"},
		Paths: map[string]PathEntry{
			"index.html": {ID: txID(0)},
			"img/a.png":  {ID: txID(1)},
		},
	}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", txID(0), false},
		{"/", txID(0), false},
		{"index.html", txID(0), false},
		{"/index.html/", txID(0), false},
		{"img/a.png", txID(1), false},
		{"missing.txt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := m.ResolvePath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolvePath(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolvePath(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolvePath_NoIndex(t *testing.T) {
	m := &Manifest{Manifest: "arweave/paths", Paths: map[string]PathEntry{}}
	if _, err := m.ResolvePath(""); err == nil {
		t.Fatal("ResolvePath('') succeeded without an index")
	}
}

func TestIsManifestContentType_CaseInsensitive(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"application/x.arweave-manifest+json", true},
		{"Application/X.Arweave-Manifest+JSON", true},
		{"APPLICATION/X.ARWEAVE-MANIFEST+JSON", true},
		{"application/x.arweave-manifest+json; charset=utf-8", true},
		{"application/json", false},
		{"text/html", false},
	}
	for _, tt := range tests {
		if got := IsManifestContentType(tt.ct); got != tt.want {
			t.Errorf("IsManifestContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestIsJSONContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"application/json", true},
		{"Application/JSON", true},
		{"application/x.arweave-manifest+json", true},
		{"application/ld+json", true},
		{"text/html", false},
		{"application/octet-stream", false},
	}
	for _, tt := range tests {
		if got := IsJSONContentType(tt.ct); got != tt.want {
			t.Errorf("IsJSONContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}
