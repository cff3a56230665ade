package aruri

import (
	"strings"
	"testing"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

const sampleTxID = "dQdyZwYsAfBJZtgEFDUbWe6MSNIMcPmXwLiFYCUB0pc"

func TestParse_TxID(t *testing.T) {
	p, err := Parse("ar://" + sampleTxID + "/images/logo.png")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.IsAr {
		t.Fatal("IsAr = false, want true")
	}
	if p.TxID != sampleTxID {
		t.Errorf("TxID = %q, want %q", p.TxID, sampleTxID)
	}
	if p.ArNSName != "" {
		t.Errorf("ArNSName = %q, want empty", p.ArNSName)
	}
	if p.Path != "images/logo.png" {
		t.Errorf("Path = %q, want %q", p.Path, "images/logo.png")
	}
	if p.Subdomain == "" {
		t.Error("Subdomain is empty, want sandbox encoding")
	}
	if p.Subdomain != strings.ToLower(p.Subdomain) {
		t.Errorf("Subdomain %q is not lowercase", p.Subdomain)
	}
	if strings.ContainsAny(p.Subdomain, "=") {
		t.Errorf("Subdomain %q contains padding", p.Subdomain)
	}
}

func TestParse_ArNSName(t *testing.T) {
	p, err := Parse("ar://ardrive/about")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.ArNSName != "ardrive" {
		t.Errorf("ArNSName = %q, want ardrive", p.ArNSName)
	}
	if p.Subdomain != "ardrive" {
		t.Errorf("Subdomain = %q, want ardrive", p.Subdomain)
	}
	if p.TxID != "" {
		t.Errorf("TxID = %q, want empty", p.TxID)
	}
	if p.Path != "about" {
		t.Errorf("Path = %q, want about", p.Path)
	}
}

func TestParse_NonAr(t *testing.T) {
	p, err := Parse("https://example.com/page")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.IsAr {
		t.Error("IsAr = true for https URL, want false")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"ar://",
		"ar://UPPER-Case-Name-Which-Is-Not-Allowed",
		"ar://" + sampleTxID + "x",                 // 44 chars but uppercase present
		"ar://has space",
		"ar://" + strings.Repeat("a", 52),          // too long
	}
	for _, uri := range tests {
		t.Run(uri, func(t *testing.T) {
			_, err := Parse(uri)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", uri)
			}
			if !wferr.IsKind(err, wferr.KindInvalidURI) {
				t.Errorf("kind = %v, want invalid_uri", wferr.KindOf(err))
			}
		})
	}
}

func TestIsTxID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{sampleTxID, true},
		{strings.Repeat("A", 43), true},
		{strings.Repeat("A", 42), false},
		{strings.Repeat("A", 44), false},
		{strings.Repeat("+", 43), false}, // standard b64, not url-safe
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTxID(tt.in); got != tt.want {
			t.Errorf("IsTxID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsArNSName(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ardrive", true},
		{"a", true},
		{"my_name-1", true},
		{strings.Repeat("a", 42), true},
		{strings.Repeat("a", 43), false}, // reserved for txIds
		{strings.Repeat("a", 44), true},
		{strings.Repeat("a", 51), true},
		{strings.Repeat("a", 52), false},
		{"Upper", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsArNSName(tt.in); got != tt.want {
			t.Errorf("IsArNSName(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSandboxSubdomain_RoundTrip(t *testing.T) {
	s, err := SandboxSubdomain(sampleTxID)
	if err != nil {
		t.Fatalf("SandboxSubdomain: %v", err)
	}
	// 32 bytes of decoded txId → 52 base32 chars unpadded.
	if len(s) != 52 {
		t.Errorf("len = %d, want 52", len(s))
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '2' && c <= '7') {
			t.Errorf("unexpected character %q in sandbox %q", c, s)
		}
	}
}
