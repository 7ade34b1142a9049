package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		name, in, wantOrigin, wantHost string
		ok                             bool
	}{
		{"lowercases and drops default port", "HTTPS://Example.COM:443", "https://example.com", "example.com", true},
		{"keeps non-default port", "http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"ipv6 literal", "http://[::1]:8080", "http://[::1]:8080", "[::1]:8080", true},
		{"null origin", "null", "null", "", true},
		{"empty", "   ", "", "", false},
		{"ftp scheme", "ftp://example.com", "", "", false},
		{"path", "https://example.com/path", "", "", false},
		{"query", "https://example.com/?q=1", "", "", false},
		{"credentials", "https://user@example.com", "", "", false},
		{"fragment", "https://example.com/#frag", "", "", false},
		{"port zero", "https://example.com:0", "", "", false},
		{"port overflow", "https://example.com:65536", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotOrigin, gotHost, ok := NormalizeHeader(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok=%v, want %v", ok, tc.ok)
			}
			if gotOrigin != tc.wantOrigin || gotHost != tc.wantHost {
				t.Fatalf("NormalizeHeader(%q)=(%q,%q), want (%q,%q)", tc.in, gotOrigin, gotHost, tc.wantOrigin, tc.wantHost)
			}
		})
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p, err := NewPolicy(nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.SameHostOnly() {
		t.Fatalf("expected same-host policy")
	}

	if _, ok := p.Allows("https://app.example.com", "app.example.com"); !ok {
		t.Fatalf("expected same host to be allowed")
	}
	if _, ok := p.Allows("https://app.example.com", "app.example.com:443"); !ok {
		t.Fatalf("expected default port to be equivalent")
	}
	if _, ok := p.Allows("https://app.example.com", "relay.example.com"); ok {
		t.Fatalf("expected different host to be rejected")
	}
	if _, ok := p.Allows("null", "relay.example.com"); ok {
		t.Fatalf("expected null origin to be rejected by same-host policy")
	}
}

func TestPolicy_AllowList(t *testing.T) {
	p, err := NewPolicy([]string{"https://App.Example.com:443", " http://localhost:5173 ", ""})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	got := p.Allowed()
	if len(got) != 2 || got[0] != "http://localhost:5173" || got[1] != "https://app.example.com" {
		t.Fatalf("Allowed()=%v", got)
	}

	normalized, ok := p.Allows("https://app.example.com", "relay.example.com")
	if !ok || normalized != "https://app.example.com" {
		t.Fatalf("Allows=(%q,%v), want (https://app.example.com,true)", normalized, ok)
	}
	if _, ok := p.Allows("https://other.example.com", "other.example.com"); ok {
		t.Fatalf("allow list must not fall back to same-host")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p, err := NewPolicy([]string{"*"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.AllowsAny() {
		t.Fatalf("expected wildcard")
	}
	if _, ok := p.Allows("https://anything.test:1234", "relay.example.com"); !ok {
		t.Fatalf("expected wildcard to allow any origin")
	}
	if _, ok := p.Allows("javascript:alert(1)", "relay.example.com"); ok {
		t.Fatalf("wildcard must still reject malformed origins")
	}
}

func TestNewPolicy_RejectsInvalidEntry(t *testing.T) {
	if _, err := NewPolicy([]string{"example.com"}); err == nil {
		t.Fatalf("expected error for origin without scheme")
	}
}

func TestPolicy_Check(t *testing.T) {
	p, _ := NewPolicy(nil)

	r := httptest.NewRequest("GET", "http://relay.example.com/ws", nil)
	if !p.Check(r) {
		t.Fatalf("request without Origin must pass")
	}

	r.Header.Set("Origin", "http://relay.example.com")
	if !p.Check(r) {
		t.Fatalf("same-host Origin must pass")
	}

	r.Header.Set("Origin", "http://evil.example.com")
	if p.Check(r) {
		t.Fatalf("foreign Origin must be rejected")
	}
}
