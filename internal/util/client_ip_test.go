package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func mustTrusted(t *testing.T, entries ...string) *TrustedProxies {
	t.Helper()
	trusted, err := NewTrustedProxies(entries)
	if err != nil {
		t.Fatalf("NewTrustedProxies(%v) error = %v", entries, err)
	}
	return trusted
}

func TestClientIPBehindGateway(t *testing.T) {
	gateway := mustTrusted(t, "10.0.0.0/8", "fd00::/8")

	tests := []struct {
		name    string
		remote  string
		xff     string
		trusted *TrustedProxies
		want    string
	}{
		{"direct caller, no proxies configured", "198.51.100.10:4000", "203.0.113.5", nil, "198.51.100.10"},
		{"untrusted peer cannot forge forwarded-for", "198.51.100.10:4000", "203.0.113.5", gateway, "198.51.100.10"},
		{"gateway forwards the uploader", "10.1.2.3:4000", "203.0.113.5", gateway, "203.0.113.5"},
		{"chain of gateways", "10.1.2.3:4000", "203.0.113.5, 10.9.9.9", gateway, "203.0.113.5"},
		{"spoofed leftmost hop is skipped", "10.1.2.3:4000", "1.1.1.1, 203.0.113.5, 10.9.9.9", gateway, "203.0.113.5"},
		{"ipv6 gateway", "[fd00::1]:4000", "2001:db8::7", gateway, "2001:db8::7"},
		{"garbage forwarded-for falls back to peer", "10.1.2.3:4000", "unknown", gateway, "10.1.2.3"},
		{"unparseable remote addr passes through", "pipe", "", gateway, "pipe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/documents", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTrustedProxiesTrustsPeer(t *testing.T) {
	gateway := mustTrusted(t, "127.0.0.1", "10.0.0.0/8")

	for remote, want := range map[string]bool{
		"127.0.0.1:5555":       true,
		"[::ffff:10.0.0.4]:80": true,
		"192.168.0.9:5555":     false,
		"":                     false,
	} {
		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		req.RemoteAddr = remote
		if got := gateway.TrustsPeer(req); got != want {
			t.Errorf("TrustsPeer(%q) = %v, want %v", remote, got, want)
		}
	}

	var none *TrustedProxies
	if none.Contains(netip.MustParseAddr("127.0.0.1")) {
		t.Fatalf("nil allowlist should trust nothing")
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if got := mustTrusted(t, " ", ""); got != nil {
		t.Fatalf("blank entries = %+v, want nil", got)
	}
	for _, bad := range []string{"10.0.0.0/33", "gateway.internal"} {
		if _, err := NewTrustedProxies([]string{bad}); err == nil {
			t.Fatalf("NewTrustedProxies(%q) error = nil", bad)
		}
	}
}
