package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOriginAllowed(t *testing.T) {
	s := newTestServer()
	s.cfg.ExtensionOrigins = []string{"chrome-extension://abc123"}

	if !s.originAllowed("chrome-extension://abc123") {
		t.Fatal("allow-listed origin should be admitted")
	}
	if s.originAllowed("chrome-extension://evil") {
		t.Fatal("non-allow-listed origin should be rejected")
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1": true,
		"127.5.5.5": true,
		"::1":       true,
		"localhost": true,
		"10.0.0.5":  false,
		"8.8.8.8":   false,
	}
	for ip, want := range cases {
		if got := isLoopback(ip); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", ip, got, want)
		}
	}
}

// TestClientAdmittedNoTokenConfigured covers the case where no bearer token
// is configured at all: everyone is admitted.
func TestClientAdmittedNoTokenConfigured(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/cdp", nil)
	if !s.clientAdmitted(r) {
		t.Fatal("with no token configured, every client should be admitted")
	}
}

// TestClientAdmittedLoopbackNoOriginBypassesToken exercises the allowed
// bypass: loopback with no Origin header.
func TestClientAdmittedLoopbackNoOriginBypassesToken(t *testing.T) {
	s := newTestServer()
	s.cfg.BearerToken = "sekrit"
	r := httptest.NewRequest(http.MethodGet, "/cdp", nil)
	r.RemoteAddr = "127.0.0.1:54321"
	if !s.clientAdmitted(r) {
		t.Fatal("loopback peer with no Origin header should be admitted without a token")
	}
}

// TestClientAdmittedRejectsMissingTokenFromRemotePeer: a configured token
// with no token presented from a non-loopback peer is rejected.
func TestClientAdmittedRejectsMissingTokenFromRemotePeer(t *testing.T) {
	s := newTestServer()
	s.cfg.BearerToken = "sekrit"
	r := httptest.NewRequest(http.MethodGet, "/cdp", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	r.Header.Set("Origin", "https://example.com")
	if s.clientAdmitted(r) {
		t.Fatal("a non-loopback peer presenting no token should be rejected")
	}
}

func TestClientAdmittedAcceptsMatchingBearerToken(t *testing.T) {
	s := newTestServer()
	s.cfg.BearerToken = "sekrit"
	r := httptest.NewRequest(http.MethodGet, "/cdp", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	r.Header.Set("Authorization", "Bearer sekrit")
	if !s.clientAdmitted(r) {
		t.Fatal("a matching bearer token should be admitted")
	}
}

func TestLifecycleStartShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0 // let the OS assign a free port
	s := NewServer(cfg)

	if s.State() != StateStarting {
		t.Fatalf("new server should start in StateStarting, got %s", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("after Start, expected StateRunning, got %s", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("after Shutdown, expected StateStopped, got %s", s.State())
	}
}
