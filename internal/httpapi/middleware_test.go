package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentrt/core/internal/audit"
	"github.com/agentrt/core/internal/ratelimit"
)

func TestRateLimitMiddleware_BlocksOverBurst(t *testing.T) {
	s := New(Config{
		RateLimit: ratelimit.Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 2},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.10:5555"

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected the first two requests within burst to succeed, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected the third request to exceed the burst, got %v", codes)
	}
}

func TestRateLimitMiddleware_DisabledAllowsUnlimitedRequests(t *testing.T) {
	s := New(Config{RateLimit: ratelimit.Config{Enabled: false}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.11:5555"

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with rate limiting disabled, got %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_SeparateKeysPerClientIP(t *testing.T) {
	s := New(Config{
		RateLimit: ratelimit.Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 1},
	})

	reqA := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	reqA.RemoteAddr = "198.51.100.1:1111"
	reqB := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	reqB.RemoteAddr = "198.51.100.2:2222"

	recA := httptest.NewRecorder()
	s.Handler().ServeHTTP(recA, reqA)
	recB := httptest.NewRecorder()
	s.Handler().ServeHTTP(recB, reqB)

	if recA.Code != http.StatusOK || recB.Code != http.StatusOK {
		t.Fatalf("expected distinct client IPs to get independent buckets, got %d and %d", recA.Code, recB.Code)
	}
}

func TestAuditLogger_DisabledByDefaultAndNonNil(t *testing.T) {
	s := New(Config{})
	if s.audit == nil {
		t.Fatal("expected New to always build a non-nil audit logger")
	}
	// Logging against a disabled logger must not panic even without a
	// buffer/writer behind it.
	s.audit.LogAgentAction(context.Background(), "httpapi", "config.apply", "test", nil, "")
}

func TestNew_ConfiguresAuditLoggerFromConfig(t *testing.T) {
	s := New(Config{Audit: audit.Config{Enabled: true, Format: audit.FormatJSON, Output: "stdout"}})
	if s.audit == nil {
		t.Fatal("expected audit logger to be configured")
	}
}
