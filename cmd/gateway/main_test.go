package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"admission-gateway/middleware/ratelimit/config"

	"github.com/google/uuid"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(requestIDHeader)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected uuid request id, got %q", seen)
	}
	if got := rr.Header().Get(requestIDHeader); got != seen {
		t.Fatalf("response header = %q, want %q", got, seen)
	}
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	h := requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("response header = %q", got)
	}
}

func TestReadConfig_RequiresUpstream(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "")
	if _, err := readConfig(); err == nil {
		t.Fatalf("expected error without UPSTREAM_URL")
	}
}

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:9000")
	t.Setenv("COUNTER_STORE", "memory")
	t.Setenv("RATE_COUNTING_MODE", "check_record")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if !cfg.trustXFF {
		t.Fatalf("expected TRUST_XFF default true")
	}
	if cfg.countingMode != "check_record" {
		t.Fatalf("counting mode = %q", cfg.countingMode)
	}
	if cfg.counterStore != "memory" {
		t.Fatalf("counter store = %q", cfg.counterStore)
	}
}

func TestReadConfig_RejectsUnknownMode(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:9000")
	t.Setenv("RATE_COUNTING_MODE", "optimistic")
	if _, err := readConfig(); err == nil {
		t.Fatalf("expected error for unknown counting mode")
	}
}

func TestExampleRulesFileIsValid(t *testing.T) {
	rules, err := config.LoadRules("rules.example.yaml")
	if err != nil {
		t.Fatalf("load example rules: %v", err)
	}
	if len(rules) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(rules))
	}
}
