// Copyright 2025 Trustcompute Protocol

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	WithRequestID(next).ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a generated request id in context")
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatalf("expected response header to echo context id %q, got %q", seen, rec.Header().Get("X-Request-Id"))
	}
}

func TestWithRequestIDEchoesIncoming(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "fixed-id-123")
	rec := httptest.NewRecorder()
	WithRequestID(next).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "fixed-id-123" {
		t.Fatalf("expected echoed id %q, got %q", "fixed-id-123", got)
	}
}

func TestWithMetricsRecordsStatusClass(t *testing.T) {
	handler := WithMetrics("test.route", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected handler's own status to pass through, got %d", rec.Code)
	}
}
