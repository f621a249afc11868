package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequireJSON(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		expected    int
	}{
		{"json body", "PUT", `{}`, "application/json", http.StatusOK},
		{"json with charset", "POST", `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"form body", "POST", `a=b`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"missing content type", "PUT", `{}`, "", http.StatusUnsupportedMediaType},
		{"empty body", "POST", ``, "", http.StatusOK},
		{"get", "GET", ``, "text/plain", http.StatusOK},
	}

	handler := RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/state", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, rr.Code)
			}
			if tt.expected == http.StatusUnsupportedMediaType && rr.Header().Get("Content-Type") != "application/problem+json" {
				t.Errorf("expected problem+json, got %q", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/v1/scheduled", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/v1/scheduled" || fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("unexpected fields %v", fields)
	}
}
