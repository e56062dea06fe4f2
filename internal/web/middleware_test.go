package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouteLabelUsesPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {})

	var label string
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		label = routeLabel(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-42/messages", nil)
	outer.ServeHTTP(httptest.NewRecorder(), req)

	if label != "GET /api/conversations/{id}/messages" {
		t.Errorf("routeLabel = %q, want the route pattern, not the raw path", label)
	}
}

func TestRouteLabelUnmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)
	if got := routeLabel(req); got != "unmatched" {
		t.Errorf("routeLabel(unrouted) = %q, want unmatched", got)
	}
}
