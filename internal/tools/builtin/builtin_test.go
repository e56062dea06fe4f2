package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/recall"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

func sessionCtx(userID string) context.Context {
	return tools.WithSession(context.Background(), &models.Session{
		ID:   "session-1",
		User: &models.User{ID: userID},
	})
}

func TestWebSearchFormatsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("query = %q, want golang", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "The Go Programming Language", "url": "https://go.dev", "snippet": "Build simple, secure, scalable systems."},
			},
		})
	}))
	defer srv.Close()

	d := WebSearch(SearchConfig{Endpoint: srv.URL}, nil)
	result, err := d.Handler(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("Handler() returned error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "go.dev") {
		t.Errorf("result missing URL: %s", result.Content)
	}
}

func TestWebSearchBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := WebSearch(SearchConfig{Endpoint: srv.URL}, nil)
	result, err := d.Handler(context.Background(), json.RawMessage(`{"query":"anything"}`))
	if err != nil {
		t.Fatalf("Handler() error = %v, failures must be results not errors", err)
	}
	if !result.IsError {
		t.Fatal("backend failure not marked as error result")
	}
}

func TestWebSearchAvailability(t *testing.T) {
	d := WebSearch(SearchConfig{}, nil)
	if d.Available() {
		t.Fatal("web_search available without an endpoint")
	}
	d = WebSearch(SearchConfig{Endpoint: "http://search:8080"}, nil)
	if !d.Available() {
		t.Fatal("web_search unavailable despite configured endpoint")
	}
}

func TestSaveDocumentRoundTrip(t *testing.T) {
	store := recall.NewInMemoryStore()
	d := SaveDocument(store)

	result, err := d.Handler(sessionCtx("user-1"), json.RawMessage(`{"title":"notes","content":"kafka lag checklist"}`))
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("Handler() returned error result: %s", result.Content)
	}

	snippets, err := store.Search(context.Background(), "user-1", "kafka lag", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(snippets) == 0 {
		t.Fatal("saved document not retrievable")
	}
}

func TestSaveDocumentRequiresSession(t *testing.T) {
	d := SaveDocument(recall.NewInMemoryStore())
	result, err := d.Handler(context.Background(), json.RawMessage(`{"title":"a","content":"b"}`))
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("missing session not reported as error result")
	}
}

func TestExecuteCodeSchemaCompiles(t *testing.T) {
	r := tools.NewRegistry()
	d := ExecuteCode(nil, func() bool { return false }, nil, 30*time.Second)
	if err := r.Register(d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Resolve("execute_code"); err == nil {
		t.Fatal("disabled execute_code resolved as available")
	}
}
