package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/audit"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/prompt"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

type scriptedProvider struct {
	scripts   [][]*agent.CompletionChunk
	calls     int
	lastModel string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	script := p.scripts[p.calls%len(p.scripts)]
	p.calls++
	p.lastModel = req.Model
	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		for _, c := range script {
			select {
			case chunks <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

func newTestServer(t *testing.T, scripts [][]*agent.CompletionChunk, chatPolicy ratelimit.Policy) (*Server, *auth.Service, sessions.Store, *scriptedProvider) {
	t.Helper()

	store := sessions.NewMemoryStore()
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), nil)
	assembler := prompt.NewAssembler(prompt.Budget{Window: 8000, ReservedOutput: 1000}, nil, nil, nil)
	auditLog, err := audit.NewLogger(audit.Config{Enabled: false})
	if err != nil {
		t.Fatalf("audit.NewLogger() error = %v", err)
	}
	if chatPolicy.Requests == 0 {
		chatPolicy = ratelimit.Policy{Name: "chat", Requests: 100, Window: time.Hour}
	}

	provider := &scriptedProvider{scripts: scripts}
	orchestrator := agent.NewOrchestrator(
		provider,
		tools.NewRegistry(),
		limiter,
		store,
		assembler,
		nil,
		auditLog,
		nil,
		nil,
		nil,
		agent.Config{
			SystemPrompt: "You are a helpful assistant.",
			ChatPolicy:   chatPolicy,
		},
	)

	authSvc := auth.NewService(strings.Repeat("s", 32), time.Hour)
	return NewServer("127.0.0.1:0", orchestrator, store, authSvc, nil, nil), authSvc, store, provider
}

func mintToken(t *testing.T, svc *auth.Service) string {
	t.Helper()
	token, err := svc.Generate(&models.User{ID: "user-1", Email: "dev@example.com"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return token
}

func plainScript() [][]*agent.CompletionChunk {
	return [][]*agent.CompletionChunk{
		{
			{Text: "Hello "},
			{Text: "world."},
			{Done: true},
		},
	}
}

func TestChatRequiresAuth(t *testing.T) {
	srv, _, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.OK {
		t.Error("ok = true on auth failure")
	}
}

func TestChatRejectsGarbageToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestChatBufferedTurn(t *testing.T) {
	srv, authSvc, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{})
	token := mintToken(t, authSvc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if !resp.OK || resp.Answer != "Hello world." {
		t.Errorf("envelope = %+v", resp)
	}
	if resp.ConversationID == "" {
		t.Error("no conversation id returned")
	}
}

func TestChatStreamingTurn(t *testing.T) {
	srv, authSvc, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{})
	token := mintToken(t, authSvc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","stream":true}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var deltaTexts []string
	var sawDone bool
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
			t.Fatalf("bad SSE data line %q: %v", line, err)
		}
		switch payload["type"] {
		case "delta":
			deltaTexts = append(deltaTexts, payload["text"].(string))
		case "done":
			sawDone = true
			if payload["answer"] != "Hello world." {
				t.Errorf("done answer = %v", payload["answer"])
			}
		}
	}
	if strings.Join(deltaTexts, "") != "Hello world." {
		t.Errorf("deltas = %q", strings.Join(deltaTexts, ""))
	}
	if !sawDone {
		t.Error("no done event")
	}
}

func TestChatStreamingMidStreamFailure(t *testing.T) {
	scripts := [][]*agent.CompletionChunk{
		{
			{Text: "Hello, "},
			{Error: errors.New("connection reset by peer")},
		},
	}
	srv, authSvc, _, _ := newTestServer(t, scripts, ratelimit.Policy{})
	token := mintToken(t, authSvc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","stream":true}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `"text":"Hello, "`) {
		t.Errorf("partial text missing from stream: %s", body)
	}
	if !strings.Contains(body, "event: error") {
		t.Errorf("no distinct error event in stream: %s", body)
	}
	if strings.Contains(body, "connection reset") {
		t.Errorf("internal error detail leaked to the client: %s", body)
	}
}

func TestChatRateLimited(t *testing.T) {
	srv, authSvc, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{Name: "chat", Requests: 1, Window: time.Hour})
	token := mintToken(t, authSvc)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if i == 0 {
			if rec.Code != http.StatusOK {
				t.Fatalf("first request status = %d", rec.Code)
			}
			continue
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("second request status = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("no Retry-After header on 429")
		}
	}
}

func TestMessagesScopedToOwner(t *testing.T) {
	srv, authSvc, store, _ := newTestServer(t, plainScript(), ratelimit.Policy{})

	conv := &models.Conversation{UserID: "someone-else"}
	if err := store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	token := mintToken(t, authSvc)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for another user's conversation", rec.Code)
	}
}

func TestChatModelOverride(t *testing.T) {
	srv, authSvc, _, provider := newTestServer(t, plainScript(), ratelimit.Policy{})
	token := mintToken(t, authSvc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","model":"gpt-4o-mini"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if provider.lastModel != "gpt-4o-mini" {
		t.Errorf("provider model = %q, want override", provider.lastModel)
	}
}

func TestMessagesLimit(t *testing.T) {
	srv, authSvc, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{})
	token := mintToken(t, authSvc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}
	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/"+resp.ConversationID+"/messages?limit=1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("messages status = %d", rec.Code)
	}
	var body struct {
		Messages []*models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("messages response is not JSON: %v", err)
	}
	if len(body.Messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(body.Messages))
	}
	if body.Messages[0].Role != models.RoleAssistant {
		t.Errorf("kept message role = %q, want the most recent", body.Messages[0].Role)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv, authSvc, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{})
	token := mintToken(t, authSvc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"   "}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t, plainScript(), ratelimit.Policy{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
