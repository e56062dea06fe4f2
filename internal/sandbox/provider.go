package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider is the backend that actually creates and runs isolated
// environments. The manager layers session ownership and lifecycle on top.
type Provider interface {
	// Provision creates a new isolated environment and returns its backend id.
	Provision(ctx context.Context) (string, error)

	// Exec runs a command in the environment.
	Exec(ctx context.Context, backendID string, req ExecRequest) (*ExecResult, error)

	// Destroy tears the environment down. Destroying an already-destroyed
	// environment is not an error.
	Destroy(ctx context.Context, backendID string) error
}

// ExecRequest describes one command to run inside a sandbox.
type ExecRequest struct {
	Language string            `json:"language"`
	Code     string            `json:"code"`
	Stdin    string            `json:"stdin,omitempty"`
	Files    map[string]string `json:"files,omitempty"`
	Timeout  int               `json:"timeout,omitempty"`
}

// ExecResult is the outcome of one command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// HTTPProvider talks to an external sandbox service over its REST API:
// POST /sandboxes, POST /sandboxes/{id}/exec, DELETE /sandboxes/{id}.
type HTTPProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPProvider builds a provider against the given service base URL.
func NewHTTPProvider(baseURL, token string, execTimeout time.Duration) *HTTPProvider {
	if execTimeout <= 0 {
		execTimeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// Exec calls carry the command's own runtime on top of transport
		// overhead.
		client: &http.Client{Timeout: execTimeout + 15*time.Second},
	}
}

// Provision implements Provider.
func (p *HTTPProvider) Provision(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/sandboxes", nil, &out); err != nil {
		return "", &ProvisionError{Reason: "backend unreachable", Err: err}
	}
	if out.ID == "" {
		return "", &ProvisionError{Reason: "backend returned no sandbox id"}
	}
	return out.ID, nil
}

// Exec implements Provider.
func (p *HTTPProvider) Exec(ctx context.Context, backendID string, req ExecRequest) (*ExecResult, error) {
	var out ExecResult
	if err := p.do(ctx, http.MethodPost, "/sandboxes/"+backendID+"/exec", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Destroy implements Provider.
func (p *HTTPProvider) Destroy(ctx context.Context, backendID string) error {
	err := p.do(ctx, http.MethodDelete, "/sandboxes/"+backendID, nil, nil)
	if err != nil && strings.Contains(err.Error(), "404") {
		return nil
	}
	return err
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sandbox backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode sandbox response: %w", err)
	}
	return nil
}
