package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/tools"
)

const webSearchSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query"
		},
		"max_results": {
			"type": "integer",
			"description": "Maximum number of results to return (default: 5)",
			"minimum": 1,
			"maximum": 10
		}
	},
	"required": ["query"]
}`

// SearchConfig configures the web_search backend endpoint.
type SearchConfig struct {
	Endpoint string
	APIKey   string
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// WebSearch builds the web_search descriptor against a search API that
// accepts GET ?q=...&limit=... and returns {results: [{title,url,snippet}]}.
// The tool is only advertised while an endpoint is configured.
func WebSearch(cfg SearchConfig, limit *tools.RateLimit) *tools.Descriptor {
	client := &http.Client{Timeout: 15 * time.Second}

	return &tools.Descriptor{
		Name:        "web_search",
		Description: "Search the web for current information. Returns titles, URLs, and snippets.",
		Schema:      json.RawMessage(webSearchSchema),
		CostUnits:   1,
		RateLimit:   limit,
		Available:   func() bool { return cfg.Endpoint != "" },
		Handler: func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
			var params struct {
				Query      string `json:"query"`
				MaxResults int    `json:"max_results"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return &tools.Result{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
			}
			if params.MaxResults <= 0 || params.MaxResults > 10 {
				params.MaxResults = 5
			}

			u := fmt.Sprintf("%s?q=%s&limit=%d",
				strings.TrimRight(cfg.Endpoint, "/"),
				url.QueryEscape(params.Query),
				params.MaxResults,
			)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return &tools.Result{Content: fmt.Sprintf("Search failed: %v", err), IsError: true}, nil
			}
			if cfg.APIKey != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			}

			resp, err := client.Do(req)
			if err != nil {
				return &tools.Result{Content: fmt.Sprintf("Search failed: %v", err), IsError: true}, nil
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
				return &tools.Result{
					Content: fmt.Sprintf("Search backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
					IsError: true,
				}, nil
			}

			var sr searchResponse
			if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
				return &tools.Result{Content: fmt.Sprintf("Search response unreadable: %v", err), IsError: true}, nil
			}
			if len(sr.Results) == 0 {
				return &tools.Result{Content: "No results found for " + params.Query}, nil
			}

			var sb strings.Builder
			for i, r := range sr.Results {
				fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
			}
			return &tools.Result{Content: sb.String()}, nil
		},
	}
}
