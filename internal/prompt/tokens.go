package prompt

import (
	"unicode/utf8"

	"github.com/parleyhq/parley/pkg/models"
)

// messageOverheadTokens is the per-message framing cost (role markers,
// separators) added on top of the content estimate.
const messageOverheadTokens = 4

// EstimateTokens estimates the token count of a text. The heuristic is one
// token per four characters, rounded up. Estimates must err high: an oversize
// request is rejected by the provider atomically, so overshooting the
// estimate is wasted budget while undershooting is a hard failure.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateMessageTokens estimates one message including framing overhead and
// serialized tool payloads.
func EstimateMessageTokens(m *models.Message) int {
	if m == nil {
		return 0
	}
	total := messageOverheadTokens + EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		total += messageOverheadTokens + EstimateTokens(tc.Name) + EstimateTokens(string(tc.Input))
	}
	for _, tr := range m.ToolResults {
		total += messageOverheadTokens + EstimateTokens(tr.Content)
	}
	return total
}
