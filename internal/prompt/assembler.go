// Package prompt assembles the bounded conversation context sent to the LLM.
//
// The assembled prompt is built fresh per request, never mutated in place:
// system instructions, then long-term memory and document snippets under
// their own sub-budgets, then as much recent history as fits. The invariant
// is that estimated prompt tokens plus the reserved output budget never
// exceed the provider's context window.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/recall"
	"github.com/parleyhq/parley/pkg/models"
)

// Budget holds the token limits governing assembly.
type Budget struct {
	// Window is the provider context window.
	Window int

	// ReservedOutput is held back for the model's response.
	ReservedOutput int

	// MemoryTokens and DocumentTokens are sub-budgets for recall snippets.
	MemoryTokens   int
	DocumentTokens int

	// MaxMessages caps how many history messages are considered.
	MaxMessages int
}

// BudgetExceededError reports a request that cannot fit the context budget
// no matter how much history is dropped: the system instructions or the
// current user message alone exceed the hard ceiling.
type BudgetExceededError struct {
	Section string
	Tokens  int
	Budget  int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s requires %d tokens, budget is %d", e.Section, e.Tokens, e.Budget)
}

// Prompt is the assembled context for one provider call.
type Prompt struct {
	System   string
	Messages []*models.Message

	// EstimatedTokens is the conservative token estimate for System plus
	// Messages.
	EstimatedTokens int

	// DroppedMessages counts history entries that did not fit the budget.
	DroppedMessages int
}

// Request carries the inputs for one assembly.
type Request struct {
	UserID      string
	SystemText  string
	History     []*models.Message
	UserMessage *models.Message
}

// Assembler builds prompts under a fixed budget.
type Assembler struct {
	budget    Budget
	memories  recall.MemoryStore
	documents recall.DocumentStore
	logger    *slog.Logger
}

// NewAssembler builds an assembler. The recall stores may be nil, in which
// case the corresponding sections are skipped.
func NewAssembler(budget Budget, memories recall.MemoryStore, documents recall.DocumentStore, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		budget:    budget,
		memories:  memories,
		documents: documents,
		logger:    logger.With("component", "prompt"),
	}
}

const snippetLimit = 8

// Assemble builds the bounded prompt for one turn.
//
// Ordering of budget consumption: system instructions, memory snippets,
// document snippets, the current user message, then history. History is
// accumulated newest first until the remaining budget runs out, so older
// entries are the ones dropped; the result is emitted in chronological
// order. A rolling summary of older history, when present, is placed ahead
// of the raw entries and counts against the same budget.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Prompt, error) {
	hardBudget := a.budget.Window - a.budget.ReservedOutput

	system := req.SystemText
	systemTokens := EstimateTokens(system)
	if systemTokens > hardBudget {
		return nil, &BudgetExceededError{Section: "system instructions", Tokens: systemTokens, Budget: hardBudget}
	}
	remaining := hardBudget - systemTokens

	query := ""
	if req.UserMessage != nil {
		query = req.UserMessage.Content
	}

	if block := a.recallBlock(ctx, "Relevant long-term memory", a.memories, req.UserID, query, min(a.budget.MemoryTokens, remaining)); block != "" {
		system = system + "\n\n" + block
		remaining -= EstimateTokens(block)
	}
	if block := a.documentBlock(ctx, req.UserID, query, min(a.budget.DocumentTokens, remaining)); block != "" {
		system = system + "\n\n" + block
		remaining -= EstimateTokens(block)
	}

	// The current user message is never truncated either, so a message that
	// cannot fit the remaining budget fails here rather than overshooting
	// the window and bouncing off the provider.
	userTokens := EstimateMessageTokens(req.UserMessage)
	if userTokens > remaining {
		return nil, &BudgetExceededError{Section: "user message", Tokens: userTokens, Budget: remaining}
	}
	remaining -= userTokens

	history := req.History
	if a.budget.MaxMessages > 0 && len(history) > a.budget.MaxMessages {
		history = history[len(history)-a.budget.MaxMessages:]
	}

	var summary *models.Message
	raw := make([]*models.Message, 0, len(history))
	for _, m := range history {
		if m.IsSummary() {
			summary = m
			continue
		}
		raw = append(raw, m)
	}

	// The summary claims its share before raw history does.
	if summary != nil {
		if cost := EstimateMessageTokens(summary); cost <= remaining {
			remaining -= cost
		} else {
			summary = nil
		}
	}

	// Newest first: walk backwards and keep entries while they fit.
	kept := make([]*models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		cost := EstimateMessageTokens(raw[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		kept = append(kept, raw[i])
	}
	dropped := len(raw) - len(kept)

	messages := make([]*models.Message, 0, len(kept)+2)
	if summary != nil {
		messages = append(messages, summary)
	}
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, kept[i])
	}
	if req.UserMessage != nil {
		messages = append(messages, req.UserMessage)
	}

	p := &Prompt{
		System:          system,
		Messages:        messages,
		EstimatedTokens: hardBudget - remaining,
		DroppedMessages: dropped,
	}
	if dropped > 0 {
		a.logger.Debug("dropped history entries to fit budget",
			"dropped", dropped,
			"kept", len(kept),
			"estimated_tokens", p.EstimatedTokens,
		)
	}
	return p, nil
}

// recallBlock retrieves memory snippets and formats them as a titled block,
// keeping only snippets that fit the token budget.
func (a *Assembler) recallBlock(ctx context.Context, title string, store recall.MemoryStore, userID, query string, budget int) string {
	if store == nil || budget <= 0 || query == "" {
		return ""
	}
	snippets, err := store.Recall(ctx, userID, query, snippetLimit)
	if err != nil {
		a.logger.Warn("memory recall failed, continuing without", "error", err)
		return ""
	}
	return formatSnippets(title, snippets, budget)
}

func (a *Assembler) documentBlock(ctx context.Context, userID, query string, budget int) string {
	if a.documents == nil || budget <= 0 || query == "" {
		return ""
	}
	snippets, err := a.documents.Search(ctx, userID, query, snippetLimit)
	if err != nil {
		a.logger.Warn("document search failed, continuing without", "error", err)
		return ""
	}
	return formatSnippets("Relevant documents", snippets, budget)
}

// formatSnippets renders snippets under a heading, adding them best-first
// until the budget is spent.
func formatSnippets(title string, snippets []recall.Snippet, budget int) string {
	if len(snippets) == 0 {
		return ""
	}

	var sb strings.Builder
	header := title + ":\n"
	used := EstimateTokens(header)
	if used > budget {
		return ""
	}
	sb.WriteString(header)

	wrote := false
	for _, sn := range snippets {
		line := "- " + sn.Content
		if sn.Source != "" {
			line = "- [" + sn.Source + "] " + sn.Content
		}
		line += "\n"
		cost := EstimateTokens(line)
		if used+cost > budget {
			continue
		}
		used += cost
		sb.WriteString(line)
		wrote = true
	}
	if !wrote {
		return ""
	}
	return strings.TrimRight(sb.String(), "\n")
}
