package recall

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a keyword-scored store backing both the MemoryStore and
// DocumentStore interfaces. Scoring is term overlap between query and
// snippet; good enough for recall ordering without an embedding service.
type InMemoryStore struct {
	mu        sync.RWMutex
	memories  map[string][]Snippet
	documents map[string][]Snippet
	now       func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories:  make(map[string][]Snippet),
		documents: make(map[string][]Snippet),
		now:       time.Now,
	}
}

// Recall implements MemoryStore.
func (s *InMemoryStore) Recall(_ context.Context, userID, query string, limit int) ([]Snippet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rank(s.memories[userID], query, limit), nil
}

// Remember implements MemoryStore.
func (s *InMemoryStore) Remember(_ context.Context, userID string, snippet Snippet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snippet.ID == "" {
		snippet.ID = uuid.NewString()
	}
	if snippet.CreatedAt.IsZero() {
		snippet.CreatedAt = s.now()
	}
	s.memories[userID] = append(s.memories[userID], snippet)
	return nil
}

// Search implements DocumentStore.
func (s *InMemoryStore) Search(_ context.Context, userID, query string, limit int) ([]Snippet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rank(s.documents[userID], query, limit), nil
}

// Save implements DocumentStore. The document is split on blank lines into
// paragraph chunks of at most maxChunkLen characters so retrieval returns
// focused snippets rather than whole documents.
func (s *InMemoryStore) Save(_ context.Context, userID, title, content string) (string, error) {
	docID := uuid.NewString()
	createdAt := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunkText(content, maxChunkLen) {
		s.documents[userID] = append(s.documents[userID], Snippet{
			ID:        uuid.NewString(),
			Source:    title,
			Content:   chunk,
			CreatedAt: createdAt,
		})
	}
	return docID, nil
}

const maxChunkLen = 1200

// chunkText splits text into paragraph-aligned chunks of at most maxLen
// characters.
func chunkText(text string, maxLen int) []string {
	paragraphs := strings.Split(text, "\n")
	var chunks []string
	var buf strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(p)+1 > maxLen {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(p)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// rank scores snippets against the query by term overlap and returns the top
// limit snippets with a positive score, best first.
func rank(snippets []Snippet, query string, limit int) []Snippet {
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	scored := make([]Snippet, 0, len(snippets))
	for _, sn := range snippets {
		score := overlap(terms, tokenize(sn.Content))
		if score <= 0 {
			continue
		}
		sn.Score = score
		scored = append(scored, sn)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(w) >= 3 {
			tokens[w] = true
		}
	}
	return tokens
}

func overlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matches := 0
	for term := range query {
		if doc[term] {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
