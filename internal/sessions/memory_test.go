package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/parleyhq/parley/pkg/models"
)

func TestConversationRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{UserID: "user-1", Title: "debugging"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if conv.ID == "" {
		t.Fatal("CreateConversation() did not assign an id")
	}

	got, err := store.GetConversation(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.Title != "debugging" {
		t.Errorf("Title = %q, want debugging", got.Title)
	}
}

func TestGetConversationScopedToOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{UserID: "user-1"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	if _, err := store.GetConversation(ctx, "user-2", conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetConversation() for other user error = %v, want ErrNotFound", err)
	}
	if _, err := store.History(ctx, "user-2", conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("History() for other user error = %v, want ErrNotFound", err)
	}
}

func TestAppendAndHistoryOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{UserID: "user-1"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	err := store.AppendMessages(ctx, conv.ID,
		&models.Message{Role: models.RoleUser, Content: "first"},
		&models.Message{Role: models.RoleAssistant, Content: "second"},
	)
	if err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}
	if err := store.AppendMessages(ctx, conv.ID, &models.Message{Role: models.RoleUser, Content: "third"}); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	history, err := store.History(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(history) != len(want) {
		t.Fatalf("History() returned %d messages, want %d", len(history), len(want))
	}
	for i, m := range history {
		if m.Content != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, m.Content, want[i])
		}
		if m.ID == "" {
			t.Errorf("history[%d] has no id", i)
		}
	}
}
