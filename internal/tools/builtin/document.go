package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/recall"
	"github.com/parleyhq/parley/internal/tools"
)

const saveDocumentSchema = `{
	"type": "object",
	"properties": {
		"title": {
			"type": "string",
			"description": "Short title for the document"
		},
		"content": {
			"type": "string",
			"description": "The document text to save"
		}
	},
	"required": ["title", "content"]
}`

// SaveDocument builds the save_document descriptor. Saved documents become
// retrievable snippets in later turns' context assembly.
func SaveDocument(store recall.DocumentStore) *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "save_document",
		Description: "Save a document to the user's library so it can be referenced in future conversations.",
		Schema:      json.RawMessage(saveDocumentSchema),
		CostUnits:   1,
		Handler: func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
			session, ok := tools.SessionFromContext(ctx)
			if !ok {
				return &tools.Result{Content: "no session in execution context", IsError: true}, nil
			}

			var params struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return &tools.Result{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
			}

			docID, err := store.Save(ctx, session.User.ID, params.Title, params.Content)
			if err != nil {
				return &tools.Result{Content: fmt.Sprintf("Failed to save document: %v", err), IsError: true}, nil
			}
			return &tools.Result{Content: fmt.Sprintf("Saved document %q (id %s)", params.Title, docID)}, nil
		},
	}
}
