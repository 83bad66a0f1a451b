package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/pentland/scribe/internal/memory"
)

// RegisterMemoryTools adds the memory-mutating builtins. Persistence
// failures propagate as tool errors so the model (and the user) sees
// that a requested write did not happen.
func RegisterMemoryTools(r *Registry, store *memory.Store) error {
	tools := []*Tool{
		{
			Name:        "remember",
			Description: "Save a fact to long-term memory. Use when the user shares something worth keeping: preferences, people, projects, decisions.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{
						"type":        "string",
						"description": "Section to file the fact under (e.g., Preferences, People, Projects)",
					},
					"text": map[string]any{
						"type":        "string",
						"description": "The fact to remember, one sentence",
					},
				},
				"required": []string{"category", "text"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				category, _ := args["category"].(string)
				text, _ := args["text"].(string)
				if err := store.Durable().Remember(category, text); err != nil {
					return "", fmt.Errorf("remember: %w", err)
				}
				return fmt.Sprintf("Saved under %s.", category), nil
			},
		},
		{
			Name:        "write_daily_log",
			Description: "Append a line to today's daily log. Use for events and activities worth a diary entry.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "What happened, one line",
					},
				},
				"required": []string{"text"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				text, _ := args["text"].(string)
				if err := store.Durable().AppendDaily(text); err != nil {
					return "", fmt.Errorf("daily log: %w", err)
				}
				return "Logged.", nil
			},
		},
		{
			Name:        "set_note",
			Description: "Set a working note for this conversation. Notes persist across turns and surface in context. Setting an existing key replaces it.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key": map[string]any{
						"type":        "string",
						"description": "Short identifier for the note (e.g., current_topic, open_question)",
					},
					"value": map[string]any{
						"type":        "string",
						"description": "The note content",
					},
				},
				"required": []string{"key", "value"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				key, _ := args["key"].(string)
				value, _ := args["value"].(string)
				convID := ConversationIDFromContext(ctx)
				if err := store.Working().Set(convID, key, value); err != nil {
					return "", fmt.Errorf("set note: %w", err)
				}
				return fmt.Sprintf("Note %q set.", key), nil
			},
		},
		{
			Name:        "list_notes",
			Description: "List the working notes for this conversation.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				convID := ConversationIDFromContext(ctx)
				notes, err := store.Working().List(convID)
				if err != nil {
					return "", fmt.Errorf("list notes: %w", err)
				}
				if len(notes) == 0 {
					return "No notes for this conversation.", nil
				}
				var b strings.Builder
				for _, n := range notes {
					fmt.Fprintf(&b, "- %s: %s\n", n.Key, n.Value)
				}
				return b.String(), nil
			},
		},
		{
			Name:        "clear_conversation",
			Description: "Forget this conversation's session history and working notes. Long-term memory is untouched.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				convID := ConversationIDFromContext(ctx)
				if err := store.Clear(convID); err != nil {
					return "", fmt.Errorf("clear conversation: %w", err)
				}
				return "Conversation cleared.", nil
			},
		},
	}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
