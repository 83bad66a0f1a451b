package tools

import "context"

type ctxKey int

const (
	conversationIDKey ctxKey = iota
	conversationKindKey
)

// WithConversationID tags a context with the conversation a tool call
// belongs to, so conversation-scoped tools (notes, clearing) know
// their target without it appearing in the schema.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext returns the tagged conversation ID, or
// "default" when none is set.
func ConversationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(conversationIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// WithConversationKind tags a context with the conversation kind
// (direct or multi-party).
func WithConversationKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, conversationKindKey, kind)
}

// ConversationKindFromContext returns the tagged kind, defaulting to
// "direct".
func ConversationKindFromContext(ctx context.Context) string {
	if kind, ok := ctx.Value(conversationKindKey).(string); ok && kind != "" {
		return kind
	}
	return "direct"
}
