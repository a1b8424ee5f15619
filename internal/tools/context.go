package tools

import "context"

// Conversation identifies the chat a tool call is acting on behalf of.
// The gateway attaches it to each turn's context so conversation-bound
// tools (message, cron, spawn) can default their target without the
// registry holding per-turn state.
type Conversation struct {
	Channel string
	ChatID  string
}

type conversationKey struct{}

// WithConversation returns a context carrying the conversation.
func WithConversation(ctx context.Context, conv Conversation) context.Context {
	return context.WithValue(ctx, conversationKey{}, conv)
}

// ConversationFromContext extracts the conversation, if any.
func ConversationFromContext(ctx context.Context) (Conversation, bool) {
	conv, ok := ctx.Value(conversationKey{}).(Conversation)
	return conv, ok
}
