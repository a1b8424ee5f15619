package tools

import (
	"context"
	"fmt"

	"github.com/featherlabs/featherbot/internal/bus"
)

// MessageTool lets the agent send a message to a chat proactively,
// outside the reply flow of the current turn. It publishes an outbound
// event; channel delivery is the gateway's business. The target defaults
// to the conversation carried on the context.
type MessageTool struct {
	bus *bus.MessageBus
}

func NewMessageTool(b *bus.MessageBus) *MessageTool {
	return &MessageTool{bus: b}
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to a chat. Defaults to the current conversation when channel and chat_id are omitted."
}
func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "Message text to send",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Target channel (defaults to the current channel)",
			},
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Target chat ID (defaults to the current chat)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return "", fmt.Errorf("content is required")
	}

	conv, _ := ConversationFromContext(ctx)
	channel := conv.Channel
	if c, ok := args["channel"].(string); ok && c != "" {
		channel = c
	}
	chatID := conv.ChatID
	if c, ok := args["chat_id"].(string); ok && c != "" {
		chatID = c
	}
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("no target: channel and chat_id are required outside a conversation")
	}

	t.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}
