// Package channels connects external messaging transports (Telegram, a
// local terminal) to the agent runtime via the message bus. Each adapter
// publishes inbound events and delivers outbound replies for its channel.
package channels

import (
	"context"
	"strings"
	"time"

	"github.com/featherlabs/featherbot/internal/bus"
)

// Channel is implemented by every transport adapter.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "terminal").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message on this channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is processing messages.
	IsRunning() bool

	// IsAllowed checks a sender against the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel carries the shared plumbing; adapters embed it.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowList: allowList}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed checks a sender against the allowlist. Senders use the
// compound form "id|username"; allowlist entries may name either side,
// with an optional leading "@" on usernames. An empty allowlist admits
// everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}
	return false
}

// HandleMessage publishes a received message to the bus after the
// allowlist check. This is the one inbound path for all adapters.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, chatID, content, messageID string, media []bus.MediaAttachment, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
		Media:     media,
		Metadata:  metadata,
		MessageID: messageID,
	})
}
