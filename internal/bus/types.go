// Package bus provides the in-process message bus connecting channel
// adapters to the agent runtime. Events are a closed set of three kinds:
// inbound chat messages, outbound replies, and handler errors.
package bus

import "time"

// Event type tags. Subscribers register against these.
const (
	TypeInbound  = "message:inbound"
	TypeOutbound = "message:outbound"
	TypeError    = "bus:error"
)

// Event is one of InboundEvent, OutboundEvent, or ErrorEvent.
// Events are immutable once published.
type Event interface {
	Type() string
}

// MediaAttachment references a media file carried with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`
}

// InboundMessage is a message received from a channel (Telegram, terminal, cron).
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"` // channel-prefixed, e.g. "telegram:12345"
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Media     []MediaAttachment `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	MessageID string            `json:"message_id,omitempty"` // unique within the channel
}

// SessionKey returns the conversation partition key, "<channel>:<chatId>".
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a reply to be delivered on a channel.
type OutboundMessage struct {
	Channel            string            `json:"channel"`
	ChatID             string            `json:"chat_id"`
	Content            string            `json:"content"`
	ReplyTo            string            `json:"reply_to,omitempty"`
	InReplyToMessageID string            `json:"in_reply_to_message_id,omitempty"`
	Media              []MediaAttachment `json:"media,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	MessageID          string            `json:"message_id,omitempty"`
}

// InboundEvent wraps an inbound message for bus delivery.
type InboundEvent struct {
	Message InboundMessage
}

func (InboundEvent) Type() string { return TypeInbound }

// OutboundEvent wraps an outbound message for bus delivery.
type OutboundEvent struct {
	Message OutboundMessage
}

func (OutboundEvent) Type() string { return TypeOutbound }

// ErrorEvent is synthesized by the bus when a handler fails while
// processing a non-error event.
type ErrorEvent struct {
	Err       error
	Source    Event // the event the failing handler was processing
	Timestamp time.Time
}

func (ErrorEvent) Type() string { return TypeError }
