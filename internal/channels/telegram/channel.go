// Package telegram connects to the Telegram Bot API via long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/featherlabs/featherbot/internal/bus"
	"github.com/featherlabs/featherbot/internal/channels"
)

// Telegram rejects messages beyond 4096 characters; long replies are
// split on this boundary.
const maxMessageLen = 4096

// Config for the Telegram adapter.
type Config struct {
	Token     string   `json:"token"`
	Proxy     string   `json:"proxy,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

// Channel is the Telegram adapter.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	log        *slog.Logger
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg Config, msgBus *bus.MessageBus, logger *slog.Logger) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("telegram: invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		log:         logger,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	c.SetRunning(true)
	c.log.Info("telegram: connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					c.log.Info("telegram: updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the goroutine to exit so Telegram
// releases the getUpdates lock before another instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			c.log.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	c.log.Info("telegram: stopped")
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || msg.Text == "" {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		senderID += "|" + msg.From.Username
	}

	metadata := map[string]string{
		"chat_type": msg.Chat.Type,
	}
	if msg.From.Username != "" {
		metadata["username"] = msg.From.Username
	}

	c.HandleMessage(ctx,
		senderID,
		strconv.FormatInt(msg.Chat.ID, 10),
		msg.Text,
		strconv.Itoa(msg.MessageID),
		nil,
		metadata,
	)
}

// Send delivers an outbound message, splitting it on Telegram's length
// limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		params := tu.Message(tu.ID(chatID), chunk)
		if msg.InReplyToMessageID != "" {
			if replyID, err := strconv.Atoi(msg.InReplyToMessageID); err == nil {
				params.ReplyParameters = &telego.ReplyParameters{MessageID: replyID}
			}
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram: send to %s: %w", msg.ChatID, err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit bytes, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
