// Package terminal is a stdin/stdout channel for local chat sessions.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/featherlabs/featherbot/internal/bus"
	"github.com/featherlabs/featherbot/internal/channels"
)

const defaultChatID = "local"

// Channel reads user lines from in and prints agent replies to out.
type Channel struct {
	*channels.BaseChannel
	in  io.Reader
	out io.Writer
	log *slog.Logger

	done chan struct{}

	// Done is closed when the input stream ends (EOF or /quit), letting
	// the CLI exit its session cleanly.
	Done <-chan struct{}
}

func New(msgBus *bus.MessageBus, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	return &Channel{
		BaseChannel: channels.NewBaseChannel("terminal", msgBus, nil),
		in:          os.Stdin,
		out:         os.Stdout,
		log:         logger,
		done:        done,
		Done:        done,
	}
}

// Start launches the read loop.
func (c *Channel) Start(ctx context.Context) error {
	c.SetRunning(true)
	fmt.Fprintln(c.out, "Chat session started. /quit to exit.")

	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				return
			}
			c.HandleMessage(ctx, "terminal-user", defaultChatID, line, "", nil, nil)
		}
		if err := scanner.Err(); err != nil {
			c.log.Warn("terminal: read failed", "error", err)
		}
	}()
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send prints a reply to the output stream.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "\n%s\n\n", msg.Content)
	return err
}
