package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/featherlabs/featherbot/internal/bus"
)

type memoryChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func newMemoryChannel(name string, b *bus.MessageBus) *memoryChannel {
	return &memoryChannel{BaseChannel: NewBaseChannel(name, b, nil)}
}

func (c *memoryChannel) Start(ctx context.Context) error { c.SetRunning(true); return nil }
func (c *memoryChannel) Stop(ctx context.Context) error  { c.SetRunning(false); return nil }
func (c *memoryChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *memoryChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestOutboundRoutesToOwningChannel(t *testing.T) {
	b := bus.New(nil)
	m := NewManager(b, nil)

	tg := newMemoryChannel("telegram", b)
	term := newMemoryChannel("terminal", b)
	for _, ch := range []Channel{tg, term} {
		if err := m.Register(ch); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	b.PublishOutbound(context.Background(), bus.OutboundMessage{
		Channel: "telegram", ChatID: "5", Content: "hi",
	})

	if tg.sentCount() != 1 {
		t.Errorf("telegram received %d messages, want 1", tg.sentCount())
	}
	if term.sentCount() != 0 {
		t.Errorf("terminal received %d messages, want 0", term.sentCount())
	}
}

func TestUnknownChannelYieldsBusError(t *testing.T) {
	b := bus.New(nil)
	m := NewManager(b, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	var errs []bus.ErrorEvent
	b.Subscribe(bus.TypeError, func(ctx context.Context, ev bus.Event) error {
		errs = append(errs, ev.(bus.ErrorEvent))
		return nil
	})

	b.PublishOutbound(context.Background(), bus.OutboundMessage{
		Channel: "discord", ChatID: "1", Content: "x",
	})

	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	b := bus.New(nil)
	m := NewManager(b, nil)
	if err := m.Register(newMemoryChannel("telegram", b)); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newMemoryChannel("telegram", b)); err == nil {
		t.Error("duplicate channel registration accepted")
	}
}

func TestStopUnsubscribesDispatcher(t *testing.T) {
	b := bus.New(nil)
	m := NewManager(b, nil)
	tg := newMemoryChannel("telegram", b)
	if err := m.Register(tg); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Stop(context.Background())

	b.PublishOutbound(context.Background(), bus.OutboundMessage{
		Channel: "telegram", ChatID: "5", Content: "late",
	})
	if tg.sentCount() != 0 {
		t.Error("message delivered after Stop")
	}
}

func TestBaseChannelAllowlist(t *testing.T) {
	b := bus.New(nil)
	cases := []struct {
		allow  []string
		sender string
		want   bool
	}{
		{nil, "12345|anyone", true},
		{[]string{"12345"}, "12345|alice", true},
		{[]string{"@alice"}, "12345|alice", true},
		{[]string{"alice"}, "12345|alice", true},
		{[]string{"67890"}, "12345|alice", false},
		{[]string{"@bob"}, "12345|alice", false},
	}
	for _, tc := range cases {
		ch := NewBaseChannel("test", b, tc.allow)
		if got := ch.IsAllowed(tc.sender); got != tc.want {
			t.Errorf("allow=%v sender=%q: got %v, want %v", tc.allow, tc.sender, got, tc.want)
		}
	}
}

func TestHandleMessagePublishesInbound(t *testing.T) {
	b := bus.New(nil)
	var got []bus.InboundMessage
	b.Subscribe(bus.TypeInbound, func(ctx context.Context, ev bus.Event) error {
		got = append(got, ev.(bus.InboundEvent).Message)
		return nil
	})

	ch := NewBaseChannel("telegram", b, []string{"1"})
	ch.HandleMessage(context.Background(), "1|alice", "42", "hello", "m1", nil, nil)
	ch.HandleMessage(context.Background(), "2|mallory", "42", "blocked", "m2", nil, nil)

	if len(got) != 1 {
		t.Fatalf("got %d inbound messages, want 1", len(got))
	}
	msg := got[0]
	if msg.SessionKey() != "telegram:42" || msg.Content != "hello" {
		t.Errorf("inbound = %+v", msg)
	}
	if msg.Timestamp.IsZero() || time.Since(msg.Timestamp) > time.Minute {
		t.Error("timestamp not set")
	}
}
