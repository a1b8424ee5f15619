package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/featherlabs/featherbot/internal/bus"
)

// Manager starts and stops the registered channel adapters and routes
// outbound bus events to the owning adapter.
type Manager struct {
	bus     *bus.MessageBus
	log     *slog.Logger
	limiter *SendLimiter

	mu       sync.RWMutex
	channels map[string]Channel
	sub      *bus.Subscription
}

func NewManager(msgBus *bus.MessageBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      msgBus,
		log:      logger,
		limiter:  NewSendLimiter(1, 3),
		channels: make(map[string]Channel),
	}
}

// Register adds a channel before Start. Duplicate names error.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.Name()]; exists {
		return fmt.Errorf("channels: %q already registered", ch.Name())
	}
	m.channels[ch.Name()] = ch
	return nil
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names lists registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Start launches every adapter and subscribes the outbound dispatcher.
// An adapter that fails to start is logged and skipped; the rest run.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := 0
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			m.log.Error("channels: start failed", "channel", name, "error", err)
			continue
		}
		m.log.Info("channels: started", "channel", name)
		started++
	}
	if len(m.channels) > 0 && started == 0 {
		return fmt.Errorf("channels: no channel started")
	}

	m.sub = m.bus.Subscribe(bus.TypeOutbound, m.dispatch)
	return nil
}

// Stop unsubscribes the dispatcher and stops every running adapter.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub != nil {
		m.bus.Unsubscribe(m.sub)
		m.sub = nil
	}
	for name, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			m.log.Error("channels: stop failed", "channel", name, "error", err)
		}
	}
}

// dispatch delivers one outbound event to its channel, rate limited per
// chat. Unknown channels error so the bus surfaces a bus:error event.
func (m *Manager) dispatch(ctx context.Context, ev bus.Event) error {
	out, ok := ev.(bus.OutboundEvent)
	if !ok {
		return nil
	}
	msg := out.Message

	m.mu.RLock()
	ch, found := m.channels[msg.Channel]
	m.mu.RUnlock()
	if !found {
		return fmt.Errorf("channels: no adapter for %q", msg.Channel)
	}
	if !ch.IsRunning() {
		return fmt.Errorf("channels: %q is not running", msg.Channel)
	}

	if err := m.limiter.Wait(ctx, msg.Channel+":"+msg.ChatID); err != nil {
		return fmt.Errorf("channels: rate limit wait: %w", err)
	}
	if err := ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("channels: send on %q: %w", msg.Channel, err)
	}
	return nil
}
