package agent

import (
	"sync"

	"github.com/featherlabs/featherbot/internal/providers"
)

const defaultMaxMessages = 50

// History is an ordered conversation transcript with a retention policy
// that never evicts system messages. Non-system messages are capped at
// maxMessages; system messages occupy slots beyond the cap.
type History struct {
	mu          sync.Mutex
	messages    []providers.Message
	maxMessages int
}

func NewHistory(maxMessages int) *History {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &History{maxMessages: maxMessages}
}

// Add appends a message and trims the oldest non-system entries once the
// non-system count exceeds the cap. Relative order is preserved.
func (h *History) Add(m providers.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, m)

	nonSystem := 0
	for _, msg := range h.messages {
		if msg.Role != providers.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem <= h.maxMessages {
		return
	}

	drop := nonSystem - h.maxMessages
	kept := make([]providers.Message, 0, len(h.messages)-drop)
	for _, msg := range h.messages {
		if drop > 0 && msg.Role != providers.RoleSystem {
			drop--
			continue
		}
		kept = append(kept, msg)
	}
	h.messages = kept
}

// Messages returns a defensive copy of the transcript.
func (h *History) Messages() []providers.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]providers.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the current message count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear empties the transcript, system messages included.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
