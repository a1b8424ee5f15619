package agent

import (
	"testing"

	"github.com/featherlabs/featherbot/internal/providers"
)

func roles(msgs []providers.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Role+":"+m.Content)
	}
	return out
}

func TestTrimPreservesSystemMessages(t *testing.T) {
	h := NewHistory(3)
	h.Add(providers.Message{Role: providers.RoleSystem, Content: "S1"})
	h.Add(providers.Message{Role: providers.RoleUser, Content: "U1"})
	h.Add(providers.Message{Role: providers.RoleAssistant, Content: "A1"})
	h.Add(providers.Message{Role: providers.RoleUser, Content: "U2"})
	h.Add(providers.Message{Role: providers.RoleAssistant, Content: "A2"})

	got := roles(h.Messages())
	want := []string{"system:S1", "assistant:A1", "user:U2", "assistant:A2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("messages[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestTrimWithMultipleSystemMessages(t *testing.T) {
	h := NewHistory(3)
	for _, c := range []string{"S1", "S2", "S3"} {
		h.Add(providers.Message{Role: providers.RoleSystem, Content: c})
	}
	for _, c := range []string{"U1", "U2", "U3", "U4"} {
		h.Add(providers.Message{Role: providers.RoleUser, Content: c})
	}

	msgs := h.Messages()
	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want 6", len(msgs))
	}
	system := 0
	for _, m := range msgs {
		if m.Role == providers.RoleSystem {
			system++
		}
	}
	if system != 3 {
		t.Errorf("got %d system messages, want 3", system)
	}
	if msgs[3].Content != "U2" {
		t.Errorf("oldest surviving user message = %s, want U2", msgs[3].Content)
	}
}

func TestMessagesReturnsDefensiveCopy(t *testing.T) {
	h := NewHistory(10)
	h.Add(providers.Message{Role: providers.RoleUser, Content: "original"})

	msgs := h.Messages()
	msgs[0].Content = "mutated"

	if h.Messages()[0].Content != "original" {
		t.Error("external mutation leaked into stored history")
	}
}

func TestClearEmptiesEverything(t *testing.T) {
	h := NewHistory(10)
	h.Add(providers.Message{Role: providers.RoleSystem, Content: "S"})
	h.Add(providers.Message{Role: providers.RoleUser, Content: "U"})
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("after Clear, len = %d, want 0", h.Len())
	}
}
