package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageShort(t *testing.T) {
	got := splitMessage("hello", 4096)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("got %v", got)
	}
	if splitMessage("", 4096) != nil {
		t.Error("empty text should yield no chunks")
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 20)
	chunks := splitMessage(text, 50)

	var rebuilt strings.Builder
	for _, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk exceeds limit: %d bytes", len(c))
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Error("chunks do not reassemble to the original text")
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Errorf("first chunk should end on a newline boundary, got %q", chunks[0])
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	text := strings.Repeat("x", 120)
	chunks := splitMessage(text, 50)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks[:2] {
		if len(c) != 50 {
			t.Errorf("chunk %d length = %d, want 50", i, len(c))
		}
	}
}
