package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFormatSearchResults(t *testing.T) {
	out := formatSearchResults("go slog", []searchResult{
		{Title: "slog docs", URL: "https://pkg.go.dev/log/slog", Description: "Structured logging"},
		{Title: "intro", URL: "https://go.dev/blog/slog"},
	})
	if !strings.HasPrefix(out, `Search results for "go slog":`) {
		t.Errorf("header missing: %q", out)
	}
	if !strings.Contains(out, "1. slog docs\n   https://pkg.go.dev/log/slog\n   Structured logging") {
		t.Errorf("first result malformed: %q", out)
	}
	if !strings.Contains(out, "2. intro\n") {
		t.Errorf("second result missing: %q", out)
	}
}

func TestExtractDDGResults(t *testing.T) {
	html := `
<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&amp;rut=abc">First <b>Result</b></a>
<a class="result__snippet" href="#">A short <b>snippet</b> here</a>
<a rel="nofollow" class="result__a" href="https://plain.example.org/doc">Second</a>
`
	results := extractDDGResults(html, 5)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "First Result" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[0].URL != "https://example.com/page" {
		t.Errorf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Description != "A short snippet here" {
		t.Errorf("snippet = %q", results[0].Description)
	}
	if results[1].URL != "https://plain.example.org/doc" {
		t.Errorf("plain URL = %q", results[1].URL)
	}
}

func TestWebSearchCountClamped(t *testing.T) {
	tool := NewWebSearchTool(WebSearchConfig{})
	if _, err := tool.Execute(context.Background(), map[string]any{"query": "  "}); err == nil {
		t.Error("blank query accepted")
	}
}

func TestWebFetchExtractsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html><html><head><title>Test Page</title></head><body><article><h1>Test Page</h1>`)
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, `<p>Readable paragraph one. This sentence pads the article body so the extractor keeps it, round %d.</p>`, i)
		}
		fmt.Fprint(w, `</article></body></html>`)
	}))
	defer srv.Close()

	tool := NewWebFetchTool()
	out, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(out, "Readable paragraph one.") {
		t.Errorf("content missing: %q", out)
	}
	if strings.Contains(out, "<p>") {
		t.Errorf("HTML leaked through: %q", out)
	}
}

func TestWebFetchTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("x", 500))
	}))
	defer srv.Close()

	tool := NewWebFetchTool()
	out, err := tool.Execute(context.Background(), map[string]any{
		"url": srv.URL, "max_chars": float64(100),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(out, "[Content truncated at 100 characters]") {
		t.Errorf("truncation marker missing: %q", out)
	}
}

func TestWebFetchRejectsBadInput(t *testing.T) {
	tool := NewWebFetchTool()
	if _, err := tool.Execute(context.Background(), map[string]any{"url": "ftp://host/file"}); err == nil {
		t.Error("ftp scheme accepted")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("missing url accepted")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	if _, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL}); err == nil {
		t.Error("404 accepted")
	}
}

func TestCollapseWhitespace(t *testing.T) {
	in := "a  \n\n\n\nb\t\n\n\nc\n"
	got := collapseWhitespace(in)
	want := "a\n\nb\n\nc"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLooksLikeHTML(t *testing.T) {
	if !looksLikeHTML("<!DOCTYPE html><html>") {
		t.Error("doctype not detected")
	}
	if looksLikeHTML("plain text body") {
		t.Error("plain text misdetected")
	}
}
