package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	fetchTimeout      = 30 * time.Second
	maxFetchBodyBytes = 5 * 1024 * 1024 // refuse pages larger than 5 MiB
)

// WebFetchTool fetches a URL and extracts readable text content.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: fetchTimeout},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its readable text content"
}
func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch (http or https)",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Truncate extracted text to this many characters (default 20000)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	maxChars := 20000
	if m, ok := args["max_chars"].(float64); ok && m > 0 {
		maxChars = int(m)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxFetchBodyBytes {
		return "", fmt.Errorf("response exceeds %d bytes", maxFetchBodyBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	if strings.Contains(contentType, "text/html") || looksLikeHTML(text) {
		article, err := readability.FromReader(strings.NewReader(text), parsed)
		if err != nil {
			// Fall back to stripped HTML rather than failing the fetch.
			text = htmlTagRe.ReplaceAllString(text, " ")
		} else {
			text = article.TextContent
			if article.Title != "" {
				text = article.Title + "\n\n" + text
			}
		}
	}

	text = collapseWhitespace(text)
	if len(text) > maxChars {
		text = text[:maxChars] + fmt.Sprintf("\n\n[Content truncated at %d characters]", maxChars)
	}
	if strings.TrimSpace(text) == "" {
		return "(no readable content)", nil
	}
	return text, nil
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s[:min(len(s), 512)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// collapseWhitespace squeezes runs of blank lines and trailing spaces left
// behind by HTML extraction.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
