package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Truncation defaults keep context files from swamping the prompt.
const (
	DefaultMaxCharsPerFile = 20000
	DefaultTotalMaxChars   = 60000
)

// ContextFile is one workspace file loaded into the system prompt.
type ContextFile struct {
	Path    string
	Content string
}

// TruncateConfig caps context file sizes.
type TruncateConfig struct {
	MaxCharsPerFile int
	TotalMaxChars   int
}

// LoadContextFiles reads the persona file, the long-term memory file,
// and today's daily note. Missing files are skipped silently.
func LoadContextFiles(workspaceDir string, now time.Time) []ContextFile {
	paths := []string{
		PersonaFile,
		MemoryFile,
		dailyNotePath(now),
	}

	var files []ContextFile
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(workspaceDir, rel))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		files = append(files, ContextFile{Path: rel, Content: content})
	}
	return files
}

// BuildPromptContext renders context files as a prompt section, applying
// the truncation caps. Returns "" when there is nothing to include.
func BuildPromptContext(files []ContextFile, cfg TruncateConfig) string {
	if cfg.MaxCharsPerFile <= 0 {
		cfg.MaxCharsPerFile = DefaultMaxCharsPerFile
	}
	if cfg.TotalMaxChars <= 0 {
		cfg.TotalMaxChars = DefaultTotalMaxChars
	}

	var b strings.Builder
	total := 0
	for _, f := range files {
		content := f.Content
		if len(content) > cfg.MaxCharsPerFile {
			content = content[:cfg.MaxCharsPerFile] + "\n[truncated]"
		}
		if total+len(content) > cfg.TotalMaxChars {
			break
		}
		total += len(content)
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", f.Path, content)
	}
	if b.Len() == 0 {
		return ""
	}
	return "# Context files\n" + b.String()
}

func dailyNotePath(day time.Time) string {
	return "memory/" + day.Format("2006-01-02") + ".md"
}
