// Package bootstrap seeds and loads the agent's workspace context files:
// the persona file and the memory files that ground every system prompt.
package bootstrap

import (
	"embed"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// Workspace file names.
const (
	PersonaFile = "FEATHERBOT.md"
	MemoryFile  = "memory/MEMORY.md"
)

// seededFiles maps workspace paths to their template names.
var seededFiles = map[string]string{
	PersonaFile: "FEATHERBOT.md",
	MemoryFile:  "MEMORY.md",
}

// EnsureWorkspaceFiles seeds missing context files into the workspace.
// Existing files are never overwritten. Returns the files created.
func EnsureWorkspaceFiles(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, err
	}

	var created []string
	for dst, tmpl := range seededFiles {
		ok, err := seedTemplate(workspaceDir, dst, tmpl)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, dst)
		}
	}
	return created, nil
}

// seedTemplate writes one template if the destination doesn't exist.
func seedTemplate(workspaceDir, dst, tmpl string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return false, err
	}

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile("templates/" + tmpl)
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
