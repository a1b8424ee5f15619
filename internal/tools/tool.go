// Package tools provides the tool registry and the built-in tool set
// available to agent turns. Every tool outcome is a plain string; failures
// are encoded as strings beginning with "Error" so the LLM always receives
// a usable tool result and the loop never has to unwind.
package tools

import (
	"context"

	"github.com/featherlabs/featherbot/internal/providers"
)

// Tool is one callable capability exposed to the LLM.
type Tool interface {
	// Name returns the registry key, matching [a-z_][a-z0-9_]*.
	Name() string

	// Description is the LLM-facing summary of what the tool does.
	Description() string

	// Parameters returns the JSON-schema object describing the arguments.
	Parameters() map[string]any

	// Execute runs the tool. A returned error is reported to the LLM as
	// an error string by the registry; it is never propagated.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Definition converts a tool into the provider-facing schema form.
func Definition(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// Truncate shortens a string to maxLen bytes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
