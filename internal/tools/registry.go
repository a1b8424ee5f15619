package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/featherlabs/featherbot/internal/providers"
)

var toolNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// RegistryConfig tunes registry-level behavior.
type RegistryConfig struct {
	// EvictionThreshold is the result length in bytes above which the full
	// content is spilled to a scratch file and the LLM receives a preview.
	// Zero disables eviction.
	EvictionThreshold int

	// ScratchDir receives evicted tool results. Defaults to os.TempDir().
	ScratchDir string
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema // nil when the tool declares no parameters
}

// Registry holds tools keyed by unique name and is the single dispatch
// point for tool execution. Execute never returns an error: every outcome
// — unknown tool, invalid arguments, execution failure — is a string.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	config RegistryConfig
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return &Registry{
		tools:  make(map[string]*registeredTool),
		config: cfg,
	}
}

// Register adds a tool. It fails on a duplicate name, an invalid name, or
// an uncompilable parameter schema — all programmer misuse, the only
// errors this package propagates.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}

	var schema *jsonschema.Schema
	if params := t.Parameters(); params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal schema for %s: %w", name, err)
		}
		schema, err = jsonschema.CompileString(name+".json", string(raw))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = &registeredTool{tool: t, schema: schema}
	return nil
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-facing schemas for every registered tool,
// sorted by name for deterministic prompt construction.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, Definition(r.tools[name].tool))
	}
	return defs
}

// Filtered returns a new registry containing only the tools whose names
// pass keep. The new registry shares tool instances but owns its own
// table, so mutations do not leak back. Used to build restricted
// sub-agent tool sets.
func (r *Registry) Filtered(keep func(name string) bool) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Registry{
		tools:  make(map[string]*registeredTool),
		config: r.config,
	}
	for name, rt := range r.tools {
		if keep(name) {
			out.tools[name] = rt
		}
	}
	return out
}

// Execute validates args against the tool's schema and runs it. All
// failure modes are reported as strings; nothing is thrown past this
// boundary.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}

	if rt.schema != nil {
		if args == nil {
			args = map[string]any{}
		}
		if err := rt.schema.Validate(normalizeArgs(args)); err != nil {
			return fmt.Sprintf("Error: Invalid parameters for '%s': %v", name, compactValidationError(err))
		}
	}

	result, err := r.run(ctx, rt.tool, args)
	if err != nil {
		return fmt.Sprintf("Error executing '%s': %v", name, err)
	}

	if r.config.EvictionThreshold > 0 && len(result) > r.config.EvictionThreshold {
		return r.evict(name, result)
	}
	return result
}

// run invokes the tool, converting a panic into an error.
func (r *Registry) run(ctx context.Context, t Tool, args map[string]any) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return t.Execute(ctx, args)
}

// evict writes an oversized result to a scratch file and returns a
// head+tail preview with the file reference so the LLM can read the rest
// on demand.
func (r *Registry) evict(name, result string) string {
	if err := os.MkdirAll(r.config.ScratchDir, 0o755); err != nil {
		slog.Warn("registry: scratch dir unavailable, returning full result",
			"dir", r.config.ScratchDir, "error", err)
		return result
	}

	file := filepath.Join(r.config.ScratchDir,
		fmt.Sprintf("%s-%d.txt", name, time.Now().UnixNano()))
	if err := os.WriteFile(file, []byte(result), 0o644); err != nil {
		slog.Warn("registry: failed to spill tool result", "file", file, "error", err)
		return result
	}

	head := r.config.EvictionThreshold / 2
	tail := r.config.EvictionThreshold / 4
	preview := result[:head] +
		fmt.Sprintf("\n\n[... %d bytes omitted ...]\n\n", len(result)-head-tail) +
		result[len(result)-tail:]

	return fmt.Sprintf("%s\n\n[Result was %d bytes; full content saved to %s — use read_file to retrieve it.]",
		preview, len(result), file)
}

// normalizeArgs round-trips args through JSON so validation sees exactly
// the types the schema library expects (e.g. json.Number-free float64s),
// regardless of how the caller constructed the map.
func normalizeArgs(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}

// compactValidationError flattens the schema library's multi-line error
// into the single-line reason embedded in the error string.
func compactValidationError(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		if leaf.InstanceLocation != "" {
			return fmt.Sprintf("%s: %s", leaf.InstanceLocation, leaf.Message)
		}
		return leaf.Message
	}
	return err.Error()
}
