package framework

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool defines capabilities accessible to agents. The model only ever sees a
// tool name and a free-text argument block; implementations receive that
// block under the "input" key plus any structured arguments the dispatcher
// decoded from it.
type Tool interface {
	Name() string
	Description() string
	Category() string
	Parameters() []ToolParameter
	Execute(ctx context.Context, state *Context, args map[string]interface{}) (*ToolResult, error)
	IsAvailable(ctx context.Context, state *Context) bool
}

// ToolParameter describes an argument the tool accepts.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     interface{}
}

// ToolResult is returned by every tool execution.
type ToolResult struct {
	Success  bool
	Data     map[string]interface{}
	Error    string
	Metadata map[string]interface{}
}

// Observation renders the result as the text fed back to the model.
func (r *ToolResult) Observation() string {
	if r == nil {
		return ""
	}
	if out, ok := r.Data["observation"].(string); ok {
		return out
	}
	if !r.Success && r.Error != "" {
		return r.Error
	}
	return ""
}

// ToolRegistry maintains tools in registration order. The order matters
// because it is the order tools are advertised to the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolRegistry builds a registry instance.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *ToolRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.order = append(r.order, tool.Name())
	return nil
}

// Get fetches a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns all registered tools in registration order.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		res = append(res, r.tools[name])
	}
	return res
}

// Names lists tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Describe renders "Name: description" lines for prompt templates.
func (r *ToolRegistry) Describe() string {
	var b strings.Builder
	for i, tool := range r.All() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", tool.Name(), tool.Description())
	}
	return b.String()
}

// Categories returns the distinct tool categories, sorted.
func (r *ToolRegistry) Categories() []string {
	seen := make(map[string]struct{})
	for _, tool := range r.All() {
		seen[tool.Category()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
