// Package llmapi exposes named tool APIs to LLM orchestration layers.
//
// A Registry is host-wide and keyed by API id. Each API produces an Instance
// per conversation that carries the system-prompt fragment and the tools the
// LLM may call.
package llmapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInsufficientRole indicates the caller doesn't have permission for a tool
	ErrInsufficientRole = errors.New("insufficient role for this action")
	// ErrUnknownTool is returned when an instance has no tool by that name.
	ErrUnknownTool = errors.New("unknown tool")
)

// Tool is a function an LLM API exposes to the orchestration layer.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Parameters   map[string]any `json:"parameters"`
	RequiredRole string         `json:"-"`
}

// ToolHandler executes a tool and returns the mapping handed back to the LLM.
type ToolHandler func(ctx context.Context, args map[string]any, llmCtx Context) (map[string]any, error)

// API is a named bundle of tools and prompt.
type API interface {
	ID() string
	Name() string
	Instance(ctx context.Context, llmCtx Context) (*Instance, error)
}

// roleHierarchy defines role levels
var roleHierarchy = map[string]int{
	"user":     1,
	"resident": 2,
	"admin":    3,
	"service":  4,
}

// RoleRank returns the level of role, or -1 for an unknown role.
func RoleRank(role string) int {
	if rank, ok := roleHierarchy[role]; ok {
		return rank
	}
	return -1
}

// CanUse checks if a role can use a tool. An empty role is an in-process
// caller that was not authenticated through a token and is trusted.
func CanUse(tool Tool, userRole string) bool {
	if userRole == "" {
		return true
	}
	return RoleRank(userRole) >= roleHierarchy[tool.RequiredRole]
}

// Instance is an API bound to one LLM context.
type Instance struct {
	APIID   string  `json:"api_id"`
	Prompt  string  `json:"prompt"`
	Context Context `json:"context"`

	tools    map[string]Tool
	handlers map[string]ToolHandler
}

// NewInstance creates an empty instance; tools are added with Register.
func NewInstance(apiID, prompt string, llmCtx Context) *Instance {
	return &Instance{
		APIID:    apiID,
		Prompt:   prompt,
		Context:  llmCtx,
		tools:    make(map[string]Tool),
		handlers: make(map[string]ToolHandler),
	}
}

// Register adds a tool to the instance
func (i *Instance) Register(tool Tool, handler ToolHandler) {
	i.tools[tool.Name] = tool
	i.handlers[tool.Name] = handler
}

// Tools returns the instance's tools sorted by name.
func (i *Instance) Tools() []Tool {
	out := make([]Tool, 0, len(i.tools))
	for _, t := range i.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Definitions returns function-calling definitions for the tools the
// instance's caller may use.
func (i *Instance) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range i.Tools() {
		if CanUse(t, i.Context.Role) {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// CallTool runs a tool with the given input.
func (i *Instance) CallTool(ctx context.Context, in ToolInput) (map[string]any, error) {
	tool, exists := i.tools[in.Name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, in.Name)
	}
	if !CanUse(tool, i.Context.Role) {
		return nil, fmt.Errorf("%w: requires role %s (you are %s)", ErrInsufficientRole, tool.RequiredRole, i.Context.Role)
	}
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	return i.handlers[in.Name](ctx, args, i.Context)
}

// Registry manages the APIs known to this process
type Registry struct {
	mu    sync.RWMutex
	apis  map[string]API
	order []string
}

// NewRegistry creates a new API registry
func NewRegistry() *Registry {
	return &Registry{apis: make(map[string]API)}
}

// Register adds api unless an API with the same id already exists. It reports
// whether the API was added; registering twice is not an error.
func (r *Registry) Register(api API) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apis[api.ID()]; exists {
		return false
	}
	r.apis[api.ID()] = api
	r.order = append(r.order, api.ID())
	return true
}

func (r *Registry) Get(id string) (API, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, ok := r.apis[id]
	return api, ok
}

// APIs returns registered APIs in registration order.
func (r *Registry) APIs() []API {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]API, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.apis[id])
	}
	return out
}
