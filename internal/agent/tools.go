// Package agent implements the generic iterative tool-invocation protocol
// every extraction and reasoning task runs: build a request from system
// instructions, tool schemas, and the running transcript; call the gateway
// through the rate limiter and circuit breaker; apply the returned tool
// invocations to a store; loop until completion or the iteration ceiling.
package agent

import (
	"context"
	"fmt"

	"github.com/ashita-ai/chosa/internal/gateway"
)

// ResultStatus is the per-invocation outcome reported back into the
// transcript.
type ResultStatus string

const (
	StatusApplied   ResultStatus = "applied"
	StatusDuplicate ResultStatus = "duplicate"
	StatusError     ResultStatus = "error"
)

// ToolResult is what one tool execution reports back to the model.
type ToolResult struct {
	Status  ResultStatus
	Message string
}

// Tool is one operation the model may invoke. Execute must confine failures
// to the returned result; it is never the loop's job to recover a tool.
type Tool interface {
	Schema() gateway.ToolSchema
	Execute(ctx context.Context, args map[string]any) ToolResult
}

// Registry is the typed dispatch table for one task's tools. It is built and
// validated exhaustively at startup: a duplicate, empty, or missing
// completion-tool name fails construction, not a live run.
type Registry struct {
	tools      map[string]Tool
	order      []string
	completion string
}

// NewRegistry builds a dispatch table from tools. completionTool names the
// designated completion signal and must be among the registered tools.
func NewRegistry(completionTool string, tools ...Tool) (*Registry, error) {
	if len(tools) == 0 {
		return nil, fmt.Errorf("agent: registry needs at least one tool")
	}
	r := &Registry{
		tools:      make(map[string]Tool, len(tools)),
		completion: completionTool,
	}
	for _, t := range tools {
		name := t.Schema().Name
		if name == "" {
			return nil, fmt.Errorf("agent: tool with empty name")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("agent: duplicate tool %q", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	if completionTool == "" {
		return nil, fmt.Errorf("agent: completion tool name is required")
	}
	if _, ok := r.tools[completionTool]; !ok {
		return nil, fmt.Errorf("agent: completion tool %q is not registered", completionTool)
	}
	return r, nil
}

// Schemas returns the declared tool schemas in registration order.
func (r *Registry) Schemas() []gateway.ToolSchema {
	out := make([]gateway.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema())
	}
	return out
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// CompletionTool returns the designated completion tool name.
func (r *Registry) CompletionTool() string {
	return r.completion
}

// Arg helpers shared by tool implementations. The model sends free-form JSON;
// these normalize without panicking on shape surprises.

// StringArg reads a string argument, returning "" on absence or wrong type.
func StringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// MapArg reads an object argument, returning nil on absence or wrong type.
func MapArg(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}

// StringSliceArg reads an array argument, keeping only its string elements.
func StringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
