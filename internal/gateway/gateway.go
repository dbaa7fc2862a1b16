// Package gateway defines the contract between the engine and the external
// language-model inference service, plus the explicit error-kind taxonomy
// retry policy is derived from.
//
// The engine is strictly a client of this contract. It never inspects model
// internals and owns no wire format of its own.
package gateway

import (
	"context"
	"time"

	"github.com/ashita-ai/chosa/internal/model"
)

// Role tags a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolSchema declares one tool the model may invoke. Parameters is a JSON
// Schema object in the shape chat-completions APIs expect.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is one structured tool invocation parsed from a model response.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one entry of the running transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that invoked tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-result message back to its invocation.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Request is everything the inference service needs for one call.
type Request struct {
	System      string
	Tools       []ToolSchema
	Transcript  []Message
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Response is the parsed result of one inference call: free text segments,
// zero or more tool invocations, and token-usage counters.
type Response struct {
	Segments  []string
	ToolCalls []ToolCall
	Usage     model.TokenUsage
}

// Gateway reaches the language-model inference service. Implementations must
// return errors classified with this package's Error type so callers can
// derive retry policy from the kind alone.
type Gateway interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
