package chosa

import "context"

// InferenceProvider reaches a language-model service. When provided via
// WithProvider, it replaces the built-in OpenAI-compatible HTTP client.
// Implementations should return *ProviderError so the engine can derive retry
// policy; any other error is treated as transient.
type InferenceProvider interface {
	Complete(ctx context.Context, req InferenceRequest) (InferenceResponse, error)
}

// InferenceRequest is everything a provider needs for one call.
type InferenceRequest struct {
	System      string
	Tools       []ToolSpec
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
}

// ToolSpec declares one tool the model may invoke. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatMessage is one transcript entry. Role is "user", "assistant", or "tool".
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolInvocation
	ToolCallID string
}

// ToolInvocation is one structured tool call from a model response.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// InferenceResponse is a provider's parsed result.
type InferenceResponse struct {
	Segments     []string
	ToolCalls    []ToolInvocation
	InputTokens  int
	OutputTokens int
}

// Error kinds a provider may report. Retry policy is derived from the kind:
// rate-limited calls back off and retry, transient calls retry and feed the
// circuit breaker, invalid requests fail immediately.
const (
	KindRateLimited    = "rate_limited"
	KindTransient      = "transient"
	KindInvalidRequest = "invalid_request"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Kind    string
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return e.Kind + ": " + e.Message
}
