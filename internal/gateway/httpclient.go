package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/telemetry"
)

// defaultCallTimeout bounds a single inference call when the request does not
// carry its own timeout.
const defaultCallTimeout = 120 * time.Second

// HTTPClient calls an OpenAI-compatible chat-completions endpoint. It is the
// production Gateway implementation; local deployments point it at Ollama's
// /v1 surface, hosted deployments at their provider of choice.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	modelName  string
	httpClient *http.Client

	callDuration metric.Float64Histogram
	tokensIn     metric.Int64Counter
	tokensOut    metric.Int64Counter
}

// NewHTTPClient creates a gateway client for baseURL (e.g.
// "https://api.openai.com" or "http://localhost:11434"). apiKey may be empty
// for local endpoints.
func NewHTTPClient(baseURL, apiKey, modelName string) *HTTPClient {
	meter := telemetry.Meter("chosa/gateway")
	callDuration, _ := meter.Float64Histogram("gateway.call.duration",
		metric.WithDescription("Inference call duration in seconds"),
		metric.WithUnit("s"))
	tokensIn, _ := meter.Int64Counter("gateway.tokens.input",
		metric.WithDescription("Input tokens consumed by inference calls"))
	tokensOut, _ := meter.Int64Counter("gateway.tokens.output",
		metric.WithDescription("Output tokens produced by inference calls"))

	return &HTTPClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		modelName: modelName,
		httpClient: &http.Client{
			Timeout: defaultCallTimeout,
		},
		callDuration: callDuration,
		tokensIn:     tokensIn,
		tokensOut:    tokensOut,
	}
}

// Wire types for the chat-completions protocol.

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one chat-completions call and parses the result into text
// segments and tool invocations. All failures are classified as *Error.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(c.toWire(req))
	if err != nil {
		return Response{}, &Error{Kind: KindInvalidRequest, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Kind: KindInvalidRequest, Message: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.callDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("outcome", "transport_error")))
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, &Error{Kind: KindTransient, Message: "call timed out", Err: err}
		}
		return Response{}, &Error{Kind: KindTransient, Message: "transport failure", Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		c.callDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("outcome", fmt.Sprintf("http_%d", httpResp.StatusCode))))
		return Response{}, classifyStatus(httpResp.StatusCode, string(snippet))
	}

	var wire chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return Response{}, &Error{Kind: KindTransient, Message: "decode response", Err: err}
	}
	if wire.Error != nil {
		return Response{}, &Error{Kind: KindTransient, Message: wire.Error.Message}
	}
	if len(wire.Choices) == 0 {
		return Response{}, &Error{Kind: KindTransient, Message: "response has no choices"}
	}

	resp, err := c.fromWire(wire)
	if err != nil {
		return Response{}, err
	}

	c.callDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", "ok")))
	c.tokensIn.Add(ctx, int64(resp.Usage.InputTokens))
	c.tokensOut.Add(ctx, int64(resp.Usage.OutputTokens))
	return resp, nil
}

func (c *HTTPClient) toWire(req Request) chatRequest {
	msgs := make([]chatMessage, 0, len(req.Transcript)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Transcript {
		wm := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			var wtc chatToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		msgs = append(msgs, wm)
	}

	tools := make([]chatTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		var wt chatTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		tools = append(tools, wt)
	}

	return chatRequest{
		Model:       c.modelName,
		Messages:    msgs,
		Tools:       tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (c *HTTPClient) fromWire(wire chatResponse) (Response, error) {
	msg := wire.Choices[0].Message

	var resp Response
	if msg.Content != "" {
		resp.Segments = append(resp.Segments, msg.Content)
	}
	for _, wtc := range msg.ToolCalls {
		args := map[string]any{}
		if wtc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(wtc.Function.Arguments), &args); err != nil {
				return Response{}, &Error{
					Kind:    KindTransient,
					Message: fmt.Sprintf("tool call %s has malformed arguments", wtc.Function.Name),
					Err:     err,
				}
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        wtc.ID,
			Name:      wtc.Function.Name,
			Arguments: args,
		})
	}
	resp.Usage = model.TokenUsage{
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}
	return resp, nil
}

// classifyStatus maps an HTTP status to an error kind. 429 is quota pressure,
// 4xx is a request the service will never accept, everything else is
// transient.
func classifyStatus(status int, body string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status, Message: body}
	case status >= 400 && status < 500:
		return &Error{Kind: KindInvalidRequest, Status: status, Message: body}
	default:
		return &Error{Kind: KindTransient, Status: status, Message: body}
	}
}
