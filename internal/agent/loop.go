package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/chosa/internal/breaker"
	"github.com/ashita-ai/chosa/internal/gateway"
	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/ratelimit"
)

// Defaults for loop configuration. MaxIterations is a hard ceiling: reaching
// it is a normal outcome reported on the result, never an error.
const (
	DefaultMaxIterations = 10
	DefaultMaxRetries    = 3
	DefaultBaseBackoff   = 500 * time.Millisecond

	// continueNudge is appended as a synthetic user message when the model
	// replies with free text but neither invokes a tool nor signals completion.
	continueNudge = "Continue with the task. Record remaining items with the provided tools, or signal completion."
)

// Config tunes one loop. Registry and System are required.
type Config struct {
	// Name identifies the task in logs.
	Name string
	// System is the task's system prompt.
	System string
	// Registry supplies the tool schemas and dispatch table.
	Registry *Registry
	// MaxIterations caps gateway round trips for the task.
	MaxIterations int
	// MaxRetries caps retries of a single failed call.
	MaxRetries int
	// BaseBackoff is the starting delay for retry backoff.
	BaseBackoff time.Duration
	// Temperature and MaxTokens pass through to the gateway request.
	Temperature float32
	MaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	return c
}

// Result summarizes one finished task loop.
type Result struct {
	Name       string
	Iterations int
	// Complete is false when the iteration ceiling was reached before the
	// completion tool was invoked. The records applied so far remain valid.
	Complete   bool
	Applied    int
	Duplicates int
	Errors     int
	Usage      model.TokenUsage
	Elapsed    time.Duration
}

// Loop drives one task: request, tool execution, transcript growth, repeat.
// Every gateway call passes through the rate limiter and the circuit breaker.
type Loop struct {
	gw      gateway.Gateway
	limiter ratelimit.Limiter
	brk     *breaker.Breaker
	logger  *slog.Logger
	cfg     Config

	now func() time.Time
}

// NewLoop wires a loop. limiter and brk may be shared across loops; a nil
// limiter admits everything.
func NewLoop(gw gateway.Gateway, limiter ratelimit.Limiter, brk *breaker.Breaker, cfg Config, logger *slog.Logger) (*Loop, error) {
	if gw == nil {
		return nil, fmt.Errorf("agent: gateway is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent: tool registry is required")
	}
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		gw:      gw,
		limiter: limiter,
		brk:     brk,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}, nil
}

// Run executes the loop seeded with one user message until the completion
// tool is invoked, the iteration ceiling is reached, or a call fails beyond
// retry. On a fatal call error the partial result is returned alongside it.
func (l *Loop) Run(ctx context.Context, seed string) (Result, error) {
	start := l.now()
	res := Result{Name: l.cfg.Name}
	transcript := []gateway.Message{{Role: gateway.RoleUser, Content: seed}}

	for res.Iterations < l.cfg.MaxIterations {
		res.Iterations++

		resp, err := l.call(ctx, transcript)
		if err != nil {
			res.Elapsed = l.now().Sub(start)
			return res, fmt.Errorf("agent: task %s iteration %d: %w", l.cfg.Name, res.Iterations, err)
		}
		res.Usage = res.Usage.Add(resp.Usage)

		transcript = append(transcript, gateway.Message{
			Role:      gateway.RoleAssistant,
			Content:   strings.Join(resp.Segments, "\n"),
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			// Free text only. Nudge once more rather than spinning silently.
			transcript = append(transcript, gateway.Message{Role: gateway.RoleUser, Content: continueNudge})
			continue
		}

		for _, call := range resp.ToolCalls {
			if call.Name == l.cfg.Registry.CompletionTool() {
				res.Complete = true
			}
			outcome := l.execute(ctx, call)
			switch outcome.Status {
			case StatusApplied:
				res.Applied++
			case StatusDuplicate:
				res.Duplicates++
			case StatusError:
				res.Errors++
			}
			transcript = append(transcript, gateway.Message{
				Role:       gateway.RoleTool,
				Content:    fmt.Sprintf("%s: %s", outcome.Status, outcome.Message),
				ToolCallID: call.ID,
			})
		}

		if res.Complete {
			break
		}
	}

	res.Elapsed = l.now().Sub(start)
	l.logger.Info("task loop finished",
		"task", l.cfg.Name,
		"iterations", res.Iterations,
		"complete", res.Complete,
		"applied", res.Applied,
		"duplicates", res.Duplicates,
		"errors", res.Errors,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	return res, nil
}

// call performs one gateway round trip under the limiter, breaker, and retry
// policy. Invalid requests fail immediately; rate-limited and transient
// failures retry with backoff until the retry ceiling.
func (l *Loop) call(ctx context.Context, transcript []gateway.Message) (gateway.Response, error) {
	req := gateway.Request{
		System:      l.cfg.System,
		Tools:       l.cfg.Registry.Schemas(),
		Transcript:  transcript,
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	}

	var resp gateway.Response
	err := withRetry(ctx, l.cfg.MaxRetries, l.cfg.BaseBackoff, func() error {
		if err := l.limiter.Acquire(ctx); err != nil {
			return err
		}
		defer l.limiter.Release()

		do := func(ctx context.Context) error {
			var err error
			resp, err = l.gw.Complete(ctx, req)
			return err
		}
		if l.brk != nil {
			return l.brk.Call(ctx, do)
		}
		return do(ctx)
	})
	if err != nil {
		return gateway.Response{}, err
	}
	return resp, nil
}

// execute dispatches one tool invocation. A failure stays inside the returned
// result so the model can react; it never aborts the loop.
func (l *Loop) execute(ctx context.Context, call gateway.ToolCall) ToolResult {
	tool, ok := l.cfg.Registry.Lookup(call.Name)
	if !ok {
		l.logger.Warn("unknown tool invoked", "task", l.cfg.Name, "tool", call.Name)
		return ToolResult{Status: StatusError, Message: fmt.Sprintf("unknown tool %q", call.Name)}
	}
	return tool.Execute(ctx, call.Arguments)
}
