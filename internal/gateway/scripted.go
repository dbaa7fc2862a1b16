package gateway

import (
	"context"
	"sync"
)

// Step is one scripted turn: either a canned response or an error.
type Step struct {
	Response Response
	Err      error
}

// ScriptedGateway replays a fixed sequence of steps. Once the script is
// exhausted it keeps returning the final step. Used by agent-loop and
// scheduler tests; safe for concurrent use.
type ScriptedGateway struct {
	mu       sync.Mutex
	steps    []Step
	calls    int
	requests []Request
}

// NewScriptedGateway builds a gateway that replays steps in order.
func NewScriptedGateway(steps ...Step) *ScriptedGateway {
	return &ScriptedGateway{steps: steps}
}

// Complete returns the next scripted step and records the request.
func (s *ScriptedGateway) Complete(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++

	if idx < 0 {
		return Response{}, &Error{Kind: KindTransient, Message: "scripted gateway has no steps"}
	}
	step := s.steps[idx]
	return step.Response, step.Err
}

// Calls reports how many times Complete was invoked.
func (s *ScriptedGateway) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of every recorded request in call order.
func (s *ScriptedGateway) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}
