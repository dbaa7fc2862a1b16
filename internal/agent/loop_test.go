package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/chosa/internal/agent"
	"github.com/ashita-ai/chosa/internal/breaker"
	"github.com/ashita-ai/chosa/internal/gateway"
	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/store"
	"github.com/ashita-ai/chosa/internal/testutil"
)

var testScope = agent.TaskScope{
	Domain:    "financial",
	Scope:     model.ScopeTarget,
	SourceDoc: "annual_report.pdf",
}

func factCall(id, item string) gateway.ToolCall {
	return gateway.ToolCall{
		ID:   id,
		Name: agent.ToolRecordFact,
		Arguments: map[string]any{
			"category":      "revenue",
			"item":          item,
			"quote":         "revenue for the period was 42 million",
			"evidence_type": "quote",
			"confidence":    "high",
		},
	}
}

func gapCall(id string) gateway.ToolCall {
	return gateway.ToolCall{
		ID:   id,
		Name: agent.ToolRecordGap,
		Arguments: map[string]any{
			"category":    "audit",
			"description": "no audited statements before FY2023",
			"importance":  "high",
		},
	}
}

func completeCall(id string) gateway.ToolCall {
	return gateway.ToolCall{ID: id, Name: agent.ToolCompleteExtraction, Arguments: map[string]any{}}
}

func respWith(calls ...gateway.ToolCall) gateway.Step {
	return gateway.Step{Response: gateway.Response{
		ToolCalls: calls,
		Usage:     model.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}}
}

func newLoop(t *testing.T, gw gateway.Gateway, s *store.Store, cfg agent.Config) *agent.Loop {
	t.Helper()
	if cfg.Registry == nil {
		reg, err := agent.ExtractionTools(s, testScope)
		require.NoError(t, err)
		cfg.Registry = reg
	}
	if cfg.Name == "" {
		cfg.Name = "financial/target"
	}
	cfg.BaseBackoff = time.Millisecond
	l, err := agent.NewLoop(gw, nil, nil, cfg, testutil.TestLogger())
	require.NoError(t, err)
	return l
}

func TestLoopRecordsAndCompletesInThreeIterations(t *testing.T) {
	s := store.New(testutil.TestLogger())
	gw := gateway.NewScriptedGateway(
		respWith(factCall("c1", "FY2025 revenue of 42 million")),
		respWith(gapCall("c2")),
		respWith(completeCall("c3")),
	)

	res, err := newLoop(t, gw, s, agent.Config{}).Run(context.Background(), "analyze the document")
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, gw.Calls())
	assert.Equal(t, 3, res.Applied, "two records plus the completion acknowledgement")

	facts, gaps, _, _ := s.Counts()
	assert.Equal(t, 1, facts)
	assert.Equal(t, 1, gaps)
	assert.Equal(t, model.TokenUsage{InputTokens: 300, OutputTokens: 150}, res.Usage)
}

func TestLoopStopsAtIterationCeilingWithoutError(t *testing.T) {
	s := store.New(testutil.TestLogger())
	// The script never signals completion; the final step repeats forever.
	gw := gateway.NewScriptedGateway(
		respWith(factCall("c1", "FY2025 revenue of 42 million")),
	)

	res, err := newLoop(t, gw, s, agent.Config{MaxIterations: 5}).Run(context.Background(), "analyze")
	require.NoError(t, err, "hitting the ceiling is a reported outcome, not a failure")

	assert.False(t, res.Complete)
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, 5, gw.Calls())
	// First application succeeds, replays are duplicates.
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 4, res.Duplicates)
}

func TestLoopNudgesAfterFreeTextOnlyResponse(t *testing.T) {
	s := store.New(testutil.TestLogger())
	gw := gateway.NewScriptedGateway(
		gateway.Step{Response: gateway.Response{Segments: []string{"Let me think about this."}}},
		respWith(completeCall("c1")),
	)

	res, err := newLoop(t, gw, s, agent.Config{}).Run(context.Background(), "analyze")
	require.NoError(t, err)
	assert.True(t, res.Complete)

	reqs := gw.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Transcript
	last := second[len(second)-1]
	assert.Equal(t, gateway.RoleUser, last.Role)
	assert.Contains(t, last.Content, "Continue", "free text without tool calls draws a synthetic nudge")
}

func TestLoopRetriesRateLimitedCalls(t *testing.T) {
	s := store.New(testutil.TestLogger())
	rateErr := &gateway.Error{Kind: gateway.KindRateLimited, Status: 429, Message: "quota"}
	gw := gateway.NewScriptedGateway(
		gateway.Step{Err: rateErr},
		gateway.Step{Err: rateErr},
		respWith(completeCall("c1")),
	)

	res, err := newLoop(t, gw, s, agent.Config{MaxRetries: 3}).Run(context.Background(), "analyze")
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 1, res.Iterations, "retries happen inside one iteration")
	assert.Equal(t, 3, gw.Calls())
}

func TestLoopFailsFastOnInvalidRequest(t *testing.T) {
	s := store.New(testutil.TestLogger())
	gw := gateway.NewScriptedGateway(
		gateway.Step{Err: &gateway.Error{Kind: gateway.KindInvalidRequest, Status: 400, Message: "context too large"}},
	)

	res, err := newLoop(t, gw, s, agent.Config{MaxRetries: 3}).Run(context.Background(), "analyze")
	require.Error(t, err)
	assert.True(t, gateway.IsInvalidRequest(err))
	assert.Equal(t, 1, gw.Calls(), "invalid requests are never retried")
	assert.False(t, res.Complete)
}

func TestLoopPropagatesTransientAfterRetryExhaustion(t *testing.T) {
	s := store.New(testutil.TestLogger())
	gw := gateway.NewScriptedGateway(
		gateway.Step{Err: &gateway.Error{Kind: gateway.KindTransient, Status: 503, Message: "upstream down"}},
	)

	_, err := newLoop(t, gw, s, agent.Config{MaxRetries: 2}).Run(context.Background(), "analyze")
	require.Error(t, err)
	assert.True(t, gateway.IsTransient(err))
	assert.Equal(t, 3, gw.Calls(), "initial attempt plus two retries")
}

func TestLoopFeedsTransientFailuresToBreaker(t *testing.T) {
	s := store.New(testutil.TestLogger())
	gw := gateway.NewScriptedGateway(
		gateway.Step{Err: &gateway.Error{Kind: gateway.KindTransient, Status: 502, Message: "bad gateway"}},
	)
	brk := breaker.New("inference", breaker.Config{
		FailureThreshold: 3,
		IsExpected:       gateway.IsTransient,
	}, testutil.TestLogger())

	reg, err := agent.ExtractionTools(s, testScope)
	require.NoError(t, err)
	l, err := agent.NewLoop(gw, nil, brk, agent.Config{
		Name:        "financial/target",
		Registry:    reg,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	}, testutil.TestLogger())
	require.NoError(t, err)

	_, err = l.Run(context.Background(), "analyze")
	require.Error(t, err)
	assert.Equal(t, breaker.StateOpen, brk.State(), "three transient failures trip the breaker")
}

func TestLoopReportsToolErrorsAndContinues(t *testing.T) {
	s := store.New(testutil.TestLogger())
	badFinding := gateway.ToolCall{
		ID:   "c1",
		Name: agent.ToolRecordFinding,
		Arguments: map[string]any{
			"kind":     "risk",
			"title":    "phantom citation",
			"detail":   "cites a fact that was never recorded",
			"severity": "high",
			"fact_ids": []any{"not-a-uuid"},
		},
	}
	reg, err := agent.FindingTools(s, testScope)
	require.NoError(t, err)
	gw := gateway.NewScriptedGateway(
		respWith(badFinding),
		respWith(gateway.ToolCall{ID: "c2", Name: agent.ToolCompleteFindings, Arguments: map[string]any{}}),
	)

	res, err := newLoop(t, gw, s, agent.Config{Registry: reg}).Run(context.Background(), "synthesize findings")
	require.NoError(t, err, "a tool failure is confined to its invocation")
	assert.True(t, res.Complete)
	assert.Equal(t, 1, res.Errors)

	reqs := gw.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Transcript
	last := second[len(second)-1]
	assert.Equal(t, gateway.RoleTool, last.Role)
	assert.Contains(t, last.Content, "error", "the failure is reported back into the transcript")
}

func TestLoopReportsUnknownToolAsError(t *testing.T) {
	s := store.New(testutil.TestLogger())
	gw := gateway.NewScriptedGateway(
		respWith(gateway.ToolCall{ID: "c1", Name: "delete_everything", Arguments: map[string]any{}}),
		respWith(completeCall("c2")),
	)

	res, err := newLoop(t, gw, s, agent.Config{}).Run(context.Background(), "analyze")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.True(t, res.Complete)
}
