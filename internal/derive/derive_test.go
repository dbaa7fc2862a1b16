package derive_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/chosa/internal/derive"
	"github.com/ashita-ai/chosa/internal/gateway"
	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/store"
	"github.com/ashita-ai/chosa/internal/testutil"
)

var key = model.ScopeKey{Domain: "financial", Scope: model.ScopeTarget}

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(testutil.TestLogger())
	_, err := s.AddFact(model.Fact{
		Domain:   "financial",
		Category: "revenue",
		Item:     "FY2025 revenue of 42 million",
		Evidence: model.Evidence{
			Quote:      "revenue for the period was 42 million",
			Type:       model.EvidenceQuote,
			Confidence: model.ConfidenceHigh,
		},
		Scope:     model.ScopeTarget,
		SourceDoc: "annual_report.pdf",
	})
	require.NoError(t, err)
	_, err = s.AddGap(model.Gap{
		Domain:      "financial",
		Category:    "revenue",
		Description: "no FY2024 revenue figure in the data room",
		Importance:  model.ImportanceHigh,
		Scope:       model.ScopeTarget,
	})
	require.NoError(t, err)
	return s
}

func inferenceCall(id, item string) gateway.ToolCall {
	return gateway.ToolCall{
		ID:   id,
		Name: derive.ToolRecordInference,
		Arguments: map[string]any{
			"category":   "revenue",
			"item":       item,
			"basis":      "extrapolated from FY2025 revenue and stated growth",
			"confidence": "low",
		},
	}
}

func completeCall(id string) gateway.ToolCall {
	return gateway.ToolCall{ID: id, Name: derive.ToolCompleteInference, Arguments: map[string]any{}}
}

func step(calls ...gateway.ToolCall) gateway.Step {
	return gateway.Step{Response: gateway.Response{ToolCalls: calls}}
}

func TestRegenerateCollectsInferredRecords(t *testing.T) {
	s := seedStore(t)
	m := store.NewMerger(s, testutil.TestLogger())
	runID := uuid.New()

	gw := gateway.NewScriptedGateway(
		step(inferenceCall("c1", "estimated FY2024 revenue near 35 million")),
		step(completeCall("c2")),
	)
	g := derive.NewGenerator(gw, nil, nil, 0, testutil.TestLogger())

	require.NoError(t, g.Regenerate(context.Background(), s, m, key, runID))

	recs := s.DerivedForScope(key)
	require.Len(t, recs, 1)
	assert.Equal(t, runID, recs[0].RunID)
	assert.Equal(t, "financial", recs[0].Fact.Domain)
	assert.Equal(t, model.ScopeTarget, recs[0].Fact.Scope)
	assert.Equal(t, model.EvidenceParaphrase, recs[0].Fact.Evidence.Type)
	assert.NotEmpty(t, recs[0].Fact.Evidence.Quote, "an inference carries its basis as evidence")
}

func TestRegenerateSeedIncludesFactsAndGaps(t *testing.T) {
	s := seedStore(t)
	m := store.NewMerger(s, testutil.TestLogger())

	gw := gateway.NewScriptedGateway(step(completeCall("c1")))
	g := derive.NewGenerator(gw, nil, nil, 0, testutil.TestLogger())
	require.NoError(t, g.Regenerate(context.Background(), s, m, key, uuid.New()))

	reqs := gw.Requests()
	require.NotEmpty(t, reqs)
	seed := reqs[0].Transcript[0].Content
	assert.Contains(t, seed, "FY2025 revenue of 42 million")
	assert.Contains(t, seed, "no FY2024 revenue figure")
}

func TestRegenerateReplacesPreviousGeneration(t *testing.T) {
	s := seedStore(t)
	m := store.NewMerger(s, testutil.TestLogger())
	runA, runB := uuid.New(), uuid.New()

	gwA := gateway.NewScriptedGateway(
		step(inferenceCall("c1", "estimated FY2024 revenue near 35 million")),
		step(inferenceCall("c2", "assumed deferred revenue balance is modest")),
		step(completeCall("c3")),
	)
	require.NoError(t, derive.NewGenerator(gwA, nil, nil, 0, testutil.TestLogger()).
		Regenerate(context.Background(), s, m, key, runA))
	require.Len(t, s.DerivedForScope(key), 2)

	gwB := gateway.NewScriptedGateway(
		step(inferenceCall("c1", "revised FY2024 estimate after management call")),
		step(completeCall("c2")),
	)
	require.NoError(t, derive.NewGenerator(gwB, nil, nil, 0, testutil.TestLogger()).
		Regenerate(context.Background(), s, m, key, runB))

	recs := s.DerivedForScope(key)
	require.Len(t, recs, 1, "a new run replaces the previous generation wholesale")
	assert.Equal(t, runB, recs[0].RunID)
}

func TestRegenerateFailureLeavesPreviousGeneration(t *testing.T) {
	s := seedStore(t)
	m := store.NewMerger(s, testutil.TestLogger())
	runA := uuid.New()

	gwA := gateway.NewScriptedGateway(
		step(inferenceCall("c1", "estimated FY2024 revenue near 35 million")),
		step(completeCall("c2")),
	)
	require.NoError(t, derive.NewGenerator(gwA, nil, nil, 0, testutil.TestLogger()).
		Regenerate(context.Background(), s, m, key, runA))

	gwB := gateway.NewScriptedGateway(gateway.Step{
		Err: &gateway.Error{Kind: gateway.KindInvalidRequest, Status: 400, Message: "bad request"},
	})
	err := derive.NewGenerator(gwB, nil, nil, 0, testutil.TestLogger()).
		Regenerate(context.Background(), s, m, key, uuid.New())
	require.Error(t, err)

	recs := s.DerivedForScope(key)
	require.Len(t, recs, 1, "a failed run leaves the previous generation in place")
	assert.Equal(t, runA, recs[0].RunID)
}

func TestRegenerateRequiresRunID(t *testing.T) {
	s := seedStore(t)
	m := store.NewMerger(s, testutil.TestLogger())
	gw := gateway.NewScriptedGateway(step(completeCall("c1")))

	err := derive.NewGenerator(gw, nil, nil, 0, testutil.TestLogger()).
		Regenerate(context.Background(), s, m, key, uuid.Nil)
	require.Error(t, err)
	assert.Zero(t, gw.Calls())
}
