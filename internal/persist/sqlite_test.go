package persist_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/persist"
	"github.com/ashita-ai/chosa/internal/store"
	"github.com/ashita-ai/chosa/internal/testutil"
)

// seededStore builds a store with one record of every type, using fixed
// microsecond timestamps so both backends round-trip them exactly.
func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(testutil.TestLogger())
	at := time.Unix(1_700_000_000, 123_000).UTC()

	f1, err := s.AddFact(model.Fact{
		Domain:   "financial",
		Category: "revenue",
		Item:     "FY2025 revenue of 42 million",
		Attributes: map[string]any{
			"currency": "EUR",
			"amount":   42_000_000.0,
		},
		Evidence: model.Evidence{
			Quote:      "revenue for the period was 42 million",
			Type:       model.EvidenceQuote,
			Confidence: model.ConfidenceHigh,
		},
		Scope:     model.ScopeTarget,
		SourceDoc: "annual_report.pdf",
		CreatedAt: at,
	})
	require.NoError(t, err)

	_, err = s.AddGap(model.Gap{
		Domain:      "financial",
		Category:    "audit",
		Description: "no audited statements for FY2023",
		Importance:  model.ImportanceHigh,
		Scope:       model.ScopeTarget,
		CreatedAt:   at,
	})
	require.NoError(t, err)

	_, err = s.AddFinding(model.Finding{
		Kind:      model.FindingRisk,
		Domain:    "financial",
		Title:     "revenue concentration risk",
		Detail:    "a single product line carries most of the revenue",
		Severity:  model.ImportanceHigh,
		FactIDs:   []uuid.UUID{f1.ID},
		Scope:     model.ScopeTarget,
		CreatedAt: at,
	})
	require.NoError(t, err)

	m := store.NewMerger(s, testutil.TestLogger())
	key := model.ScopeKey{Domain: "financial", Scope: model.ScopeTarget}
	rec := model.DerivedRecord{
		Fact: model.Fact{
			ID:       uuid.New(),
			Domain:   "financial",
			Category: "revenue",
			Item:     "estimated FY2024 revenue near 35 million",
			Evidence: model.Evidence{
				Quote:      "extrapolated from FY2025 revenue and stated growth",
				Type:       model.EvidenceParaphrase,
				Confidence: model.ConfidenceLow,
			},
			Scope:     model.ScopeTarget,
			Status:    model.StatusActive,
			CreatedAt: at,
		},
		RunID:       uuid.New(),
		GeneratedAt: at,
	}
	require.NoError(t, m.Regenerate(context.Background(), key,
		func(context.Context) ([]model.DerivedRecord, error) {
			return []model.DerivedRecord{rec}, nil
		}, nil))

	return s
}

// verifyRoundTrip saves src through p, loads into a fresh store, and checks
// the records arrived intact.
func verifyRoundTrip(t *testing.T, p persist.Persister, src *store.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, src))
	// Saving twice must not duplicate anything.
	require.NoError(t, p.Save(ctx, src))

	restored := store.New(testutil.TestLogger())
	require.NoError(t, p.Load(ctx, restored))

	wantFacts, wantGaps, wantFindings, wantDerived := src.Counts()
	facts, gaps, findings, derived := restored.Counts()
	assert.Equal(t, wantFacts, facts)
	assert.Equal(t, wantGaps, gaps)
	assert.Equal(t, wantFindings, findings)
	assert.Equal(t, wantDerived, derived)

	srcFact := src.Facts()[0]
	gotFact := restored.Facts()[0]
	assert.Equal(t, srcFact.ID, gotFact.ID)
	assert.Equal(t, srcFact.Item, gotFact.Item)
	assert.Equal(t, srcFact.Evidence, gotFact.Evidence)
	assert.Equal(t, srcFact.Scope, gotFact.Scope)
	assert.Equal(t, "EUR", gotFact.Attributes["currency"])
	assert.True(t, srcFact.CreatedAt.Equal(gotFact.CreatedAt))

	gotFinding := restored.Findings()[0]
	assert.Equal(t, []uuid.UUID{srcFact.ID}, gotFinding.FactIDs, "citations survive the round trip")

	key := model.ScopeKey{Domain: "financial", Scope: model.ScopeTarget}
	srcRecs := src.DerivedForScope(key)
	gotRecs := restored.DerivedForScope(key)
	require.Len(t, gotRecs, len(srcRecs))
	assert.Equal(t, srcRecs[0].RunID, gotRecs[0].RunID)
	assert.Equal(t, srcRecs[0].Fact.Item, gotRecs[0].Fact.Item)
}

func TestSQLiteRoundTrip(t *testing.T) {
	p, err := persist.NewSQLite(context.Background(),
		filepath.Join(t.TempDir(), "chosa.db"), testutil.TestLogger())
	require.NoError(t, err)
	defer p.Close()

	verifyRoundTrip(t, p, seededStore(t))
}

func TestSQLiteLoadIntoPopulatedStoreSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	p, err := persist.NewSQLite(ctx, filepath.Join(t.TempDir(), "chosa.db"), testutil.TestLogger())
	require.NoError(t, err)
	defer p.Close()

	src := seededStore(t)
	require.NoError(t, p.Save(ctx, src))

	// Loading into a store that already holds the same records is a no-op.
	require.NoError(t, p.Load(ctx, src))
	facts, gaps, findings, _ := src.Counts()
	assert.Equal(t, 1, facts)
	assert.Equal(t, 1, gaps)
	assert.Equal(t, 1, findings)
}

func TestSQLiteSupersededStatusSurvives(t *testing.T) {
	ctx := context.Background()
	p, err := persist.NewSQLite(ctx, filepath.Join(t.TempDir(), "chosa.db"), testutil.TestLogger())
	require.NoError(t, err)
	defer p.Close()

	src := seededStore(t)
	require.NoError(t, p.Save(ctx, src))
	require.NoError(t, src.SupersedeFact(src.Facts()[0].ID))
	require.NoError(t, p.Save(ctx, src), "re-save upserts the new status on the same id")

	restored := store.New(testutil.TestLogger())
	require.NoError(t, p.Load(ctx, restored))
	require.Len(t, restored.Facts(), 1)
	assert.Equal(t, model.StatusSuperseded, restored.Facts()[0].Status)
}
