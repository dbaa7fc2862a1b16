// Package derive runs gap analysis: for one (domain, scope) it feeds the
// recorded facts and gaps back to the model and collects inferred records —
// estimates and assumptions standing in for information the documents never
// provided. Inferred records only ever reach the store through the merger's
// atomic replace, tagged with the run that produced them.
package derive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/chosa/internal/agent"
	"github.com/ashita-ai/chosa/internal/breaker"
	"github.com/ashita-ai/chosa/internal/gateway"
	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/ratelimit"
	"github.com/ashita-ai/chosa/internal/store"
)

// Tool names for the inference phase.
const (
	ToolRecordInference   = "record_inference"
	ToolCompleteInference = "complete_inference"
)

const systemPrompt = `You are performing gap analysis for a due-diligence review.
You are given the facts extracted from the data room for one domain, and the
gaps — information that was expected but not found. For each gap where a
reasonable inference is possible, record an inferred item with record_inference:
state what you infer, the basis for the inference, and an honest confidence.
Do not restate facts that are already recorded. Call complete_inference when done.`

// Generator drives one inference loop per scope and applies its output
// through the merger.
type Generator struct {
	gw      gateway.Gateway
	limiter ratelimit.Limiter
	brk     *breaker.Breaker
	logger  *slog.Logger

	maxIterations int
}

// NewGenerator wires a generator. limiter and brk may be nil; maxIterations
// at or below zero uses the agent default.
func NewGenerator(gw gateway.Gateway, limiter ratelimit.Limiter, brk *breaker.Breaker, maxIterations int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		gw:            gw,
		limiter:       limiter,
		brk:           brk,
		logger:        logger,
		maxIterations: maxIterations,
	}
}

// Regenerate replaces the derived records of key with a fresh inference pass
// tagged runID. The store is untouched if the loop fails before completing;
// an inference loop that hits its iteration ceiling keeps what it collected.
func (g *Generator) Regenerate(ctx context.Context, s *store.Store, m *store.Merger, key model.ScopeKey, runID uuid.UUID) error {
	if runID == uuid.Nil {
		return fmt.Errorf("derive: run id is required")
	}

	gen := func(ctx context.Context) ([]model.DerivedRecord, error) {
		col := &collector{key: key, runID: runID, now: time.Now}
		reg, err := agent.NewRegistry(ToolCompleteInference,
			col,
			agent.NewCompletionTool(ToolCompleteInference, "Signal that every supportable inference has been recorded."),
		)
		if err != nil {
			return nil, err
		}

		loop, err := agent.NewLoop(g.gw, g.limiter, g.brk, agent.Config{
			Name:          fmt.Sprintf("derive:%s/%s", key.Domain, key.Scope),
			System:        systemPrompt,
			Registry:      reg,
			MaxIterations: g.maxIterations,
		}, g.logger)
		if err != nil {
			return nil, err
		}

		res, err := loop.Run(ctx, seedPrompt(s, key))
		if err != nil {
			return nil, err
		}
		if !res.Complete {
			g.logger.Warn("inference loop hit iteration ceiling",
				"domain", key.Domain, "scope", key.Scope, "collected", len(col.records()))
		}
		return col.records(), nil
	}

	return m.Regenerate(ctx, key, gen, nil)
}

// seedPrompt lays out the scope's recorded facts and gaps as the loop's
// opening user message.
func seedPrompt(s *store.Store, key model.ScopeKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\nScope: %s\n\nRecorded facts:\n", key.Domain, key.Scope)
	n := 0
	for _, f := range s.Facts() {
		if f.Domain != key.Domain || f.Scope != key.Scope || f.Status != model.StatusActive {
			continue
		}
		n++
		fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Item)
	}
	if n == 0 {
		b.WriteString("(none)\n")
	}
	b.WriteString("\nGaps:\n")
	n = 0
	for _, gap := range s.Gaps() {
		if gap.Domain != key.Domain || gap.Scope != key.Scope {
			continue
		}
		n++
		fmt.Fprintf(&b, "- [%s, %s] %s\n", gap.Category, gap.Importance, gap.Description)
	}
	if n == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}

// collector is the record_inference tool: it accumulates derived records
// locally and hands them to the merger only after the loop finishes.
type collector struct {
	key   model.ScopeKey
	runID uuid.UUID
	now   func() time.Time

	mu   sync.Mutex
	recs []model.DerivedRecord
}

func (c *collector) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{
		Name:        ToolRecordInference,
		Description: "Record one inferred item filling a gap, with the basis for the inference.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category":   map[string]any{"type": "string"},
				"item":       map[string]any{"type": "string"},
				"basis":      map[string]any{"type": "string"},
				"attributes": map[string]any{"type": "object"},
				"confidence": map[string]any{
					"type": "string",
					"enum": []any{"high", "medium", "low"},
				},
			},
			"required": []any{"category", "item", "basis", "confidence"},
		},
	}
}

func (c *collector) Execute(_ context.Context, args map[string]any) agent.ToolResult {
	rec := model.DerivedRecord{
		Fact: model.Fact{
			ID:         uuid.New(),
			Domain:     c.key.Domain,
			Category:   agent.StringArg(args, "category"),
			Item:       agent.StringArg(args, "item"),
			Attributes: agent.MapArg(args, "attributes"),
			Evidence: model.Evidence{
				Quote:      agent.StringArg(args, "basis"),
				Type:       model.EvidenceParaphrase,
				Confidence: model.Confidence(agent.StringArg(args, "confidence")),
			},
			Scope:     c.key.Scope,
			Status:    model.StatusActive,
			CreatedAt: c.now().UTC(),
		},
		RunID:       c.runID,
		GeneratedAt: c.now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return agent.ToolResult{Status: agent.StatusError, Message: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.recs {
		if store.Similarity(existing.Fact.Item, rec.Fact.Item) >= 0.85 {
			return agent.ToolResult{Status: agent.StatusDuplicate, Message: "already inferred"}
		}
	}
	c.recs = append(c.recs, rec)
	return agent.ToolResult{Status: agent.StatusApplied, Message: fmt.Sprintf("recorded inference %s", rec.Fact.ID)}
}

func (c *collector) records() []model.DerivedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.DerivedRecord, len(c.recs))
	copy(out, c.recs)
	return out
}
