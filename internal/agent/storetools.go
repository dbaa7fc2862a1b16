package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/chosa/internal/gateway"
	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/store"
)

// Tool names exposed to the model. The two phases of an analysis use disjoint
// sets: extraction records facts and gaps, findings synthesis records findings.
const (
	ToolRecordFact         = "record_fact"
	ToolRecordGap          = "record_gap"
	ToolRecordFinding      = "record_finding"
	ToolCompleteExtraction = "complete_extraction"
	ToolCompleteFindings   = "complete_findings"
)

// TaskScope pins every record a task produces to one (domain, scope) and
// source document. The model never chooses these; they come from the task.
type TaskScope struct {
	Domain    string
	Scope     model.Scope
	SourceDoc string
}

// ExtractionTools returns the registry for the extraction phase: record_fact,
// record_gap, and the completion signal.
func ExtractionTools(s *store.Store, ts TaskScope) (*Registry, error) {
	return NewRegistry(ToolCompleteExtraction,
		&recordFactTool{store: s, scope: ts},
		&recordGapTool{store: s, scope: ts},
		&completeTool{name: ToolCompleteExtraction, description: "Signal that every fact and gap in the document has been recorded."},
	)
}

// FindingTools returns the registry for the findings phase: record_finding
// and the completion signal.
func FindingTools(s *store.Store, ts TaskScope) (*Registry, error) {
	return NewRegistry(ToolCompleteFindings,
		&recordFindingTool{store: s, scope: ts},
		&completeTool{name: ToolCompleteFindings, description: "Signal that every supportable finding has been recorded."},
	)
}

type recordFactTool struct {
	store *store.Store
	scope TaskScope
}

func (t *recordFactTool) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{
		Name:        ToolRecordFact,
		Description: "Record one extracted fact with its supporting evidence quote.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category":   map[string]any{"type": "string"},
				"item":       map[string]any{"type": "string"},
				"attributes": map[string]any{"type": "object"},
				"quote":      map[string]any{"type": "string"},
				"evidence_type": map[string]any{
					"type": "string",
					"enum": []any{"quote", "paraphrase", "table"},
				},
				"confidence": map[string]any{
					"type": "string",
					"enum": []any{"high", "medium", "low"},
				},
			},
			"required": []any{"category", "item", "quote", "evidence_type", "confidence"},
		},
	}
}

func (t *recordFactTool) Execute(_ context.Context, args map[string]any) ToolResult {
	f := model.Fact{
		Domain:     t.scope.Domain,
		Category:   StringArg(args, "category"),
		Item:       StringArg(args, "item"),
		Attributes: MapArg(args, "attributes"),
		Evidence: model.Evidence{
			Quote:      StringArg(args, "quote"),
			Type:       model.EvidenceType(StringArg(args, "evidence_type")),
			Confidence: model.Confidence(StringArg(args, "confidence")),
		},
		Scope:     t.scope.Scope,
		SourceDoc: t.scope.SourceDoc,
	}
	added, err := t.store.AddFact(f)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return ToolResult{Status: StatusDuplicate, Message: fmt.Sprintf("already recorded as fact %s", added.ID)}
	case err != nil:
		return ToolResult{Status: StatusError, Message: err.Error()}
	}
	return ToolResult{Status: StatusApplied, Message: fmt.Sprintf("recorded fact %s", added.ID)}
}

type recordGapTool struct {
	store *store.Store
	scope TaskScope
}

func (t *recordGapTool) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{
		Name:        ToolRecordGap,
		Description: "Record one gap: information expected in the documents but not found.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category":    map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"importance": map[string]any{
					"type": "string",
					"enum": []any{"critical", "high", "medium", "low"},
				},
			},
			"required": []any{"category", "description", "importance"},
		},
	}
}

func (t *recordGapTool) Execute(_ context.Context, args map[string]any) ToolResult {
	g := model.Gap{
		Domain:      t.scope.Domain,
		Category:    StringArg(args, "category"),
		Description: StringArg(args, "description"),
		Importance:  model.Importance(StringArg(args, "importance")),
		Scope:       t.scope.Scope,
	}
	added, err := t.store.AddGap(g)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return ToolResult{Status: StatusDuplicate, Message: fmt.Sprintf("already recorded as gap %s", added.ID)}
	case err != nil:
		return ToolResult{Status: StatusError, Message: err.Error()}
	}
	return ToolResult{Status: StatusApplied, Message: fmt.Sprintf("recorded gap %s", added.ID)}
}

type recordFindingTool struct {
	store *store.Store
	scope TaskScope
}

func (t *recordFindingTool) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{
		Name:        ToolRecordFinding,
		Description: "Record one finding synthesized from recorded facts. fact_ids must cite existing fact ids.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind": map[string]any{
					"type": "string",
					"enum": []any{"risk", "work_item", "recommendation", "strategic_note"},
				},
				"title":  map[string]any{"type": "string"},
				"detail": map[string]any{"type": "string"},
				"severity": map[string]any{
					"type": "string",
					"enum": []any{"critical", "high", "medium", "low"},
				},
				"fact_ids": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []any{"kind", "title", "detail", "severity", "fact_ids"},
		},
	}
}

func (t *recordFindingTool) Execute(_ context.Context, args map[string]any) ToolResult {
	ids := make([]uuid.UUID, 0)
	for _, raw := range StringSliceArg(args, "fact_ids") {
		id, err := uuid.Parse(raw)
		if err != nil {
			return ToolResult{Status: StatusError, Message: fmt.Sprintf("fact_ids: %q is not a valid id", raw)}
		}
		ids = append(ids, id)
	}
	f := model.Finding{
		Kind:     model.FindingKind(StringArg(args, "kind")),
		Domain:   t.scope.Domain,
		Title:    StringArg(args, "title"),
		Detail:   StringArg(args, "detail"),
		Severity: model.Importance(StringArg(args, "severity")),
		FactIDs:  ids,
		Scope:    t.scope.Scope,
	}
	added, err := t.store.AddFinding(f)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return ToolResult{Status: StatusDuplicate, Message: fmt.Sprintf("already recorded as finding %s", added.ID)}
	case err != nil:
		return ToolResult{Status: StatusError, Message: err.Error()}
	}
	return ToolResult{Status: StatusApplied, Message: fmt.Sprintf("recorded finding %s", added.ID)}
}

// NewCompletionTool returns a no-op tool usable as a loop's completion
// signal, for callers assembling their own registries.
func NewCompletionTool(name, description string) Tool {
	return &completeTool{name: name, description: description}
}

// completeTool is the designated completion signal. Executing it is a no-op;
// the loop watches for its invocation by name.
type completeTool struct {
	name        string
	description string
}

func (t *completeTool) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{
		Name:        t.name,
		Description: t.description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string"},
			},
		},
	}
}

func (t *completeTool) Execute(context.Context, map[string]any) ToolResult {
	return ToolResult{Status: StatusApplied, Message: "acknowledged"}
}
