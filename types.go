package chosa

import (
	"time"

	"github.com/google/uuid"
)

// Scope identifies which party of an engagement a record describes.
type Scope string

const (
	ScopeTarget Scope = "target"
	ScopeBuyer  Scope = "buyer"
)

// Document is one input to an analysis run: already-extracted text plus the
// name findings will cite it by.
type Document struct {
	Name string
	Text string
}

// Fact is the public representation of one extracted statement.
// No internal package imports — safe to use from outside the module.
type Fact struct {
	ID         uuid.UUID
	Domain     string
	Category   string
	Item       string
	Attributes map[string]any
	Quote      string
	// EvidenceType is "quote", "paraphrase", or "table".
	EvidenceType string
	// Confidence is "high", "medium", or "low".
	Confidence string
	Scope      Scope
	SourceDoc  string
	// Status is "active" or "superseded".
	Status    string
	CreatedAt time.Time
}

// Gap flags an absence of expected information in the reviewed documents.
type Gap struct {
	ID          uuid.UUID
	Domain      string
	Category    string
	Description string
	// Importance is "critical", "high", "medium", or "low".
	Importance string
	Scope      Scope
	CreatedAt  time.Time
}

// Finding is a conclusion synthesized from one or more facts.
type Finding struct {
	ID uuid.UUID
	// Kind is "risk", "work_item", "recommendation", or "strategic_note".
	Kind     string
	Domain   string
	Title    string
	Detail   string
	Severity string
	// FactIDs cites the facts the finding rests on.
	FactIDs   []uuid.UUID
	Scope     Scope
	CreatedAt time.Time
}

// Inference is a derived record: an estimate or assumption produced by gap
// analysis rather than direct extraction, tagged with the run that made it.
type Inference struct {
	Fact        Fact
	RunID       uuid.UUID
	GeneratedAt time.Time
}

// TaskReport summarizes one analysis task of a run.
type TaskReport struct {
	Name       string
	Complete   bool
	Iterations int
	Applied    int
	Duplicates int
	Errors     int
	// Failed carries the task's error text when the task was abandoned.
	Failed string
}

// RunSummary aggregates one run.
type RunSummary struct {
	RunID         uuid.UUID
	StartedAt     time.Time
	Elapsed       time.Duration
	Tasks         []TaskReport
	Completed     int
	Incomplete    int
	Failed        int
	InputTokens   int
	OutputTokens  int
	// EstimatedCost is the configured cost function applied to the token
	// totals. Zero when no cost function is set.
	EstimatedCost float64
}

// Report is the full output of a run.
type Report struct {
	Facts      []Fact
	Gaps       []Gap
	Findings   []Finding
	Inferences []Inference
	Summary    RunSummary
}
