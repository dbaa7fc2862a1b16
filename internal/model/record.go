// Package model defines the record types the diligence engine extracts and
// derives: facts with mandatory evidence, gaps, findings, and inferred
// (derived) records, plus their validation rules.
package model

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

// EvidenceType classifies how a quote supports a fact.
type EvidenceType string

const (
	EvidenceQuote      EvidenceType = "quote"      // verbatim text from the source document
	EvidenceParaphrase EvidenceType = "paraphrase" // restated by the model, traceable to a passage
	EvidenceTable      EvidenceType = "table"      // extracted from tabular data
)

// Confidence is the model's stated confidence in an extraction.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RecordStatus tracks the lifecycle of a fact. The only legal transition is
// active → superseded; ids never change.
type RecordStatus string

const (
	StatusActive     RecordStatus = "active"
	StatusSuperseded RecordStatus = "superseded"
)

// Evidence links an extracted record back to the source text that justifies it.
type Evidence struct {
	Quote      string       `json:"quote"`
	Type       EvidenceType `json:"type"`
	Confidence Confidence   `json:"confidence"`
}

// Fact is a single extracted statement about a domain item.
type Fact struct {
	ID         uuid.UUID      `json:"id"`
	Domain     string         `json:"domain"`
	Category   string         `json:"category"`
	Item       string         `json:"item"`
	Attributes map[string]any `json:"attributes"`
	Evidence   Evidence       `json:"evidence"`
	Scope      Scope          `json:"scope"`
	SourceDoc  string         `json:"source_doc"`
	Status     RecordStatus   `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Importance ranks how much a gap matters to the engagement.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
)

// Gap flags an absence of expected information in the reviewed documents.
type Gap struct {
	ID          uuid.UUID  `json:"id"`
	Domain      string     `json:"domain"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Importance  Importance `json:"importance"`
	Scope       Scope      `json:"scope"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FindingKind enumerates the kinds of synthesized findings.
type FindingKind string

const (
	FindingRisk           FindingKind = "risk"
	FindingWorkItem       FindingKind = "work_item"
	FindingRecommendation FindingKind = "recommendation"
	FindingStrategicNote  FindingKind = "strategic_note"
)

// Finding is a conclusion synthesized from one or more facts. Every finding
// must cite at least one fact id that exists at citation time.
type Finding struct {
	ID        uuid.UUID    `json:"id"`
	Kind      FindingKind  `json:"kind"`
	Domain    string       `json:"domain"`
	Title     string       `json:"title"`
	Detail    string       `json:"detail"`
	Severity  Importance   `json:"severity"`
	FactIDs   []uuid.UUID  `json:"fact_ids"`
	Scope     Scope        `json:"scope"`
	Status    RecordStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// DerivedRecord is an inferred fact produced by gap analysis rather than
// direct extraction. Shape-compatible with Fact; tagged with the run that
// generated it. Derived records are replaced wholesale per (domain, scope)
// and never edited in place.
type DerivedRecord struct {
	Fact        Fact      `json:"fact"`
	RunID       uuid.UUID `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ScopeKey identifies the atomic replacement unit for derived records.
type ScopeKey struct {
	Domain string
	Scope  Scope
}

// TokenUsage accumulates gateway token counters for a call or a run.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}
