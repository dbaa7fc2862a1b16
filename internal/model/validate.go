package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrMissingScope is wrapped by every missing-scope validation failure so
// callers can distinguish fail-fast scope errors from other validation errors.
var ErrMissingScope = fmt.Errorf("model: scope tag is required")

// ValidateScope checks that a scope tag is present and one of the known values.
// A missing scope is a hard validation error — it is never defaulted.
func ValidateScope(s Scope) error {
	switch s {
	case ScopeTarget, ScopeBuyer:
		return nil
	case "":
		return ErrMissingScope
	default:
		return fmt.Errorf("model: unknown scope %q", s)
	}
}

// Validate checks the invariants a fact must satisfy before it enters a store.
func (f Fact) Validate() error {
	if f.Domain == "" {
		return fmt.Errorf("model: fact domain is required")
	}
	if f.Category == "" {
		return fmt.Errorf("model: fact category is required")
	}
	if f.Item == "" {
		return fmt.Errorf("model: fact item is required")
	}
	if f.Evidence.Quote == "" {
		return fmt.Errorf("model: fact %q has no evidence quote", f.Item)
	}
	switch f.Evidence.Type {
	case EvidenceQuote, EvidenceParaphrase, EvidenceTable:
	default:
		return fmt.Errorf("model: fact %q has invalid evidence type %q", f.Item, f.Evidence.Type)
	}
	switch f.Evidence.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return fmt.Errorf("model: fact %q has invalid confidence %q", f.Item, f.Evidence.Confidence)
	}
	if err := ValidateScope(f.Scope); err != nil {
		return fmt.Errorf("model: fact %q: %w", f.Item, err)
	}
	return nil
}

// Validate checks the invariants a gap must satisfy before it enters a store.
func (g Gap) Validate() error {
	if g.Domain == "" {
		return fmt.Errorf("model: gap domain is required")
	}
	if g.Category == "" {
		return fmt.Errorf("model: gap category is required")
	}
	if g.Description == "" {
		return fmt.Errorf("model: gap description is required")
	}
	switch g.Importance {
	case ImportanceCritical, ImportanceHigh, ImportanceMedium, ImportanceLow:
	default:
		return fmt.Errorf("model: gap %q has invalid importance %q", g.Description, g.Importance)
	}
	if err := ValidateScope(g.Scope); err != nil {
		return fmt.Errorf("model: gap %q: %w", g.Description, err)
	}
	return nil
}

// Validate checks structural invariants of a finding. Citation existence is
// checked by the store, which knows which fact ids exist.
func (f Finding) Validate() error {
	switch f.Kind {
	case FindingRisk, FindingWorkItem, FindingRecommendation, FindingStrategicNote:
	default:
		return fmt.Errorf("model: finding has invalid kind %q", f.Kind)
	}
	if f.Title == "" {
		return fmt.Errorf("model: finding title is required")
	}
	if len(f.FactIDs) == 0 {
		return fmt.Errorf("model: finding %q cites no facts", f.Title)
	}
	switch f.Severity {
	case ImportanceCritical, ImportanceHigh, ImportanceMedium, ImportanceLow:
	default:
		return fmt.Errorf("model: finding %q has invalid severity %q", f.Title, f.Severity)
	}
	if err := ValidateScope(f.Scope); err != nil {
		return fmt.Errorf("model: finding %q: %w", f.Title, err)
	}
	return nil
}

// Validate checks that a derived record carries a valid fact shape and lineage.
func (d DerivedRecord) Validate() error {
	if err := d.Fact.Validate(); err != nil {
		return fmt.Errorf("model: derived record: %w", err)
	}
	if d.RunID == uuid.Nil {
		return fmt.Errorf("model: derived record %q has no run lineage", d.Fact.Item)
	}
	return nil
}
