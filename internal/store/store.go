// Package store holds the in-memory evidence store: append-mostly facts,
// gaps, and findings with mandatory evidence and scope tags, plus the atomic
// derived-record merger.
//
// Simple appends take a coarse store lock and allocate ids atomically. The
// derived-record replace path is not a simple append and goes through Merger,
// which adds per-scope locking with snapshot and rollback.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/chosa/internal/model"
)

// ErrDuplicate is returned when a new record is a fuzzy-text duplicate of an
// existing same-scope record. The mutation is skipped; callers report the
// existing record instead.
var ErrDuplicate = errors.New("store: duplicate record")

// ErrUnknownFact is returned when a finding cites a fact id that does not
// exist in the store at citation time.
var ErrUnknownFact = errors.New("store: cited fact does not exist")

// duplicateThreshold is the similarity above which a new record is treated as
// a duplicate of an existing same-scope record.
const duplicateThreshold = 0.85

// Store is an in-memory evidence store. Safe for concurrent use.
type Store struct {
	logger *slog.Logger

	mu       sync.RWMutex
	facts    []model.Fact
	factIdx  map[uuid.UUID]int
	gaps     []model.Gap
	findings []model.Finding
	derived  map[model.ScopeKey][]model.DerivedRecord
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:  logger,
		factIdx: make(map[uuid.UUID]int),
		derived: make(map[model.ScopeKey][]model.DerivedRecord),
	}
}

// AddFact validates and appends a fact. A fuzzy-text duplicate of an existing
// fact in the same (domain, scope) short-circuits the append: the existing
// fact is returned together with ErrDuplicate.
func (s *Store) AddFact(f model.Fact) (model.Fact, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = model.StatusActive
	}
	if f.Attributes == nil {
		f.Attributes = map[string]any{}
	}
	if err := f.Validate(); err != nil {
		return model.Fact{}, fmt.Errorf("store: add fact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Dedupe applies to active facts only; superseded history imports as-is.
	if f.Status == model.StatusActive {
		for _, existing := range s.facts {
			if existing.Domain != f.Domain || existing.Scope != f.Scope || existing.Status != model.StatusActive {
				continue
			}
			if Similarity(existing.Item, f.Item) >= duplicateThreshold {
				return existing, fmt.Errorf("%w: %q matches existing fact %s", ErrDuplicate, f.Item, existing.ID)
			}
		}
	}

	s.factIdx[f.ID] = len(s.facts)
	s.facts = append(s.facts, f)
	return f, nil
}

// AddGap validates and appends a gap, with the same duplicate short-circuit
// as AddFact applied to the gap description.
func (s *Store) AddGap(g model.Gap) (model.Gap, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if err := g.Validate(); err != nil {
		return model.Gap{}, fmt.Errorf("store: add gap: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.gaps {
		if existing.Domain != g.Domain || existing.Scope != g.Scope {
			continue
		}
		if Similarity(existing.Description, g.Description) >= duplicateThreshold {
			return existing, fmt.Errorf("%w: gap %q matches existing gap %s", ErrDuplicate, g.Description, existing.ID)
		}
	}

	s.gaps = append(s.gaps, g)
	return g, nil
}

// AddFinding validates and appends a finding. Every cited fact id must exist
// in the store at citation time; an unknown id rejects the whole finding.
func (s *Store) AddFinding(f model.Finding) (model.Finding, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = model.StatusActive
	}
	if err := f.Validate(); err != nil {
		return model.Finding{}, fmt.Errorf("store: add finding: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range f.FactIDs {
		if _, ok := s.factIdx[id]; !ok {
			return model.Finding{}, fmt.Errorf("%w: finding %q cites %s", ErrUnknownFact, f.Title, id)
		}
	}

	for _, existing := range s.findings {
		if existing.Domain != f.Domain || existing.Scope != f.Scope || existing.Kind != f.Kind {
			continue
		}
		if Similarity(existing.Title, f.Title) >= duplicateThreshold {
			return existing, fmt.Errorf("%w: finding %q matches existing finding %s", ErrDuplicate, f.Title, existing.ID)
		}
	}

	s.findings = append(s.findings, f)
	return f, nil
}

// SupersedeFact transitions a fact from active to superseded. The id and all
// other fields are immutable.
func (s *Store) SupersedeFact(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.factIdx[id]
	if !ok {
		return fmt.Errorf("store: supersede fact %s: %w", id, ErrUnknownFact)
	}
	s.facts[idx].Status = model.StatusSuperseded
	return nil
}

// FactExists reports whether a fact id is present.
func (s *Store) FactExists(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.factIdx[id]
	return ok
}

// Facts returns a copy of all facts in insertion order.
func (s *Store) Facts() []model.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

// Gaps returns a copy of all gaps in insertion order.
func (s *Store) Gaps() []model.Gap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Gap, len(s.gaps))
	copy(out, s.gaps)
	return out
}

// Findings returns a copy of all findings in insertion order.
func (s *Store) Findings() []model.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// DerivedForScope returns a deep copy of the derived records for one
// (domain, scope), independent of later store mutation.
func (s *Store) DerivedForScope(key model.ScopeKey) []model.DerivedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyDerived(s.derived[key])
}

// Derived returns a deep copy of all derived records grouped by scope key.
func (s *Store) Derived() map[model.ScopeKey][]model.DerivedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ScopeKey][]model.DerivedRecord, len(s.derived))
	for k, v := range s.derived {
		out[k] = deepCopyDerived(v)
	}
	return out
}

// replaceDerived swaps the derived set for one scope key. Records must
// already be validated against the key. Called only by Merger.
func (s *Store) replaceDerived(key model.ScopeKey, recs []model.DerivedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(recs) == 0 {
		delete(s.derived, key)
		return
	}
	s.derived[key] = deepCopyDerived(recs)
}

// Merge appends another store's records into this one. Facts merge first so
// that the sibling's findings still cite existing ids. Duplicate
// short-circuits apply, so merging overlapping task outputs is idempotent in
// effect; duplicates are logged and skipped, never fatal.
func (s *Store) Merge(other *Store) error {
	for _, f := range other.Facts() {
		if _, err := s.AddFact(f); err != nil {
			if errors.Is(err, ErrDuplicate) {
				s.logger.Debug("merge: skipping duplicate fact", "item", f.Item, "domain", f.Domain)
				continue
			}
			return fmt.Errorf("store: merge fact: %w", err)
		}
	}
	for _, g := range other.Gaps() {
		if _, err := s.AddGap(g); err != nil {
			if errors.Is(err, ErrDuplicate) {
				s.logger.Debug("merge: skipping duplicate gap", "description", g.Description)
				continue
			}
			return fmt.Errorf("store: merge gap: %w", err)
		}
	}
	for _, f := range other.Findings() {
		if _, err := s.AddFinding(f); err != nil {
			if errors.Is(err, ErrDuplicate) {
				s.logger.Debug("merge: skipping duplicate finding", "title", f.Title)
				continue
			}
			return fmt.Errorf("store: merge finding: %w", err)
		}
	}
	for key, recs := range other.Derived() {
		s.replaceDerived(key, recs)
	}
	return nil
}

// Counts reports record totals for logging and run summaries.
func (s *Store) Counts() (facts, gaps, findings, derived int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, recs := range s.derived {
		derived += len(recs)
	}
	return len(s.facts), len(s.gaps), len(s.findings), derived
}

func deepCopyDerived(recs []model.DerivedRecord) []model.DerivedRecord {
	if recs == nil {
		return nil
	}
	out := make([]model.DerivedRecord, len(recs))
	for i, r := range recs {
		out[i] = r
		if r.Fact.Attributes != nil {
			attrs := make(map[string]any, len(r.Fact.Attributes))
			for k, v := range r.Fact.Attributes {
				attrs[k] = v
			}
			out[i].Fact.Attributes = attrs
		}
	}
	return out
}
