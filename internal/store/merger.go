package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashita-ai/chosa/internal/model"
)

// GenerateFunc produces the new derived-record set for one (domain, scope).
type GenerateFunc func(ctx context.Context) ([]model.DerivedRecord, error)

// VerifyFunc is an optional downstream consumer constructed from the new
// records (e.g. a report section builder). If it fails, the replace is rolled
// back as if it never happened.
type VerifyFunc func(recs []model.DerivedRecord) error

// Merger atomically regenerates the derived records of a (domain, scope).
// Locks are sharded per scope key: regeneration of independent scopes
// proceeds in parallel, while two regenerations of the same scope serialize.
type Merger struct {
	store  *Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[model.ScopeKey]*sync.Mutex
}

// NewMerger creates a merger bound to one store.
func NewMerger(s *Store, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		store:  s,
		logger: logger,
		locks:  make(map[model.ScopeKey]*sync.Mutex),
	}
}

// Regenerate replaces the derived records for key in three steps under the
// scope lock: snapshot the current set, generate and insert the new set, and
// verify the downstream consumer. Any failure after the old set is removed
// restores the snapshot exactly and re-raises; partial application is never
// observable. verify may be nil.
func (m *Merger) Regenerate(ctx context.Context, key model.ScopeKey, gen GenerateFunc, verify VerifyFunc) error {
	lock := m.scopeLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Step 1: deep-copy snapshot, independent of later store mutation.
	snapshot := m.store.DerivedForScope(key)

	newRecs, err := gen(ctx)
	if err != nil {
		// Nothing has been applied yet; the store is untouched.
		return fmt.Errorf("store: regenerate %s/%s: generate: %w", key.Domain, key.Scope, err)
	}

	// A batch with any invalid record aborts generation wholesale. A missing
	// scope tag is a fail-fast error, never defaulted.
	for i, rec := range newRecs {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("store: regenerate %s/%s: record %d: %w", key.Domain, key.Scope, i, err)
		}
		if rec.Fact.Domain != key.Domain || rec.Fact.Scope != key.Scope {
			return fmt.Errorf("store: regenerate %s/%s: record %d tagged %s/%s does not belong to this scope",
				key.Domain, key.Scope, i, rec.Fact.Domain, rec.Fact.Scope)
		}
	}

	// Step 2: remove the old set and insert the new one.
	m.store.replaceDerived(key, newRecs)

	// Step 3: downstream consumer. On failure restore the snapshot and
	// re-raise; never leave a partially-applied state.
	if verify != nil {
		if err := verify(m.store.DerivedForScope(key)); err != nil {
			m.store.replaceDerived(key, snapshot)
			m.logger.Warn("derived record rollback",
				"domain", key.Domain, "scope", key.Scope,
				"restored", len(snapshot), "error", err)
			return fmt.Errorf("store: regenerate %s/%s: rolled back: %w", key.Domain, key.Scope, err)
		}
	}

	m.logger.Info("derived records regenerated",
		"domain", key.Domain, "scope", key.Scope,
		"previous", len(snapshot), "current", len(newRecs))
	return nil
}

func (m *Merger) scopeLock(key model.ScopeKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
