// Package persist round-trips a run's evidence store to durable storage.
// Two backends are provided: PostgreSQL for shared deployments and SQLite
// for single-operator use. Both snapshot a whole store and restore it with
// the same validation and dedupe path used during live extraction, so an
// import is idempotent.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/store"
)

// Persister snapshots and restores an evidence store.
type Persister interface {
	// Save writes a full snapshot of s. Re-saving the same store replaces
	// records in place; nothing is duplicated.
	Save(ctx context.Context, s *store.Store) error

	// Load imports every persisted record into s through the store's normal
	// add path, so validation and duplicate short-circuits still apply.
	// Derived records are restored through an atomic per-scope replace.
	Load(ctx context.Context, s *store.Store) error

	// Close releases the backend's resources.
	Close() error
}

// restoreRecords pushes loaded rows through the store's add path. Duplicates
// are expected when loading into a non-empty store and are skipped.
func restoreRecords(s *store.Store, logger *slog.Logger, facts []model.Fact, gaps []model.Gap, findings []model.Finding) error {
	for _, f := range facts {
		if _, err := s.AddFact(f); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				logger.Debug("load: skipping duplicate fact", "item", f.Item)
				continue
			}
			return fmt.Errorf("persist: restore fact: %w", err)
		}
	}
	for _, g := range gaps {
		if _, err := s.AddGap(g); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return fmt.Errorf("persist: restore gap: %w", err)
		}
	}
	for _, f := range findings {
		if _, err := s.AddFinding(f); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return fmt.Errorf("persist: restore finding: %w", err)
		}
	}
	return nil
}

// restoreDerived replaces each scope's derived records through the merger so
// the atomic-replacement invariant holds on import too.
func restoreDerived(ctx context.Context, s *store.Store, logger *slog.Logger, derived map[model.ScopeKey][]model.DerivedRecord) error {
	m := store.NewMerger(s, logger)
	for key, recs := range derived {
		recs := recs
		err := m.Regenerate(ctx, key, func(context.Context) ([]model.DerivedRecord, error) {
			return recs, nil
		}, nil)
		if err != nil {
			return fmt.Errorf("persist: restore derived %s/%s: %w", key.Domain, key.Scope, err)
		}
	}
	return nil
}

func marshalAttrs(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return json.Marshal(attrs)
}

func unmarshalAttrs(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func marshalIDs(ids []uuid.UUID) ([]byte, error) {
	return json.Marshal(ids)
}

func unmarshalIDs(raw []byte) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
