package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	item TEXT NOT NULL,
	attributes TEXT NOT NULL DEFAULT '{}',
	evidence_quote TEXT NOT NULL,
	evidence_type TEXT NOT NULL,
	confidence TEXT NOT NULL,
	scope TEXT NOT NULL,
	source_doc TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS gaps (
	id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	description TEXT NOT NULL,
	importance TEXT NOT NULL,
	scope TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	domain TEXT NOT NULL,
	title TEXT NOT NULL,
	detail TEXT NOT NULL,
	severity TEXT NOT NULL,
	fact_ids TEXT NOT NULL DEFAULT '[]',
	scope TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS derived_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	item TEXT NOT NULL,
	attributes TEXT NOT NULL DEFAULT '{}',
	evidence_quote TEXT NOT NULL,
	evidence_type TEXT NOT NULL,
	confidence TEXT NOT NULL,
	scope TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS derived_records_scope_idx ON derived_records (domain, scope);
`

// SQLite persists stores in a local SQLite file. Timestamps and uuids are
// stored as text; attributes and citation lists as JSON.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an ephemeral database.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite: %w", err)
	}
	// The driver is cgo-free but still single-writer; one connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: ensure schema: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// Save writes a full snapshot of s in one transaction, upserting on id.
func (q *SQLite) Save(ctx context.Context, s *store.Store) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, f := range s.Facts() {
		attrs, err := marshalAttrs(f.Attributes)
		if err != nil {
			return fmt.Errorf("persist: encode fact attributes: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO facts (id, domain, category, item, attributes, evidence_quote,
			 evidence_type, confidence, scope, source_doc, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			 attributes = excluded.attributes, status = excluded.status`,
			f.ID.String(), f.Domain, f.Category, f.Item, string(attrs), f.Evidence.Quote,
			string(f.Evidence.Type), string(f.Evidence.Confidence),
			string(f.Scope), f.SourceDoc, string(f.Status), f.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("persist: save fact: %w", err)
		}
	}

	for _, g := range s.Gaps() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO gaps (id, domain, category, description, importance, scope, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET importance = excluded.importance`,
			g.ID.String(), g.Domain, g.Category, g.Description, string(g.Importance),
			string(g.Scope), g.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("persist: save gap: %w", err)
		}
	}

	for _, f := range s.Findings() {
		ids, err := marshalIDs(f.FactIDs)
		if err != nil {
			return fmt.Errorf("persist: encode finding citations: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO findings (id, kind, domain, title, detail, severity, fact_ids,
			 scope, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			 detail = excluded.detail, severity = excluded.severity, status = excluded.status`,
			f.ID.String(), string(f.Kind), f.Domain, f.Title, f.Detail, string(f.Severity),
			string(ids), string(f.Scope), string(f.Status), f.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("persist: save finding: %w", err)
		}
	}

	for key, recs := range s.Derived() {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM derived_records WHERE domain = ? AND scope = ?`,
			key.Domain, string(key.Scope))
		if err != nil {
			return fmt.Errorf("persist: clear derived %s/%s: %w", key.Domain, key.Scope, err)
		}
		for _, rec := range recs {
			attrs, err := marshalAttrs(rec.Fact.Attributes)
			if err != nil {
				return fmt.Errorf("persist: encode derived attributes: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO derived_records (id, run_id, generated_at, domain, category, item,
				 attributes, evidence_quote, evidence_type, confidence, scope, status, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.Fact.ID.String(), rec.RunID.String(),
				rec.GeneratedAt.UTC().Format(time.RFC3339Nano),
				rec.Fact.Domain, rec.Fact.Category, rec.Fact.Item, string(attrs),
				rec.Fact.Evidence.Quote, string(rec.Fact.Evidence.Type),
				string(rec.Fact.Evidence.Confidence), string(rec.Fact.Scope),
				string(rec.Fact.Status), rec.Fact.CreatedAt.UTC().Format(time.RFC3339Nano),
			)
			if err != nil {
				return fmt.Errorf("persist: save derived record: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit: %w", err)
	}
	facts, gaps, findings, derived := s.Counts()
	q.logger.Info("store snapshot saved",
		"facts", facts, "gaps", gaps, "findings", findings, "derived", derived)
	return nil
}

// Load imports every persisted record into s.
func (q *SQLite) Load(ctx context.Context, s *store.Store) error {
	facts, err := q.loadFacts(ctx)
	if err != nil {
		return err
	}
	gaps, err := q.loadGaps(ctx)
	if err != nil {
		return err
	}
	findings, err := q.loadFindings(ctx)
	if err != nil {
		return err
	}
	if err := restoreRecords(s, q.logger, facts, gaps, findings); err != nil {
		return err
	}

	derived, err := q.loadDerived(ctx)
	if err != nil {
		return err
	}
	return restoreDerived(ctx, s, q.logger, derived)
}

// Close closes the database.
func (q *SQLite) Close() error {
	return q.db.Close()
}

func (q *SQLite) loadFacts(ctx context.Context) ([]model.Fact, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, domain, category, item, attributes, evidence_quote, evidence_type,
		 confidence, scope, source_doc, status, created_at
		 FROM facts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("persist: load facts: %w", err)
	}
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		var f model.Fact
		var id, evType, conf, scope, status, createdAt string
		var attrs []byte
		if err := rows.Scan(&id, &f.Domain, &f.Category, &f.Item, &attrs,
			&f.Evidence.Quote, &evType, &conf, &scope, &f.SourceDoc, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("persist: scan fact: %w", err)
		}
		if f.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("persist: fact id: %w", err)
		}
		if f.Attributes, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("persist: decode fact attributes: %w", err)
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("persist: fact created_at: %w", err)
		}
		f.Evidence.Type = model.EvidenceType(evType)
		f.Evidence.Confidence = model.Confidence(conf)
		f.Scope = model.Scope(scope)
		f.Status = model.RecordStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (q *SQLite) loadGaps(ctx context.Context) ([]model.Gap, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, domain, category, description, importance, scope, created_at
		 FROM gaps ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("persist: load gaps: %w", err)
	}
	defer rows.Close()

	var out []model.Gap
	for rows.Next() {
		var g model.Gap
		var id, importance, scope, createdAt string
		if err := rows.Scan(&id, &g.Domain, &g.Category, &g.Description,
			&importance, &scope, &createdAt); err != nil {
			return nil, fmt.Errorf("persist: scan gap: %w", err)
		}
		if g.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("persist: gap id: %w", err)
		}
		if g.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("persist: gap created_at: %w", err)
		}
		g.Importance = model.Importance(importance)
		g.Scope = model.Scope(scope)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q *SQLite) loadFindings(ctx context.Context) ([]model.Finding, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, kind, domain, title, detail, severity, fact_ids, scope, status, created_at
		 FROM findings ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("persist: load findings: %w", err)
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var f model.Finding
		var id, kind, severity, scope, status, createdAt string
		var ids []byte
		if err := rows.Scan(&id, &kind, &f.Domain, &f.Title, &f.Detail,
			&severity, &ids, &scope, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("persist: scan finding: %w", err)
		}
		if f.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("persist: finding id: %w", err)
		}
		if f.FactIDs, err = unmarshalIDs(ids); err != nil {
			return nil, fmt.Errorf("persist: decode finding citations: %w", err)
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("persist: finding created_at: %w", err)
		}
		f.Kind = model.FindingKind(kind)
		f.Severity = model.Importance(severity)
		f.Scope = model.Scope(scope)
		f.Status = model.RecordStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (q *SQLite) loadDerived(ctx context.Context) (map[model.ScopeKey][]model.DerivedRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, run_id, generated_at, domain, category, item, attributes,
		 evidence_quote, evidence_type, confidence, scope, status, created_at
		 FROM derived_records ORDER BY generated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("persist: load derived: %w", err)
	}
	defer rows.Close()

	out := make(map[model.ScopeKey][]model.DerivedRecord)
	for rows.Next() {
		var rec model.DerivedRecord
		var id, runID, generatedAt, evType, conf, scope, status, createdAt string
		var attrs []byte
		if err := rows.Scan(&id, &runID, &generatedAt, &rec.Fact.Domain,
			&rec.Fact.Category, &rec.Fact.Item, &attrs, &rec.Fact.Evidence.Quote,
			&evType, &conf, &scope, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("persist: scan derived: %w", err)
		}
		if rec.Fact.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("persist: derived id: %w", err)
		}
		if rec.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("persist: derived run id: %w", err)
		}
		if rec.GeneratedAt, err = time.Parse(time.RFC3339Nano, generatedAt); err != nil {
			return nil, fmt.Errorf("persist: derived generated_at: %w", err)
		}
		if rec.Fact.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("persist: derived created_at: %w", err)
		}
		if rec.Fact.Attributes, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("persist: decode derived attributes: %w", err)
		}
		rec.Fact.Evidence.Type = model.EvidenceType(evType)
		rec.Fact.Evidence.Confidence = model.Confidence(conf)
		rec.Fact.Scope = model.Scope(scope)
		rec.Fact.Status = model.RecordStatus(status)
		key := model.ScopeKey{Domain: rec.Fact.Domain, Scope: rec.Fact.Scope}
		out[key] = append(out[key], rec)
	}
	return out, rows.Err()
}

var _ Persister = (*SQLite)(nil)
