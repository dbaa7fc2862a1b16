package persist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/store"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS facts (
	id UUID PRIMARY KEY,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	item TEXT NOT NULL,
	attributes JSONB NOT NULL DEFAULT '{}',
	evidence_quote TEXT NOT NULL,
	evidence_type TEXT NOT NULL,
	confidence TEXT NOT NULL,
	scope TEXT NOT NULL,
	source_doc TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS gaps (
	id UUID PRIMARY KEY,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	description TEXT NOT NULL,
	importance TEXT NOT NULL,
	scope TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	domain TEXT NOT NULL,
	title TEXT NOT NULL,
	detail TEXT NOT NULL,
	severity TEXT NOT NULL,
	fact_ids JSONB NOT NULL DEFAULT '[]',
	scope TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS derived_records (
	id UUID PRIMARY KEY,
	run_id UUID NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	item TEXT NOT NULL,
	attributes JSONB NOT NULL DEFAULT '{}',
	evidence_quote TEXT NOT NULL,
	evidence_type TEXT NOT NULL,
	confidence TEXT NOT NULL,
	scope TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS derived_records_scope_idx ON derived_records (domain, scope);
`

// Postgres persists stores in a PostgreSQL database through a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool, pings it, and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persist: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ensure schema: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Save writes a full snapshot of s in one transaction. Records upsert on id;
// each scope's derived records are replaced wholesale.
func (p *Postgres) Save(ctx context.Context, s *store.Store) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persist: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	for _, f := range s.Facts() {
		attrs, err := marshalAttrs(f.Attributes)
		if err != nil {
			return fmt.Errorf("persist: encode fact attributes: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO facts (id, domain, category, item, attributes, evidence_quote,
			 evidence_type, confidence, scope, source_doc, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (id) DO UPDATE SET
			 attributes = EXCLUDED.attributes, status = EXCLUDED.status`,
			f.ID, f.Domain, f.Category, f.Item, attrs, f.Evidence.Quote,
			string(f.Evidence.Type), string(f.Evidence.Confidence),
			string(f.Scope), f.SourceDoc, string(f.Status), f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("persist: save fact: %w", err)
		}
	}

	for _, g := range s.Gaps() {
		_, err := tx.Exec(ctx,
			`INSERT INTO gaps (id, domain, category, description, importance, scope, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET importance = EXCLUDED.importance`,
			g.ID, g.Domain, g.Category, g.Description, string(g.Importance),
			string(g.Scope), g.CreatedAt,
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
		_, err = tx.Exec(ctx,
			`INSERT INTO findings (id, kind, domain, title, detail, severity, fact_ids,
			 scope, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO UPDATE SET
			 detail = EXCLUDED.detail, severity = EXCLUDED.severity, status = EXCLUDED.status`,
			f.ID, string(f.Kind), f.Domain, f.Title, f.Detail, string(f.Severity),
			ids, string(f.Scope), string(f.Status), f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("persist: save finding: %w", err)
		}
	}

	for key, recs := range s.Derived() {
		_, err := tx.Exec(ctx,
			`DELETE FROM derived_records WHERE domain = $1 AND scope = $2`,
			key.Domain, string(key.Scope))
		if err != nil {
			return fmt.Errorf("persist: clear derived %s/%s: %w", key.Domain, key.Scope, err)
		}
		for _, rec := range recs {
			attrs, err := marshalAttrs(rec.Fact.Attributes)
			if err != nil {
				return fmt.Errorf("persist: encode derived attributes: %w", err)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO derived_records (id, run_id, generated_at, domain, category, item,
				 attributes, evidence_quote, evidence_type, confidence, scope, status, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				rec.Fact.ID, rec.RunID, rec.GeneratedAt, rec.Fact.Domain, rec.Fact.Category,
				rec.Fact.Item, attrs, rec.Fact.Evidence.Quote, string(rec.Fact.Evidence.Type),
				string(rec.Fact.Evidence.Confidence), string(rec.Fact.Scope),
				string(rec.Fact.Status), rec.Fact.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("persist: save derived record: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persist: commit: %w", err)
	}
	facts, gaps, findings, derived := s.Counts()
	p.logger.Info("store snapshot saved",
		"facts", facts, "gaps", gaps, "findings", findings, "derived", derived)
	return nil
}

// Load imports every persisted record into s.
func (p *Postgres) Load(ctx context.Context, s *store.Store) error {
	facts, err := p.loadFacts(ctx)
	if err != nil {
		return err
	}
	gaps, err := p.loadGaps(ctx)
	if err != nil {
		return err
	}
	findings, err := p.loadFindings(ctx)
	if err != nil {
		return err
	}
	if err := restoreRecords(s, p.logger, facts, gaps, findings); err != nil {
		return err
	}

	derived, err := p.loadDerived(ctx)
	if err != nil {
		return err
	}
	return restoreDerived(ctx, s, p.logger, derived)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) loadFacts(ctx context.Context) ([]model.Fact, error) {
	rows, err := p.pool.Query(ctx,
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
		var attrs []byte
		var evType, conf, scope, status string
		if err := rows.Scan(&f.ID, &f.Domain, &f.Category, &f.Item, &attrs,
			&f.Evidence.Quote, &evType, &conf, &scope, &f.SourceDoc, &status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("persist: scan fact: %w", err)
		}
		if f.Attributes, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("persist: decode fact attributes: %w", err)
		}
		f.Evidence.Type = model.EvidenceType(evType)
		f.Evidence.Confidence = model.Confidence(conf)
		f.Scope = model.Scope(scope)
		f.Status = model.RecordStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) loadGaps(ctx context.Context) ([]model.Gap, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, domain, category, description, importance, scope, created_at
		 FROM gaps ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("persist: load gaps: %w", err)
	}
	defer rows.Close()

	var out []model.Gap
	for rows.Next() {
		var g model.Gap
		var importance, scope string
		if err := rows.Scan(&g.ID, &g.Domain, &g.Category, &g.Description,
			&importance, &scope, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("persist: scan gap: %w", err)
		}
		g.Importance = model.Importance(importance)
		g.Scope = model.Scope(scope)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) loadFindings(ctx context.Context) ([]model.Finding, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, kind, domain, title, detail, severity, fact_ids, scope, status, created_at
		 FROM findings ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("persist: load findings: %w", err)
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var f model.Finding
		var kind, severity, scope, status string
		var ids []byte
		if err := rows.Scan(&f.ID, &kind, &f.Domain, &f.Title, &f.Detail,
			&severity, &ids, &scope, &status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("persist: scan finding: %w", err)
		}
		if f.FactIDs, err = unmarshalIDs(ids); err != nil {
			return nil, fmt.Errorf("persist: decode finding citations: %w", err)
		}
		f.Kind = model.FindingKind(kind)
		f.Severity = model.Importance(severity)
		f.Scope = model.Scope(scope)
		f.Status = model.RecordStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) loadDerived(ctx context.Context) (map[model.ScopeKey][]model.DerivedRecord, error) {
	rows, err := p.pool.Query(ctx,
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
		var attrs []byte
		var evType, conf, scope, status string
		var id, runID uuid.UUID
		if err := rows.Scan(&id, &runID, &rec.GeneratedAt, &rec.Fact.Domain,
			&rec.Fact.Category, &rec.Fact.Item, &attrs, &rec.Fact.Evidence.Quote,
			&evType, &conf, &scope, &status, &rec.Fact.CreatedAt); err != nil {
			return nil, fmt.Errorf("persist: scan derived: %w", err)
		}
		rec.Fact.ID = id
		rec.RunID = runID
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

var _ Persister = (*Postgres)(nil)
