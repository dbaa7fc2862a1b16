// Package chosa is the public API for embedding the Chosa document-analysis
// engine.
//
// Consumers construct an Engine and hand it the text of the documents under
// review:
//
//	engine, err := chosa.New(
//	    chosa.WithVersion(version),
//	    chosa.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer engine.Close(ctx)
//	report, err := engine.Analyze(ctx, docs)
//
// A run walks the playbook's (document, domain, scope) grid in three phases:
// extraction records facts and gaps per document, findings synthesis draws
// conclusions from the merged facts, and gap analysis derives estimates for
// what the documents never said.
//
// The import graph enforces a strict no-cycle rule: chosa (root) imports
// internal/*, but internal/* never imports chosa (root). Public types (Fact,
// Finding, etc.) are standalone structs with no internal imports; conversion
// helpers live here because this is the only file that sees both sides of the
// boundary.
package chosa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/chosa/internal/agent"
	"github.com/ashita-ai/chosa/internal/breaker"
	"github.com/ashita-ai/chosa/internal/config"
	"github.com/ashita-ai/chosa/internal/derive"
	"github.com/ashita-ai/chosa/internal/gateway"
	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/persist"
	"github.com/ashita-ai/chosa/internal/ratelimit"
	"github.com/ashita-ai/chosa/internal/scheduler"
	"github.com/ashita-ai/chosa/internal/store"
	"github.com/ashita-ai/chosa/internal/telemetry"
)

const extractionSystem = `You are reviewing data-room documents for a due-diligence engagement.
Work through the document systematically. Record every material fact with
record_fact, quoting the supporting passage. Record expected-but-missing
information with record_gap. Stay inside the domain and categories you were
given. Call complete_extraction when the document is exhausted.`

const findingsSystem = `You are synthesizing due-diligence findings from recorded facts.
Each finding must cite the fact ids it rests on. Record risks, work items,
recommendations, and strategic notes with record_finding. Do not invent facts.
Call complete_findings when every supportable finding is recorded.`

// Engine is the analysis lifecycle. Construct with New(), run with Analyze().
// Engine has no public fields — use New() options to configure it.
type Engine struct {
	cfg          config.Config
	playbook     config.Playbook
	gw           gateway.Gateway
	limiter      ratelimit.Limiter
	brk          *breaker.Breaker
	sched        *scheduler.Scheduler
	persister    persist.Persister
	otelShutdown func(context.Context) error
	costFn       CostFn
	logger       *slog.Logger
	version      string
}

// New initialises the engine: loads configuration and the playbook, wires the
// gateway behind the rate limiter and circuit breaker, and opens the
// persistence backend. It starts no goroutines.
func New(opts ...Option) (*Engine, error) {
	// Load .env if present, before config reads the environment.
	_ = godotenv.Load()

	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("chosa: %w", err)
	}
	if o.playbookPath != "" {
		cfg.PlaybookPath = o.playbookPath
	}
	if o.batchSize > 0 {
		cfg.BatchSize = o.batchSize
	}
	if o.maxIter > 0 {
		cfg.MaxIterations = o.maxIter
	}
	if o.sqlitePath != "" {
		cfg.PersistBackend = "sqlite"
		cfg.SQLitePath = o.sqlitePath
	}
	if o.databaseURL != "" {
		cfg.PersistBackend = "postgres"
		cfg.DatabaseURL = o.databaseURL
	}
	if o.persistOff {
		cfg.PersistBackend = "none"
	}

	playbook, err := config.LoadPlaybook(cfg.PlaybookPath)
	if err != nil {
		return nil, fmt.Errorf("chosa: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		playbook: playbook,
		costFn:   o.costFn,
		logger:   o.logger,
		version:  o.version,
	}

	if cfg.OTELEndpoint != "" {
		shutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, o.version, true)
		if err != nil {
			return nil, fmt.Errorf("chosa: init telemetry: %w", err)
		}
		e.otelShutdown = shutdown
	}

	if o.provider != nil {
		e.gw = &providerAdapter{provider: o.provider}
	} else {
		e.gw = gateway.NewHTTPClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.Model)
	}

	e.limiter = ratelimit.NewSlidingLimiter(cfg.MaxConcurrentCalls, cfg.CallsPerMinute)
	e.brk = breaker.New("inference", breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.BreakerCooldown,
		IsExpected:       gateway.IsTransient,
	}, o.logger)
	e.sched = scheduler.New(cfg.BatchSize, o.logger)

	switch cfg.PersistBackend {
	case "sqlite":
		e.persister, err = persist.NewSQLite(context.Background(), cfg.SQLitePath, o.logger)
	case "postgres":
		e.persister, err = persist.NewPostgres(context.Background(), cfg.DatabaseURL, o.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("chosa: open persistence: %w", err)
	}

	return e, nil
}

// Analyze runs the full review over docs and returns the report. Individual
// task failures are reported in the summary, not raised; Analyze fails only
// when the run as a whole cannot proceed.
func (e *Engine) Analyze(ctx context.Context, docs []Document) (*Report, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("chosa: no documents to analyze")
	}
	runID := uuid.New()
	started := time.Now()
	target := store.New(e.logger)
	summary := RunSummary{RunID: runID, StartedAt: started}

	e.logger.Info("run starting",
		"run_id", runID,
		"documents", len(docs),
		"domains", len(e.playbook.Domains),
		"scopes", len(e.playbook.Scopes),
		"version", e.version)

	// Phase 1: extraction. One task per (document, domain, scope), private
	// stores merged by the scheduler.
	outcomes, err := e.sched.Run(ctx, target, e.extractionTasks(docs))
	e.recordOutcomes(&summary, outcomes)
	if err != nil {
		return e.buildReport(target, &summary, started), fmt.Errorf("chosa: extraction: %w", err)
	}

	// Phase 2: findings synthesis over the merged store, per (domain, scope).
	// Findings cite fact ids, so this phase must see every sibling's facts.
	for _, key := range e.scopeKeys() {
		res, err := e.runFindings(ctx, target, key)
		e.recordResult(&summary, res, err)
		if err != nil && ctx.Err() != nil {
			return e.buildReport(target, &summary, started), fmt.Errorf("chosa: findings: %w", err)
		}
	}

	// Phase 3: gap analysis. Derived records replace wholesale per scope.
	gen := derive.NewGenerator(e.gw, e.limiter, e.brk, e.cfg.MaxIterations, e.logger)
	merger := store.NewMerger(target, e.logger)
	for _, key := range e.scopeKeys() {
		if err := gen.Regenerate(ctx, target, merger, key, runID); err != nil {
			e.logger.Warn("gap analysis failed for scope",
				"domain", key.Domain, "scope", key.Scope, "error", err)
			summary.Failed++
			if ctx.Err() != nil {
				return e.buildReport(target, &summary, started), fmt.Errorf("chosa: gap analysis: %w", err)
			}
		}
	}

	if e.persister != nil {
		if err := e.persister.Save(ctx, target); err != nil {
			return e.buildReport(target, &summary, started), fmt.Errorf("chosa: persist run: %w", err)
		}
	}

	report := e.buildReport(target, &summary, started)
	e.logger.Info("run finished",
		"run_id", runID,
		"facts", len(report.Facts),
		"gaps", len(report.Gaps),
		"findings", len(report.Findings),
		"inferences", len(report.Inferences),
		"failed_tasks", summary.Failed,
		"elapsed", report.Summary.Elapsed)
	return report, nil
}

// LoadReport rebuilds a report from the persistence backend, without running
// any analysis. The summary carries no task detail.
func (e *Engine) LoadReport(ctx context.Context) (*Report, error) {
	if e.persister == nil {
		return nil, fmt.Errorf("chosa: persistence is disabled")
	}
	s := store.New(e.logger)
	if err := e.persister.Load(ctx, s); err != nil {
		return nil, fmt.Errorf("chosa: %w", err)
	}
	return e.buildReport(s, &RunSummary{}, time.Now()), nil
}

// Close releases the persistence backend and flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.persister != nil {
		if err := e.persister.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.otelShutdown != nil {
		if err := e.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) extractionTasks(docs []Document) []scheduler.Task {
	var tasks []scheduler.Task
	for _, doc := range docs {
		for _, domain := range e.playbook.Domains {
			for _, scope := range e.playbook.Scopes {
				name := fmt.Sprintf("extract:%s:%s/%s", doc.Name, domain.Name, scope)
				tasks = append(tasks, scheduler.Task{
					Name: name,
					Run: func(ctx context.Context, private *store.Store) (agent.Result, error) {
						reg, err := agent.ExtractionTools(private, agent.TaskScope{
							Domain:    domain.Name,
							Scope:     model.Scope(scope),
							SourceDoc: doc.Name,
						})
						if err != nil {
							return agent.Result{}, err
						}
						loop, err := e.newLoop(name, extractionSystem, reg)
						if err != nil {
							return agent.Result{}, err
						}
						return loop.Run(ctx, extractionSeed(doc, domain, scope))
					},
				})
			}
		}
	}
	return tasks
}

func (e *Engine) runFindings(ctx context.Context, target *store.Store, key model.ScopeKey) (agent.Result, error) {
	name := fmt.Sprintf("findings:%s/%s", key.Domain, key.Scope)
	reg, err := agent.FindingTools(target, agent.TaskScope{
		Domain: key.Domain,
		Scope:  key.Scope,
	})
	if err != nil {
		return agent.Result{}, err
	}
	loop, err := e.newLoop(name, findingsSystem, reg)
	if err != nil {
		return agent.Result{}, err
	}
	return loop.Run(ctx, findingsSeed(target, key))
}

func (e *Engine) newLoop(name, system string, reg *agent.Registry) (*agent.Loop, error) {
	return agent.NewLoop(e.gw, e.limiter, e.brk, agent.Config{
		Name:          name,
		System:        system,
		Registry:      reg,
		MaxIterations: e.cfg.MaxIterations,
		MaxRetries:    e.cfg.MaxRetries,
		Temperature:   float32(e.cfg.Temperature),
		MaxTokens:     e.cfg.MaxTokens,
	}, e.logger)
}

func (e *Engine) scopeKeys() []model.ScopeKey {
	var keys []model.ScopeKey
	for _, domain := range e.playbook.Domains {
		for _, scope := range e.playbook.Scopes {
			keys = append(keys, model.ScopeKey{Domain: domain.Name, Scope: model.Scope(scope)})
		}
	}
	return keys
}

func (e *Engine) recordOutcomes(summary *RunSummary, outcomes []scheduler.Outcome) {
	for _, out := range outcomes {
		e.recordResult(summary, out.Result, out.Err)
	}
}

func (e *Engine) recordResult(summary *RunSummary, res agent.Result, err error) {
	tr := TaskReport{
		Name:       res.Name,
		Complete:   res.Complete,
		Iterations: res.Iterations,
		Applied:    res.Applied,
		Duplicates: res.Duplicates,
		Errors:     res.Errors,
	}
	switch {
	case err != nil:
		tr.Failed = err.Error()
		summary.Failed++
	case res.Complete:
		summary.Completed++
	default:
		summary.Incomplete++
	}
	summary.InputTokens += res.Usage.InputTokens
	summary.OutputTokens += res.Usage.OutputTokens
	summary.Tasks = append(summary.Tasks, tr)
}

func extractionSeed(doc Document, domain config.Domain, scope model.Scope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\nDomain: %s\nScope: the %s company\nExpected categories: %s\n",
		doc.Name, domain.Name, scope, strings.Join(domain.Categories, ", "))
	if domain.Guidance != "" {
		fmt.Fprintf(&b, "Guidance: %s\n", domain.Guidance)
	}
	fmt.Fprintf(&b, "\n--- DOCUMENT TEXT ---\n%s\n", doc.Text)
	return b.String()
}

func findingsSeed(s *store.Store, key model.ScopeKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\nScope: the %s company\n\nRecorded facts (cite by id):\n", key.Domain, key.Scope)
	n := 0
	for _, f := range s.Facts() {
		if f.Domain != key.Domain || f.Scope != key.Scope || f.Status != model.StatusActive {
			continue
		}
		n++
		fmt.Fprintf(&b, "- %s [%s] %s (evidence: %q)\n", f.ID, f.Category, f.Item, f.Evidence.Quote)
	}
	if n == 0 {
		b.WriteString("(none)\n")
	}
	b.WriteString("\nRecorded gaps:\n")
	n = 0
	for _, g := range s.Gaps() {
		if g.Domain != key.Domain || g.Scope != key.Scope {
			continue
		}
		n++
		fmt.Fprintf(&b, "- [%s, %s] %s\n", g.Category, g.Importance, g.Description)
	}
	if n == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}

// buildReport converts the internal store into public report types.
func (e *Engine) buildReport(s *store.Store, summary *RunSummary, started time.Time) *Report {
	summary.Elapsed = time.Since(started)
	if e.costFn != nil {
		summary.EstimatedCost = e.costFn(summary.InputTokens, summary.OutputTokens)
	}
	report := &Report{Summary: *summary}
	for _, f := range s.Facts() {
		report.Facts = append(report.Facts, toPublicFact(f))
	}
	for _, g := range s.Gaps() {
		report.Gaps = append(report.Gaps, Gap{
			ID:          g.ID,
			Domain:      g.Domain,
			Category:    g.Category,
			Description: g.Description,
			Importance:  string(g.Importance),
			Scope:       Scope(g.Scope),
			CreatedAt:   g.CreatedAt,
		})
	}
	for _, f := range s.Findings() {
		report.Findings = append(report.Findings, Finding{
			ID:        f.ID,
			Kind:      string(f.Kind),
			Domain:    f.Domain,
			Title:     f.Title,
			Detail:    f.Detail,
			Severity:  string(f.Severity),
			FactIDs:   f.FactIDs,
			Scope:     Scope(f.Scope),
			CreatedAt: f.CreatedAt,
		})
	}
	for _, recs := range s.Derived() {
		for _, rec := range recs {
			report.Inferences = append(report.Inferences, Inference{
				Fact:        toPublicFact(rec.Fact),
				RunID:       rec.RunID,
				GeneratedAt: rec.GeneratedAt,
			})
		}
	}
	return report
}

func toPublicFact(f model.Fact) Fact {
	return Fact{
		ID:           f.ID,
		Domain:       f.Domain,
		Category:     f.Category,
		Item:         f.Item,
		Attributes:   f.Attributes,
		Quote:        f.Evidence.Quote,
		EvidenceType: string(f.Evidence.Type),
		Confidence:   string(f.Evidence.Confidence),
		Scope:        Scope(f.Scope),
		SourceDoc:    f.SourceDoc,
		Status:       string(f.Status),
		CreatedAt:    f.CreatedAt,
	}
}

// providerAdapter bridges a public InferenceProvider to the internal gateway
// contract, classifying its errors for retry policy.
type providerAdapter struct {
	provider InferenceProvider
}

func (a *providerAdapter) Complete(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	preq := InferenceRequest{
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, t := range req.Tools {
		preq.Tools = append(preq.Tools, ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	for _, m := range req.Transcript {
		msg := ChatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolInvocation{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		preq.Messages = append(preq.Messages, msg)
	}

	presp, err := a.provider.Complete(ctx, preq)
	if err != nil {
		return gateway.Response{}, classifyProviderError(err)
	}

	resp := gateway.Response{
		Segments: presp.Segments,
		Usage: model.TokenUsage{
			InputTokens:  presp.InputTokens,
			OutputTokens: presp.OutputTokens,
		},
	}
	for _, tc := range presp.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, gateway.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return resp, nil
}

func classifyProviderError(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		kind := gateway.ErrorKind(pe.Kind)
		switch kind {
		case gateway.KindRateLimited, gateway.KindTransient, gateway.KindInvalidRequest:
		default:
			kind = gateway.KindTransient
		}
		return &gateway.Error{Kind: kind, Status: pe.Status, Message: pe.Message, Err: err}
	}
	return &gateway.Error{Kind: gateway.KindTransient, Message: err.Error(), Err: err}
}
