package chosa

import "log/slog"

// Option configures an Engine.
type Option func(*resolvedOptions)

// CostFn estimates the monetary cost of a run from its token totals.
type CostFn func(inputTokens, outputTokens int) float64

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger       *slog.Logger
	version      string
	provider     InferenceProvider
	playbookPath string
	batchSize    int
	maxIter      int
	persistOff   bool
	sqlitePath   string
	databaseURL  string
	costFn       CostFn
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithProvider replaces the built-in OpenAI-compatible HTTP client with a
// custom inference provider. Only the last call wins.
func WithProvider(p InferenceProvider) Option {
	return func(o *resolvedOptions) { o.provider = p }
}

// WithPlaybookPath overrides the playbook file from config (CHOSA_PLAYBOOK
// env var).
func WithPlaybookPath(path string) Option {
	return func(o *resolvedOptions) { o.playbookPath = path }
}

// WithBatchSize overrides the number of tasks run concurrently
// (CHOSA_BATCH_SIZE env var).
func WithBatchSize(n int) Option {
	return func(o *resolvedOptions) { o.batchSize = n }
}

// WithMaxIterations overrides the per-task iteration ceiling
// (CHOSA_MAX_ITERATIONS env var).
func WithMaxIterations(n int) Option {
	return func(o *resolvedOptions) { o.maxIter = n }
}

// WithoutPersistence disables the durable snapshot after a run; results are
// available only on the returned Report.
func WithoutPersistence() Option {
	return func(o *resolvedOptions) { o.persistOff = true }
}

// WithSQLitePath selects the sqlite backend at the given path
// (CHOSA_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithDatabaseURL selects the postgres backend with the given DSN
// (DATABASE_URL env var).
func WithDatabaseURL(dsn string) Option {
	return func(o *resolvedOptions) { o.databaseURL = dsn }
}

// WithCostFn sets the cost function applied to a run's token totals. The
// result appears as EstimatedCost on the run summary.
func WithCostFn(fn CostFn) Option {
	return func(o *resolvedOptions) { o.costFn = fn }
}
