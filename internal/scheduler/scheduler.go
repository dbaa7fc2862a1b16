// Package scheduler fans a run's analysis tasks out in fixed-size batches.
// Tasks inside a batch run concurrently, batches run sequentially, and every
// task writes into a private store so a failing task cannot corrupt its
// siblings. Only the stores of successful tasks are merged into the target.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/chosa/internal/agent"
	"github.com/ashita-ai/chosa/internal/store"
)

// DefaultBatchSize bounds concurrent tasks when the caller does not choose.
const DefaultBatchSize = 3

// Task is one unit of analysis work. Run receives a private store that is
// merged into the run's target store only if Run returns nil.
type Task struct {
	Name string
	Run  func(ctx context.Context, s *store.Store) (agent.Result, error)
}

// Outcome reports one task's fate. Err is set for failed tasks; their partial
// stores are discarded.
type Outcome struct {
	Task    string
	Result  agent.Result
	Err     error
	Elapsed time.Duration
}

// Scheduler runs tasks in batches against a shared target store.
type Scheduler struct {
	batchSize int
	logger    *slog.Logger
}

// New creates a scheduler. batchSize values below 1 fall back to the default.
func New(batchSize int, logger *slog.Logger) *Scheduler {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{batchSize: batchSize, logger: logger}
}

// Run executes tasks in submission order, batchSize at a time. A task failure
// is recorded in its outcome and never blocks or cancels its siblings; later
// batches still run. Successful task stores merge into target in submission
// order, after the whole batch has finished, so merge results are
// deterministic regardless of task timing. Run stops early only when ctx is
// done, returning the outcomes collected so far.
func (s *Scheduler) Run(ctx context.Context, target *store.Store, tasks []Task) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(tasks))

	for start := 0; start < len(tasks); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("scheduler: run aborted: %w", err)
		}

		end := min(start+s.batchSize, len(tasks))
		batch := tasks[start:end]
		s.logger.Info("starting batch",
			"batch", start/s.batchSize+1,
			"tasks", len(batch),
			"completed", start,
			"total", len(tasks))

		batchOutcomes := make([]Outcome, len(batch))
		stores := make([]*store.Store, len(batch))

		var wg sync.WaitGroup
		for i, task := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				begun := time.Now()
				private := store.New(s.logger)
				stores[i] = private

				res, err := task.Run(ctx, private)
				batchOutcomes[i] = Outcome{
					Task:    task.Name,
					Result:  res,
					Err:     err,
					Elapsed: time.Since(begun),
				}
			}()
		}
		wg.Wait()

		for i, out := range batchOutcomes {
			if out.Err != nil {
				s.logger.Warn("task failed, discarding its records",
					"task", out.Task, "error", out.Err)
				continue
			}
			if err := target.Merge(stores[i]); err != nil {
				out.Err = fmt.Errorf("scheduler: merge task %s: %w", out.Task, err)
				batchOutcomes[i] = out
			}
		}
		outcomes = append(outcomes, batchOutcomes...)
	}
	return outcomes, nil
}
