package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/chosa/internal/agent"
	"github.com/ashita-ai/chosa/internal/model"
	"github.com/ashita-ai/chosa/internal/scheduler"
	"github.com/ashita-ai/chosa/internal/store"
	"github.com/ashita-ai/chosa/internal/testutil"
)

func recordingTask(name, item string) scheduler.Task {
	return scheduler.Task{
		Name: name,
		Run: func(_ context.Context, s *store.Store) (agent.Result, error) {
			_, err := s.AddFact(model.Fact{
				Domain:   "financial",
				Category: "general",
				Item:     item,
				Evidence: model.Evidence{
					Quote:      "supporting quote for " + item,
					Type:       model.EvidenceQuote,
					Confidence: model.ConfidenceMedium,
				},
				Scope:     model.ScopeTarget,
				SourceDoc: name + ".pdf",
			})
			if err != nil {
				return agent.Result{}, err
			}
			return agent.Result{Name: name, Complete: true, Applied: 1}, nil
		},
	}
}

func TestRunMergesAllSuccessfulTasks(t *testing.T) {
	target := store.New(testutil.TestLogger())
	sched := scheduler.New(3, testutil.TestLogger())

	var tasks []scheduler.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, recordingTask(
			fmt.Sprintf("task-%d", i),
			fmt.Sprintf("distinct fact number %d about the business", i)))
	}

	outcomes, err := sched.Run(context.Background(), target, tasks)
	require.NoError(t, err)
	require.Len(t, outcomes, 6)
	for _, out := range outcomes {
		assert.NoError(t, out.Err, out.Task)
	}
	facts, _, _, _ := target.Counts()
	assert.Equal(t, 6, facts)
}

func TestRunBoundsConcurrencyToBatchSize(t *testing.T) {
	target := store.New(testutil.TestLogger())
	sched := scheduler.New(3, testutil.TestLogger())

	var inFlight, peak atomic.Int32
	var tasks []scheduler.Task
	for i := 0; i < 7; i++ {
		tasks = append(tasks, scheduler.Task{
			Name: fmt.Sprintf("task-%d", i),
			Run: func(context.Context, *store.Store) (agent.Result, error) {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return agent.Result{Complete: true}, nil
			},
		})
	}

	_, err := sched.Run(context.Background(), target, tasks)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunIsolatesTaskFailures(t *testing.T) {
	target := store.New(testutil.TestLogger())
	sched := scheduler.New(3, testutil.TestLogger())

	errBoom := errors.New("gateway exploded")
	tasks := []scheduler.Task{
		recordingTask("ok-1", "facts about revenue recognition"),
		{
			Name: "doomed",
			Run: func(_ context.Context, s *store.Store) (agent.Result, error) {
				// Partial records from a failed task must never reach the target.
				_, _ = s.AddFact(model.Fact{
					Domain:   "financial",
					Category: "general",
					Item:     "poisoned partial record",
					Evidence: model.Evidence{
						Quote:      "half-written before the failure",
						Type:       model.EvidenceQuote,
						Confidence: model.ConfidenceLow,
					},
					Scope:     model.ScopeTarget,
					SourceDoc: "doomed.pdf",
				})
				return agent.Result{}, errBoom
			},
		},
		recordingTask("ok-2", "facts about customer concentration"),
	}

	outcomes, err := sched.Run(context.Background(), target, tasks)
	require.NoError(t, err, "a task failure is an outcome, not a scheduler failure")
	require.Len(t, outcomes, 3)

	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, errBoom)
	assert.NoError(t, outcomes[2].Err)

	items := make(map[string]bool)
	for _, f := range target.Facts() {
		items[f.Item] = true
	}
	assert.Len(t, items, 2)
	assert.False(t, items["poisoned partial record"])
}

func TestRunExecutesBatchesSequentially(t *testing.T) {
	target := store.New(testutil.TestLogger())
	sched := scheduler.New(2, testutil.TestLogger())

	var order []string
	done := make(chan string, 4)
	tasks := []scheduler.Task{
		{Name: "a", Run: func(context.Context, *store.Store) (agent.Result, error) {
			time.Sleep(10 * time.Millisecond)
			done <- "a"
			return agent.Result{}, nil
		}},
		{Name: "b", Run: func(context.Context, *store.Store) (agent.Result, error) {
			done <- "b"
			return agent.Result{}, nil
		}},
		{Name: "c", Run: func(context.Context, *store.Store) (agent.Result, error) {
			done <- "c"
			return agent.Result{}, nil
		}},
		{Name: "d", Run: func(context.Context, *store.Store) (agent.Result, error) {
			done <- "d"
			return agent.Result{}, nil
		}},
	}

	_, err := sched.Run(context.Background(), target, tasks)
	require.NoError(t, err)
	close(done)
	for name := range done {
		order = append(order, name)
	}

	require.Len(t, order, 4)
	// a is slow, but c and d still cannot start until the first batch ends.
	first := map[string]bool{order[0]: true, order[1]: true}
	assert.True(t, first["a"] && first["b"], "first batch finishes before the second starts, got %v", order)
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	target := store.New(testutil.TestLogger())
	sched := scheduler.New(1, testutil.TestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	tasks := []scheduler.Task{
		{Name: "first", Run: func(context.Context, *store.Store) (agent.Result, error) {
			cancel()
			return agent.Result{}, nil
		}},
		{Name: "never-runs", Run: func(context.Context, *store.Store) (agent.Result, error) {
			t.Error("task after cancellation must not run")
			return agent.Result{}, nil
		}},
	}

	outcomes, err := sched.Run(ctx, target, tasks)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, outcomes, 1)
}

func TestRunOverlappingTasksMergeOnce(t *testing.T) {
	target := store.New(testutil.TestLogger())
	sched := scheduler.New(2, testutil.TestLogger())

	tasks := []scheduler.Task{
		recordingTask("t1", "total recognized revenue FY2025"),
		recordingTask("t2", "Total Recognized Revenue, FY2025"),
	}

	outcomes, err := sched.Run(context.Background(), target, tasks)
	require.NoError(t, err)
	for _, out := range outcomes {
		assert.NoError(t, out.Err)
	}
	facts, _, _, _ := target.Counts()
	assert.Equal(t, 1, facts, "near-identical facts from sibling tasks deduplicate on merge")
}
