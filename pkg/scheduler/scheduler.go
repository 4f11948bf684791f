// Package scheduler fans a (paper, attempt) task set out across a bounded
// worker pool: it enumerates tasks from a paper split and n_tries, reuses
// existing run_ids from a resume group where available, dispatches FIFO
// with no priorities, and aggregates results via pkg/metrics once every
// task has finished.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/metrics"
	"github.com/paperbench/paperbench/pkg/orchestrator"
	"github.com/paperbench/paperbench/pkg/runrecord"
)

// Task is one (paper, attempt) unit of work, pre-bound to a run_id.
type Task struct {
	PaperID string
	Attempt int
	RunID   string
}

// Config bounds a scheduler run.
type Config struct {
	PaperSplit  []string
	NTries      int
	Concurrency int

	RunGroupID     string
	ResumeNoExtend bool

	Ledger *runrecord.Ledger

	// NewOrchestrator builds an Orchestrator for one task. Separated from
	// Config so the scheduler itself stays agnostic to sandbox/rubric/
	// completer wiring, which varies per paper.
	NewOrchestrator func(ctx context.Context, t Task) (*orchestrator.Orchestrator, error)

	// Progress, when non-nil, receives live per-task updates.
	Progress *ProgressBar

	Logger *slog.Logger
}

// Scheduler fans Config.PaperSplit x NTries tasks out across Concurrency
// workers and aggregates their results.
type Scheduler struct {
	cfg Config
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{cfg: cfg}
}

// TaskResult pairs a dispatched Task with its outcome; Err is set only for
// system-error-classified failures, which do not halt the scheduler.
type TaskResult struct {
	Task   Task
	Result *runrecord.Result
	Err    error
}

// BuildTasks enumerates the (paper, attempt) task set, reusing run_ids
// recorded in the resume group's ledger where one exists for a given
// paper. When ResumeNoExtend is set, a paper/attempt pair with no existing
// run_id is skipped entirely rather than minting a new one.
func (s *Scheduler) BuildTasks(ctx context.Context) ([]Task, error) {
	existing, err := s.existingRunIDsByPaper(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: loading existing run ids: %w", err)
	}

	var tasks []Task
	for attempt := 0; attempt < s.cfg.NTries; attempt++ {
		for _, paperID := range s.cfg.PaperSplit {
			runID, ok := popRunID(existing, paperID)
			if !ok {
				if s.cfg.ResumeNoExtend {
					continue
				}
				runID = fmt.Sprintf("%s_%s", paperID, uuid.NewString())
			}
			tasks = append(tasks, Task{PaperID: paperID, Attempt: attempt, RunID: runID})
		}
	}
	return tasks, nil
}

func (s *Scheduler) existingRunIDsByPaper(ctx context.Context) (map[string][]string, error) {
	byPaper := make(map[string][]string)
	if s.cfg.Ledger == nil || s.cfg.RunGroupID == "" {
		return byPaper, nil
	}
	ids, err := s.cfg.Ledger.ExistingRunIDs(ctx, s.cfg.RunGroupID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		paperID := paperIDFromRunID(id)
		byPaper[paperID] = append(byPaper[paperID], id)
	}
	return byPaper, nil
}

// paperIDFromRunID extracts the paper id prefix of a "<paper>_<uuid>"
// run_id.
func paperIDFromRunID(runID string) string {
	for i := 0; i < len(runID); i++ {
		if runID[i] == '_' {
			return runID[:i]
		}
	}
	return runID
}

func popRunID(byPaper map[string][]string, paperID string) (string, bool) {
	ids := byPaper[paperID]
	if len(ids) == 0 {
		return "", false
	}
	byPaper[paperID] = ids[1:]
	return ids[0], true
}

// Run builds the task set, dispatches it across Concurrency workers, and
// returns every TaskResult plus the aggregated metrics.Summary. A task
// whose orchestrator build or Run call fails with a system error is
// recorded in TaskResult.Err and continues; Run itself only returns an
// error for a configuration problem discovered before dispatch.
func (s *Scheduler) Run(ctx context.Context) ([]TaskResult, *metrics.Summary, error) {
	tasks, err := s.BuildTasks(ctx)
	if err != nil {
		return nil, nil, err
	}

	if s.cfg.Progress != nil {
		s.cfg.Progress.SetTotal(len(tasks))
		s.cfg.Progress.Start()
		defer s.cfg.Progress.Stop()
	}

	results := make([]TaskResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if s.cfg.Progress != nil {
				s.cfg.Progress.SetRunning(task.RunID)
			}
			results[i] = s.runOne(gctx, task)
			if s.cfg.Progress != nil {
				s.cfg.Progress.Complete(task.RunID, results[i].Err == nil)
			}
			return nil
		})
	}
	// Per-task failures are recorded in TaskResult, not propagated, so the
	// scheduler never aborts the whole evaluation because one task failed.
	_ = g.Wait()

	expectedPapers := uniqueStrings(s.cfg.PaperSplit)
	summary := metrics.Compute(toMetricsInputs(results), expectedPapers)

	return results, summary, nil
}

func (s *Scheduler) runOne(ctx context.Context, task Task) TaskResult {
	logger := s.cfg.Logger.With("paper_id", task.PaperID, "run_id", task.RunID, "attempt", task.Attempt)

	if s.cfg.Ledger != nil && s.cfg.RunGroupID != "" {
		if err := s.cfg.Ledger.Record(ctx, s.cfg.RunGroupID, task.RunID, task.PaperID, task.Attempt); err != nil {
			logger.Warn("failed to record run in ledger", "error", err)
		}
	}

	orch, err := s.cfg.NewOrchestrator(ctx, task)
	if err != nil {
		sysErr := &errs.RolloutSystemError{Err: err}
		logger.Error("failed to build orchestrator", "error", sysErr)
		return TaskResult{Task: task, Err: sysErr}
	}

	result, err := orch.Run(ctx)
	if err != nil {
		sysErr := &errs.RolloutSystemError{Err: err}
		logger.Error("orchestrator run failed", "error", sysErr)
		return TaskResult{Task: task, Result: result, Err: sysErr}
	}

	return TaskResult{Task: task, Result: result}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func toMetricsInputs(results []TaskResult) []metrics.Input {
	out := make([]metrics.Input, 0, len(results))
	for _, r := range results {
		out = append(out, metrics.Input{
			PaperID:     r.Task.PaperID,
			Result:      r.Result,
			SystemError: r.Err != nil,
		})
	}
	return out
}
