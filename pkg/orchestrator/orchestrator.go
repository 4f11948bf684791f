// Package orchestrator drives the per-(paper, attempt) task state machine:
// SETUP -> AGENT -> REPRODUCE -> JUDGE -> DONE, with an early exit
// reachable from any phase. It leases and releases sandboxes, starts and
// stops the snapshot loop, and only ever retries the SETUP and JUDGE
// phases on transient runtime failures.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/paperbench/paperbench/pkg/agent"
	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/judge"
	"github.com/paperbench/paperbench/pkg/monitor"
	"github.com/paperbench/paperbench/pkg/reproduction"
	"github.com/paperbench/paperbench/pkg/rubric"
	"github.com/paperbench/paperbench/pkg/runrecord"
	"github.com/paperbench/paperbench/pkg/sandbox"
	"github.com/paperbench/paperbench/pkg/snapshot"
)

// Phase names the orchestrator's current state, for logging and tracing.
type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseAgent     Phase = "agent"
	PhaseReproduce Phase = "reproduce"
	PhaseJudge     Phase = "judge"
	PhaseDone      Phase = "done"
	PhaseEarlyExit Phase = "early_exit"
)

// RetryPolicy bounds the retry attempts for the SETUP and JUDGE phases;
// the AGENT and REPRODUCE phases never retry automatically.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// isRetryable reports whether err is a transient runtime failure worth
// retrying. SandboxStartFailure and SandboxOpError are treated as
// retryable; everything else (including ConfigError and AgentError) is
// not.
func isRetryable(err error) bool {
	var start *errs.SandboxStartFailure
	var op *errs.SandboxOpError
	switch {
	case asError(err, &start):
		return true
	case asError(err, &op):
		return true
	}
	return false
}

// asError is a tiny errors.As wrapper kept local so this file doesn't need
// a second stdlib import alias.
func asError[T error](err error, target *T) bool {
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Config bundles everything one Orchestrator needs to run a single
// (paper, attempt) task. It is built fresh per task by the scheduler.
type Config struct {
	PaperID string
	RunID   string
	GroupID string

	PaperText    string
	Instructions string

	Gateway      sandbox.Gateway
	AgentSandbox sandbox.Config
	ReproSandbox sandbox.Config

	Solver agent.Solver
	Rubric *rubric.Tree

	Reproduction     reproduction.Config
	SkipReproduction bool
	JudgeEngine      *judge.Engine

	// Monitor, when non-nil, audits the run's transcript right after
	// grading and attaches the findings to the Result.
	Monitor monitor.Strategy

	Record *runrecord.Record

	SnapshotHeavyInterval time.Duration
	SnapshotLightInterval time.Duration
	SnapshotEverySteps    int

	AgentTimeLimit time.Duration
	AgentMaxSteps  *int

	// TargetDuration, when positive, grades the snapshot nearest
	// at-or-before that much wall-clock time from agent start, rather than
	// the final snapshot.
	TargetDuration time.Duration

	// Resume, when true, lets the orchestrator skip the AGENT phase if the
	// RunRecord is already resumable.
	Resume bool

	SetupRetry RetryPolicy
	JudgeRetry RetryPolicy

	Tracer trace.Tracer

	Logger *slog.Logger
}

// Orchestrator runs one (paper, attempt) task through its full lifecycle.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/paperbench/paperbench/pkg/orchestrator")
	}
	return &Orchestrator{cfg: cfg}
}

// Run executes SETUP -> AGENT -> REPRODUCE -> JUDGE -> DONE for this task,
// returning a populated runrecord.Result. It never returns an error for a
// phase-local failure (those are recorded into the Result); it only
// returns an error when something prevents producing a Result at all
// (e.g. the context is already cancelled).
func (o *Orchestrator) Run(ctx context.Context) (*runrecord.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := o.cfg.Tracer.Start(ctx, "orchestrator.Run")
	defer span.End()

	result := &runrecord.Result{
		PaperID:             o.cfg.PaperID,
		RunID:               o.cfg.RunID,
		SkippedReproduction: o.cfg.SkipReproduction,
		CodeOnly:            o.cfg.JudgeEngine != nil && o.cfg.JudgeEngine.CodeOnly,
		ResourcesProvided:   o.cfg.JudgeEngine != nil && o.cfg.JudgeEngine.ResourcesProvided,
	}

	logger := o.cfg.Logger.With("paper_id", o.cfg.PaperID, "run_id", o.cfg.RunID)

	resumed := false
	if o.cfg.Resume {
		ok, err := o.cfg.Record.IsResumable(ctx)
		if err == nil && ok {
			resumed = true
			logger.Info("resuming run: skipping agent phase")
		}
	}

	if !resumed {
		agentSandbox, err := o.runSetup(ctx, logger)
		if err != nil {
			result.SystemError = fmt.Sprintf("setup failed: %v", err)
			return result, nil
		}

		agentOutput, err := o.runAgent(ctx, logger, agentSandbox)
		result.AgentOutput = agentOutput
		if err != nil {
			logger.Warn("agent phase raised an error; continuing if a snapshot exists", "error", err)
		}

		// Hand the agent sandbox back before the reproduction sandbox is
		// leased, so the two never coexist.
		_ = agentSandbox.Release(ctx)
	}

	n, err := o.cfg.Record.SnapshotCount(ctx)
	result.SubmissionExists = err == nil && n > 0
	if !result.SubmissionExists {
		// No snapshot means nothing to reproduce or grade.
		result.Score = 0
		return result, nil
	}

	submissionTS, err := o.selectSnapshot(ctx)
	if err != nil || submissionTS == "" {
		result.Score = 0
		return result, nil
	}
	submissionArchiveDir := o.cfg.Record.SubmissionDir(submissionTS)

	if !o.cfg.SkipReproduction {
		meta, err := o.runReproduce(ctx, logger, submissionArchiveDir)
		result.ReproductionMetadata = meta
		if err != nil {
			logger.Warn("reproduction phase failed; grading continues on existing files", "error", err)
		}
	}

	judgeOutput, err := o.runJudge(ctx, logger, submissionArchiveDir)
	result.JudgeOutput = judgeOutput
	if err != nil {
		logger.Warn("judge phase failed", "error", err)
	}
	if judgeOutput != nil {
		result.Score = judgeOutput.Score
		if err := o.cfg.Record.WriteGraderOutput(ctx, *judgeOutput); err != nil {
			logger.Warn("writing grader_output.json failed", "error", err)
		}
	}

	o.runMonitor(ctx, logger, result)

	return result, nil
}

// selectSnapshot picks which submission snapshot to reproduce and grade:
// the one nearest at-or-before TargetDuration from agent start when a
// target is set, otherwise the latest.
func (o *Orchestrator) selectSnapshot(ctx context.Context) (string, error) {
	if o.cfg.TargetDuration > 0 {
		if status, err := o.cfg.Record.ReadStatus(ctx); err == nil && status != nil {
			ts, err := o.cfg.Record.SnapshotAtOrBefore(ctx, status.CreatedAt, int64(o.cfg.TargetDuration.Seconds()))
			if err == nil && ts != "" {
				return ts, nil
			}
		}
	}
	return o.cfg.Record.LatestSnapshot(ctx)
}

// runSetup leases the agent sandbox, uploads the paper and instructions,
// writes the initial status heartbeat, and returns a Releasable handle so
// the orchestrator can hand the sandbox back early. Retries per SetupRetry
// on transient sandbox failures.
func (o *Orchestrator) runSetup(ctx context.Context, logger *slog.Logger) (*sandbox.Releasable, error) {
	var lastErr error
	attempts := o.cfg.SetupRetry.maxAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.SetupRetry.Backoff
			if backoff <= 0 {
				backoff = time.Second
			}
			select {
			case <-time.After(backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		sb, err := o.cfg.Gateway.Lease(ctx, o.cfg.AgentSandbox)
		if err != nil {
			lastErr = &errs.SandboxStartFailure{Image: o.cfg.AgentSandbox.Image, Err: err}
			if !isRetryable(lastErr) {
				return nil, lastErr
			}
			logger.Warn("setup: lease failed, retrying", "attempt", attempt+1, "error", err)
			continue
		}

		releasable := sandbox.NewReleasable(sb, sb.Release)
		if err := releasable.Upload(ctx, strings.NewReader(o.cfg.Instructions), "/instructions.txt"); err != nil {
			lastErr = &errs.SandboxOpError{Op: "upload instructions", Err: err}
			_ = releasable.Release(ctx)
			if !isRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}
		if err := releasable.Upload(ctx, strings.NewReader(o.cfg.PaperText), "/paper.md"); err != nil {
			lastErr = &errs.SandboxOpError{Op: "upload paper", Err: err}
			_ = releasable.Release(ctx)
			if !isRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}

		now := time.Now().Unix()
		if err := o.cfg.Record.WriteStatus(ctx, runrecord.Status{
			Status:      "running",
			CreatedAt:   now,
			LastUpdated: now,
		}); err != nil {
			logger.Warn("setup: writing initial status failed", "error", err)
		}

		return releasable, nil
	}
	return nil, lastErr
}

// runAgent runs the solver under the snapshot loop and the configured
// wall-clock budget. A panic or error from the solver is captured into
// AgentOutput.ErrorMessage rather than propagated; the orchestrator still
// takes one final snapshot and records the rollout in metadata.json.
func (o *Orchestrator) runAgent(ctx context.Context, logger *slog.Logger, sb *sandbox.Releasable) (*runrecord.AgentOutput, error) {
	timeStart := time.Now()

	loop := &snapshot.Loop{
		Sandbox:       sb,
		Record:        o.cfg.Record,
		LightInterval: o.cfg.SnapshotLightInterval,
		HeavyInterval: o.cfg.SnapshotHeavyInterval,
		EverySteps:    o.cfg.SnapshotEverySteps,
		Logger:        logger,
	}

	agentCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.AgentTimeLimit > 0 {
		agentCtx, cancel = context.WithTimeout(ctx, o.cfg.AgentTimeLimit)
		defer cancel()
	}

	loop.Start(agentCtx)

	task := agent.Task{
		PaperID:        o.cfg.PaperID,
		Instructions:   o.cfg.Instructions,
		Sandbox:        sb,
		SubmissionPath: "/submission",
		MaxSteps:       o.cfg.AgentMaxSteps,
		TimeLimit:      o.cfg.AgentTimeLimit,
		LogWriter:      &mirroredLog{log: o.cfg.Record.AgentLog(), sandbox: sb},
		OnStep:         loop.StepTick,
	}

	var errMsg *string
	_, runErr := o.safeRunSolver(agentCtx, task)
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	// Stop drains the loop and always performs the one final snapshot,
	// shielded from agentCtx's own cancellation.
	if err := loop.Stop(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("final snapshot failed", "error", err)
	}

	timeEnd := time.Now()
	finishedAt := timeEnd.Unix()
	statusValue := "done"
	if runErr != nil {
		statusValue = "error"
	}
	statusExists := false
	if status, err := o.cfg.Record.ReadStatus(ctx); err == nil && status != nil {
		statusExists = true
		status.Status = statusValue
		status.AgentFinishedAt = &finishedAt
		status.LastUpdated = finishedAt
		if err := o.cfg.Record.WriteStatus(ctx, *status); err != nil {
			logger.Warn("writing final status failed", "error", err)
		}
	}

	out := &runrecord.AgentOutput{
		RunID:          o.cfg.RunID,
		TimeStart:      float64(timeStart.Unix()),
		TimeEnd:        float64(timeEnd.Unix()),
		RuntimeSeconds: timeEnd.Sub(timeStart).Seconds(),
		ErrorMessage:   errMsg,
		StatusExists:   statusExists,
	}
	if err := o.cfg.Record.WriteMetadata(ctx, *out); err != nil {
		logger.Warn("writing metadata.json failed", "error", err)
	}
	return out, runErr
}

// mirroredLog writes the transcript both to the run record's agent.log
// and into the sandbox's /logs directory, so every snapshot archive
// carries the transcript alongside the submission.
type mirroredLog struct {
	log     *runrecord.AgentLog
	sandbox sandbox.Sandbox
}

func (m *mirroredLog) WriteLine(ctx context.Context, line string) error {
	if err := m.log.WriteLine(ctx, line); err != nil {
		return err
	}
	return m.sandbox.Upload(ctx, strings.NewReader(m.log.Content()), "/logs/agent.log")
}

// safeRunSolver recovers a panicking solver into an error so one bad
// agent rollout never takes down the scheduler.
func (o *Orchestrator) safeRunSolver(ctx context.Context, task agent.Task) (res agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errs.AgentError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, err = o.cfg.Solver.Run(ctx, task)
	if err != nil {
		err = &errs.AgentError{Err: err}
	}
	return res, err
}

// runReproduce downloads the given snapshot's submission archive, extracts
// it to a host temp directory, and runs the reproducer against it.
func (o *Orchestrator) runReproduce(ctx context.Context, logger *slog.Logger, submissionDir string) (*runrecord.ReproductionMetadata, error) {
	stagingDir, cleanup, err := stageSubmission(ctx, o.cfg.Record, submissionDir)
	if err != nil {
		return nil, fmt.Errorf("staging submission for reproduction: %w", err)
	}
	defer cleanup()

	runner := &reproduction.Runner{
		Gateway:       o.cfg.Gateway,
		SandboxConfig: o.cfg.ReproSandbox,
		Config:        o.cfg.Reproduction,
	}
	meta, err := runner.Reproduce(ctx, stagingDir)
	if err != nil {
		return meta, fmt.Errorf("reproduction: %w", err)
	}
	return meta, nil
}

// runJudge stages the submission and walks the rubric. Retries per
// JudgeRetry on transient sandbox failures.
func (o *Orchestrator) runJudge(ctx context.Context, logger *slog.Logger, submissionDir string) (*runrecord.JudgeOutput, error) {
	stagingDir, cleanup, err := stageSubmission(ctx, o.cfg.Record, submissionDir)
	if err != nil {
		return nil, fmt.Errorf("staging submission for judging: %w", err)
	}
	defer cleanup()

	var lastErr error
	attempts := o.cfg.JudgeRetry.maxAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.JudgeRetry.Backoff
			if backoff <= 0 {
				backoff = time.Second
			}
			select {
			case <-time.After(backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		out, err := o.cfg.JudgeEngine.Run(ctx, o.cfg.Rubric, stagingDir)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		logger.Warn("judge: run failed, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// runMonitor audits the run's transcript when an inline monitor strategy
// is configured. Monitor failures never affect the grade.
func (o *Orchestrator) runMonitor(ctx context.Context, logger *slog.Logger, result *runrecord.Result) {
	if o.cfg.Monitor == nil {
		return
	}
	exists, err := o.cfg.Record.Store.Exists(ctx, o.cfg.Record.AgentLogPath())
	if err != nil || !exists {
		return
	}
	logData, err := o.cfg.Record.Store.Read(ctx, o.cfg.Record.AgentLogPath())
	if err != nil {
		logger.Warn("monitor: reading agent.log failed", "error", err)
		return
	}
	monitorResult, err := o.cfg.Monitor.CheckLog(ctx, string(logData))
	if err != nil {
		logger.Warn("monitor: transcript audit failed", "error", err)
		return
	}
	result.MonitorRan = true
	result.MonitorResult = &monitorResult
}
