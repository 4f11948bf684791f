package root

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/paperbench/paperbench/pkg/blobstore"
	"github.com/paperbench/paperbench/pkg/config"
	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/orchestrator"
	"github.com/paperbench/paperbench/pkg/reproduction"
	"github.com/paperbench/paperbench/pkg/rubric"
	"github.com/paperbench/paperbench/pkg/runrecord"
	"github.com/paperbench/paperbench/pkg/sandbox"
	"github.com/paperbench/paperbench/pkg/sandbox/docker"
	"github.com/paperbench/paperbench/pkg/scheduler"
)

// runEvalFlags is the scheduler entry point: fan agent rollouts out over a
// paper split, reproduce and grade each one, and report aggregate scores.
type runEvalFlags struct {
	runtimeFlags

	paperSplitPath    string
	nTries            int
	runsDir           string
	concurrency       int
	resumeGroup       string
	resumeNoExtend    bool
	targetDurationHr  float64
	skipReproduction  bool
	codeOnly          bool
	resourcesProvided bool

	agentType        string
	judgeType        string
	agentModel       string
	judgeModel       string
	agentTimeoutHr   float64
	runMonitorInline bool
	monitorModel     string
}

func newRunEvalCmd() *cobra.Command {
	var flags runEvalFlags

	cmd := &cobra.Command{
		Use:   "run-eval",
		Short: "Schedule agent rollouts across a paper split and grade them",
		RunE:  flags.run,
	}

	addRuntimeConfigFlags(cmd, &flags.runtimeFlags)
	cmd.Flags().StringVar(&flags.paperSplitPath, "paper-split", "", "Path to a paper-split YAML file (required)")
	cmd.Flags().IntVar(&flags.nTries, "n-tries", 1, "Number of attempts per paper")
	cmd.Flags().StringVar(&flags.runsDir, "runs-dir", "./runs", "Root directory for run output")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", runtime.NumCPU(), "Number of concurrent task rollouts")
	cmd.Flags().StringVar(&flags.resumeGroup, "resume-group", "", "Reuse run_ids already recorded under this group_id instead of minting a new one")
	cmd.Flags().BoolVar(&flags.resumeNoExtend, "resume-no-extend", false, "When resuming, skip paper/attempt pairs with no existing run_id instead of minting new ones")
	cmd.Flags().Float64Var(&flags.targetDurationHr, "target-duration-hr", 0, "Grade the snapshot nearest at-or-before this many hours from agent start (0 = latest snapshot)")
	cmd.Flags().BoolVar(&flags.skipReproduction, "skip-reproduction", false, "Skip the reproduction phase and grade submitted files as-is")
	cmd.Flags().BoolVar(&flags.codeOnly, "code-only", false, "Grade only code_development subtrees")
	cmd.Flags().BoolVar(&flags.resourcesProvided, "resources-provided", false, "Zero the weight of dataset/resource-acquisition subtrees")
	cmd.Flags().StringVar(&flags.agentType, "agent", "dummy", "Agent solver: dummy|basic")
	cmd.Flags().StringVar(&flags.judgeType, "judge", "dummy", "Judge scaffold: dummy|random|simple")
	cmd.Flags().StringVar(&flags.agentModel, "agent-model", "anthropic/claude-opus-4-5-20251101", "Model reference (provider/model) for the basic agent solver")
	cmd.Flags().StringVar(&flags.judgeModel, "judge-model", "anthropic/claude-opus-4-5-20251101", "Model reference (provider/model) for the simple judge scaffold")
	cmd.Flags().Float64Var(&flags.agentTimeoutHr, "agent-timeout-hr", 0, "Agent wall-clock budget per run, in hours (0 = unbounded)")
	cmd.Flags().BoolVar(&flags.runMonitorInline, "run-monitor-inline", false, "Audit each run's transcript for rule violations right after grading")
	cmd.Flags().StringVar(&flags.monitorModel, "monitor-model", "anthropic/claude-opus-4-5-20251101", "Model reference (provider/model) for the inline monitor")

	return cmd
}

func (f *runEvalFlags) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if f.paperSplitPath == "" {
		return &errs.ConfigError{Field: "paper-split", Err: fmt.Errorf("required")}
	}
	data, err := os.ReadFile(f.paperSplitPath)
	if err != nil {
		return &errs.ConfigError{Field: "paper-split", Err: err}
	}
	split, err := config.LoadPaperSplit(data)
	if err != nil {
		return &errs.ConfigError{Field: "paper-split", Err: err}
	}

	store, err := blobstore.NewLocal(f.runsDir)
	if err != nil {
		return &errs.ConfigError{Field: "runs-dir", Err: err}
	}

	ledger, err := runrecord.OpenLedger(filepath.Join(f.runsDir, "run_groups.db"))
	if err != nil {
		return &errs.ConfigError{Field: "runs-dir", Err: err}
	}
	defer ledger.Close()

	groupID := f.resumeGroup
	resuming := groupID != ""
	if groupID == "" {
		groupID = uuid.NewString()
	}

	var inlineMonitor *monitorStrategy
	if f.runMonitorInline {
		inlineMonitor, err = buildMonitorStrategy(ctx, f.monitorModel)
		if err != nil {
			return err
		}
	}

	gateway := docker.NewGateway()
	agentTimeLimit := time.Duration(f.agentTimeoutHr * float64(time.Hour))
	targetDuration := time.Duration(f.targetDurationHr * float64(time.Hour))

	newOrchestrator := func(ctx context.Context, t scheduler.Task) (*orchestrator.Orchestrator, error) {
		spec, ok := split.Lookup(t.PaperID)
		if !ok {
			return nil, fmt.Errorf("paper %q not found in split", t.PaperID)
		}

		rubricData, err := os.ReadFile(spec.RubricPath)
		if err != nil {
			return nil, fmt.Errorf("reading rubric for %s: %w", t.PaperID, err)
		}
		tree, err := rubric.Parse(rubricData)
		if err != nil {
			return nil, fmt.Errorf("parsing rubric for %s: %w", t.PaperID, err)
		}

		paperText, err := os.ReadFile(spec.PaperPath)
		if err != nil {
			return nil, fmt.Errorf("reading paper text for %s: %w", t.PaperID, err)
		}

		instructions := defaultInstructions
		if spec.InstructionsPath != "" {
			b, err := os.ReadFile(spec.InstructionsPath)
			if err != nil {
				return nil, fmt.Errorf("reading instructions for %s: %w", t.PaperID, err)
			}
			instructions = string(b)
		}

		solver, err := buildSolver(ctx, f.agentType, f.agentModel)
		if err != nil {
			return nil, err
		}
		judgeEngine, err := buildJudgeEngine(ctx, f.judgeType, 0, f.codeOnly, f.resourcesProvided, f.judgeModel)
		if err != nil {
			return nil, err
		}

		record := &runrecord.Record{Store: store, GroupID: groupID, RunID: t.RunID}

		cfg := orchestrator.Config{
			PaperID:      t.PaperID,
			RunID:        t.RunID,
			GroupID:      groupID,
			PaperText:    string(paperText),
			Instructions: instructions,

			Gateway:      gateway,
			AgentSandbox: sandbox.Config{Image: f.agentSandboxImage, Network: sandbox.NetworkProxied},
			ReproSandbox: sandbox.Config{Image: f.reproSandboxImage, Network: sandbox.NetworkUnproxied},

			Solver: solver,
			Rubric: tree,

			Reproduction:     reproduction.Config{Timeout: 100 * time.Hour, RetryThreshold: 10 * time.Minute},
			SkipReproduction: f.skipReproduction,
			JudgeEngine:      judgeEngine,

			Record: record,

			AgentTimeLimit: agentTimeLimit,
			TargetDuration: targetDuration,
			Resume:         resuming,

			SetupRetry: orchestrator.RetryPolicy{MaxAttempts: 3, Backoff: time.Second},
			JudgeRetry: orchestrator.RetryPolicy{MaxAttempts: 3, Backoff: time.Second},
		}
		if inlineMonitor != nil {
			cfg.Monitor = inlineMonitor.strategy
		}
		return orchestrator.New(cfg), nil
	}

	stdoutFd := int(os.Stdout.Fd())
	progress := scheduler.NewProgressBar(cmd.OutOrStdout(), stdoutFd, term.IsTerminal(stdoutFd))

	sched := scheduler.New(scheduler.Config{
		PaperSplit:     split.IDs(),
		NTries:         f.nTries,
		Concurrency:    f.concurrency,
		RunGroupID:     groupID,
		ResumeNoExtend: f.resumeNoExtend,
		Ledger:         ledger,
		Progress:       progress,

		NewOrchestrator: newOrchestrator,
	})

	results, summary, err := sched.Run(ctx)
	if err != nil {
		return &errs.ConfigError{Field: "scheduler", Err: err}
	}

	summaryPath := filepath.Join(f.runsDir, groupID, "summary.json")
	if err := writeJSON(summaryPath, summary); err != nil {
		slog.Warn("failed to write summary.json", "error", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "group_id: %s\nmean_score: %.4f\nn_complete_tries: %d\n", groupID, summary.MeanScore, summary.NCompleteTries)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return &partialFailureError{failed: failed, total: len(results)}
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
