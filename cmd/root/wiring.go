package root

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paperbench/paperbench/pkg/agent"
	agentbasic "github.com/paperbench/paperbench/pkg/agent/basic"
	agentdummy "github.com/paperbench/paperbench/pkg/agent/dummy"
	"github.com/paperbench/paperbench/pkg/completer"
	"github.com/paperbench/paperbench/pkg/environment"
	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/judge"
	judgedummy "github.com/paperbench/paperbench/pkg/judge/dummy"
	judgerandom "github.com/paperbench/paperbench/pkg/judge/random"
	judgesimple "github.com/paperbench/paperbench/pkg/judge/simple"
	"github.com/paperbench/paperbench/pkg/monitor"
	monitorbasic "github.com/paperbench/paperbench/pkg/monitor/basic"
)

const defaultInstructions = "Reproduce the paper's key experimental results as faithfully as possible, then submit your work."

// defaultJudgeConcurrency bounds how many leaves a judge.Engine grades at
// once, independent of the scheduler's own task concurrency.
const defaultJudgeConcurrency = 4

// newStructuredProvider resolves a "provider/model" reference into a
// structured-output-capable completer.
func newStructuredProvider(ctx context.Context, field, modelRef string) (completer.StructuredProvider, error) {
	providerType, model, err := completer.ParseModelRef(modelRef)
	if err != nil {
		return nil, &errs.ConfigError{Field: field, Err: err}
	}
	provider, err := completer.New(ctx, &completer.Config{Type: providerType, Model: model}, environment.NewDefaultProvider(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("building %s completer: %w", field, err)
	}
	structured, ok := provider.(completer.StructuredProvider)
	if !ok {
		return nil, fmt.Errorf("completer %q does not support structured completions", providerType)
	}
	return structured, nil
}

// buildJudgeEngine constructs the judge.Engine for judgeType, resolving a
// completer for the "simple" scaffold from judgeModel (a "provider/model"
// reference) and the process environment.
func buildJudgeEngine(ctx context.Context, judgeType string, maxDepth int, codeOnly, resourcesProvided bool, judgeModel string) (*judge.Engine, error) {
	var grader judge.Grader
	var completerConfig map[string]any

	switch judgeType {
	case "dummy":
		grader = judgedummy.Grader{}
	case "random":
		grader = judgerandom.Grader{}
	case "simple":
		structured, err := newStructuredProvider(ctx, "judge-model", judgeModel)
		if err != nil {
			return nil, err
		}
		grader = judgesimple.New(judgesimple.Config{Provider: structured})
		completerConfig = map[string]any{"model": judgeModel}
	default:
		return nil, &errs.ConfigError{Field: "judge", Err: fmt.Errorf("unknown judge type %q, want dummy|random|simple", judgeType)}
	}

	return &judge.Engine{
		Grader:            grader,
		Concurrency:       defaultJudgeConcurrency,
		MaxDepth:          maxDepth,
		CodeOnly:          codeOnly,
		ResourcesProvided: resourcesProvided,
		CompleterConfig:   completerConfig,
	}, nil
}

// buildSolver constructs the agent.Solver for agentType, resolving a
// completer for "basic" from agentModel and the process environment.
func buildSolver(ctx context.Context, agentType, agentModel string) (agent.Solver, error) {
	switch agentType {
	case "dummy":
		return agentdummy.Solver{}, nil
	case "basic":
		providerType, model, err := completer.ParseModelRef(agentModel)
		if err != nil {
			return nil, &errs.ConfigError{Field: "agent-model", Err: err}
		}
		provider, err := completer.New(ctx, &completer.Config{Type: providerType, Model: model}, environment.NewDefaultProvider(), slog.Default())
		if err != nil {
			return nil, fmt.Errorf("building agent completer: %w", err)
		}
		return &agentbasic.Solver{Provider: provider}, nil
	default:
		return nil, &errs.ConfigError{Field: "agent", Err: fmt.Errorf("unknown agent type %q, want dummy|basic", agentType)}
	}
}

// monitorStrategy pairs a built monitor.Strategy with its model reference
// for reporting.
type monitorStrategy struct {
	strategy monitor.Strategy
	modelRef string
}

// buildMonitorStrategy constructs the completer-backed transcript auditor.
func buildMonitorStrategy(ctx context.Context, monitorModel string) (*monitorStrategy, error) {
	structured, err := newStructuredProvider(ctx, "monitor-model", monitorModel)
	if err != nil {
		return nil, err
	}
	return &monitorStrategy{
		strategy: monitorbasic.New(monitorbasic.Config{Provider: structured}),
		modelRef: monitorModel,
	}, nil
}
