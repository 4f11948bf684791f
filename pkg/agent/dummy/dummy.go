// Package dummy implements an agent.Solver that writes a trivial,
// fixed submission without calling a completer at all, used to exercise
// the orchestrator, snapshot loop, and reproduction/judge stages without
// burning API spend.
package dummy

import (
	"context"
	"strings"
	"time"

	"github.com/paperbench/paperbench/pkg/agent"
)

const submissionReadme = `# Submission

This is a placeholder submission produced by the dummy solver. It makes no
attempt at the paper's requirements; it exists to exercise the rest of the
evaluation pipeline.
`

const reproduceScript = `#!/bin/bash
echo "nothing to reproduce"
`

// Solver writes a README and a trivial reproduce.sh into the submission
// directory and stops.
type Solver struct{}

func (Solver) Name() string { return "dummy" }

func (Solver) Run(ctx context.Context, task agent.Task) (agent.Result, error) {
	if err := task.Sandbox.Upload(ctx, strings.NewReader(submissionReadme), task.SubmissionPath+"/README.md"); err != nil {
		return agent.Result{}, err
	}
	if err := task.Sandbox.Upload(ctx, strings.NewReader(reproduceScript), task.SubmissionPath+"/reproduce.sh"); err != nil {
		return agent.Result{}, err
	}
	if task.LogWriter != nil {
		_ = task.LogWriter.WriteLine(ctx, "dummy solver wrote README.md and reproduce.sh at "+time.Now().UTC().Format(time.RFC3339))
	}
	if task.OnStep != nil {
		task.OnStep()
	}
	return agent.Result{StepsTaken: 1, Submitted: true}, nil
}
