// Package agent defines the Solver abstraction that produces a submission
// inside a leased sandbox: dummy and basic are reference implementations,
// with room for additional scaffolds to be registered the way
// completer.New dispatches on a type string.
package agent

import (
	"context"
	"time"

	"github.com/paperbench/paperbench/pkg/sandbox"
)

// Task describes one agent rollout: the paper instructions to work from,
// the sandbox to work in, and the limits governing when to stop.
type Task struct {
	PaperID      string
	Instructions string
	Sandbox      sandbox.Sandbox

	// SubmissionPath is where the solver must leave its submission inside
	// the sandbox, e.g. "/submission".
	SubmissionPath string

	MaxSteps *int
	// TimeLimit bounds wall-clock execution; zero means unlimited.
	TimeLimit time.Duration

	// LogWriter receives the agent's running transcript (agent.log).
	// May be nil.
	LogWriter LogWriter

	// OnStep is invoked after each completed solver step, letting the
	// snapshot loop count steps without the solver knowing about it.
	// May be nil.
	OnStep func()
}

// LogWriter appends a rendered transcript line to agent.log.
type LogWriter interface {
	WriteLine(ctx context.Context, line string) error
}

// Result summarizes a completed rollout.
type Result struct {
	StepsTaken int
	TimedOut   bool
	Submitted  bool
}

// Solver runs an agent rollout against a Task, leaving a submission behind
// in the sandbox. Implementations: pkg/agent/dummy, pkg/agent/basic.
type Solver interface {
	Name() string
	Run(ctx context.Context, task Task) (Result, error)
}
