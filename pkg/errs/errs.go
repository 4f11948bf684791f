// Package errs defines the typed error taxonomy propagated across phase
// boundaries by the orchestrator, scheduler, and CLI exit-code mapping.
package errs

import "fmt"

// ConfigError wraps a configuration validation failure (exit code 1).
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SandboxStartFailure means the sandbox never became reachable.
type SandboxStartFailure struct {
	Image string
	Err   error
}

func (e *SandboxStartFailure) Error() string {
	return fmt.Sprintf("sandbox start failed (image %s): %v", e.Image, e.Err)
}

func (e *SandboxStartFailure) Unwrap() error { return e.Err }

// SandboxOpError wraps a failed operation against an already-running sandbox.
type SandboxOpError struct {
	Op  string
	Err error
}

func (e *SandboxOpError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *SandboxOpError) Unwrap() error { return e.Err }

// SandboxReleasedError is returned by any operation attempted against a
// Releasable sandbox handle after Release has been called.
type SandboxReleasedError struct{}

func (e *SandboxReleasedError) Error() string { return "sandbox handle already released" }

// AgentError wraps a failure raised by the agent solver itself.
type AgentError struct {
	Err error
}

func (e *AgentError) Error() string { return fmt.Sprintf("agent: %v", e.Err) }
func (e *AgentError) Unwrap() error { return e.Err }

// ReproductionTimeout means reproduce.sh did not finish within the
// configured timeout.
type ReproductionTimeout struct {
	TimeoutSeconds int
}

func (e *ReproductionTimeout) Error() string {
	return fmt.Sprintf("reproduction timed out after %ds", e.TimeoutSeconds)
}

// JudgeLeafError wraps a failure grading a single rubric leaf node.
type JudgeLeafError struct {
	NodeID string
	Err    error
}

func (e *JudgeLeafError) Error() string {
	return fmt.Sprintf("judge leaf %s: %v", e.NodeID, e.Err)
}

func (e *JudgeLeafError) Unwrap() error { return e.Err }

// RolloutSystemError marks an error as infrastructure-level (not a
// reflection of agent quality). The scheduler records a task that fails
// this way in its TaskResult and carries on with the remaining tasks; the
// task is not retried.
type RolloutSystemError struct {
	Err error
}

func (e *RolloutSystemError) Error() string { return fmt.Sprintf("system error: %v", e.Err) }
func (e *RolloutSystemError) Unwrap() error { return e.Err }
