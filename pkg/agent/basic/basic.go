// Package basic implements a tool-using reference solver. Because
// completer.Provider exposes plain chat completions rather than a native
// function-calling API (see pkg/completer/anthropic's
// CreateStructuredCompletion doc comment on the same constraint), the
// solver drives tool use through a small textual protocol instead: the
// system prompt asks the model to emit fenced ```bash blocks to run
// commands and a literal SUBMIT line to finish, and the solver parses the
// assistant's reply for those markers.
package basic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paperbench/paperbench/pkg/agent"
	"github.com/paperbench/paperbench/pkg/chat"
	"github.com/paperbench/paperbench/pkg/completer"
)

const systemPromptTemplate = `You are an autonomous research engineer reproducing the results of a machine learning paper inside a sandboxed Linux environment.

Your submission directory is %s. Work only within it.

Paper instructions:
%s

To run a shell command, reply with a single fenced block:
` + "```bash\n<command>\n```" + `

When you are finished, reply with a line containing only SUBMIT.

You will receive the command's output after each step. Keep working until the paper's requirements are met, then submit.`

const reminderTemplate = "Info: %s elapsed out of %s. Remember to commit your work with git regularly."

// Solver drives a bash-tool-calling loop against a completer.Provider.
type Solver struct {
	Provider completer.Provider

	// ReminderEvery sends a time-remaining reminder every N steps.
	// Defaults to 5 if <= 0.
	ReminderEvery int

	// MaxMessages bounds the in-memory history before pruning (oldest
	// messages first).
	MaxMessages int
}

func (*Solver) Name() string { return "basic" }

func (s *Solver) reminderEvery() int {
	if s.ReminderEvery <= 0 {
		return 5
	}
	return s.ReminderEvery
}

func (s *Solver) maxMessages() int {
	if s.MaxMessages <= 0 {
		return 200
	}
	return s.MaxMessages
}

// Run executes the tool loop until the model submits, the step limit is
// reached, or the time limit elapses.
func (s *Solver) Run(ctx context.Context, task agent.Task) (agent.Result, error) {
	start := time.Now()
	messages := []chat.Message{
		{Role: chat.RoleSystem, Content: fmt.Sprintf(systemPromptTemplate, task.SubmissionPath, task.Instructions)},
	}

	steps := 0
	for {
		if task.MaxSteps != nil && steps >= *task.MaxSteps {
			return agent.Result{StepsTaken: steps}, nil
		}
		if task.TimeLimit != 0 && time.Since(start) > task.TimeLimit {
			return agent.Result{StepsTaken: steps, TimedOut: true}, nil
		}
		if ctx.Err() != nil {
			return agent.Result{StepsTaken: steps, TimedOut: true}, ctx.Err()
		}

		steps++
		if steps%s.reminderEvery() == 0 && task.TimeLimit > 0 {
			messages = append(messages, chat.Message{
				Role:    chat.RoleUser,
				Content: fmt.Sprintf(reminderTemplate, time.Since(start).Round(time.Second), task.TimeLimit),
			})
		}

		messages = pruneMessages(messages, s.maxMessages())

		reply, err := s.Provider.CreateChatCompletion(ctx, messages)
		if err != nil {
			if isContextLengthError(err) {
				messages = pruneOldest(messages)
				continue
			}
			return agent.Result{StepsTaken: steps}, fmt.Errorf("basic solver: completion: %w", err)
		}
		messages = append(messages, chat.Message{Role: chat.RoleAssistant, Content: reply})
		s.logStep(ctx, task, steps, reply)
		if task.OnStep != nil {
			task.OnStep()
		}

		if submitted(reply) {
			return agent.Result{StepsTaken: steps, Submitted: true}, nil
		}

		command, ok := extractBashCommand(reply)
		if !ok {
			messages = append(messages, chat.Message{
				Role:    chat.RoleUser,
				Content: "No command or SUBMIT found in your reply. Continue working.",
			})
			continue
		}

		result, err := task.Sandbox.Exec(ctx, command, task.SubmissionPath, 5*time.Minute)
		var output string
		if err != nil {
			output = fmt.Sprintf("error running command: %v", err)
		} else if result.TimedOut {
			output = "command timed out"
		} else {
			output = fmt.Sprintf("exit code %d\n%s", result.ExitCode, result.Output)
		}
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: output})
	}
}

func (s *Solver) logStep(ctx context.Context, task agent.Task, step int, reply string) {
	if task.LogWriter == nil {
		return
	}
	line := fmt.Sprintf("[step %d] %s", step, strings.ReplaceAll(reply, "\n", " "))
	_ = task.LogWriter.WriteLine(ctx, line)
}

func submitted(reply string) bool {
	for _, line := range strings.Split(reply, "\n") {
		if strings.TrimSpace(line) == "SUBMIT" {
			return true
		}
	}
	return false
}

func extractBashCommand(reply string) (string, bool) {
	const fence = "```bash"
	start := strings.Index(reply, fence)
	if start < 0 {
		return "", false
	}
	rest := reply[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// isContextLengthError reports whether err looks like a provider's
// maximum-context-length rejection.
func isContextLengthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context") || strings.Contains(msg, "too many tokens")
}
