package basic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/agent"
	"github.com/paperbench/paperbench/pkg/chat"
	"github.com/paperbench/paperbench/pkg/sandbox"
	"github.com/paperbench/paperbench/pkg/sandbox/fake"
)

type scriptedProvider struct {
	replies []string
	i       int
}

func (p *scriptedProvider) CreateChatCompletion(context.Context, []chat.Message) (string, error) {
	if p.i >= len(p.replies) {
		return "SUBMIT", nil
	}
	r := p.replies[p.i]
	p.i++
	return r, nil
}

func (p *scriptedProvider) CreateChatCompletionStream(context.Context, []chat.Message) (chat.MessageStream, error) {
	panic("not used")
}

func TestSolverRunsCommandsThenSubmits(t *testing.T) {
	gw := &fake.Gateway{
		Exec: func(command, cwd string) (sandbox.ExecResult, error) {
			return sandbox.ExecResult{ExitCode: 0, Output: "ok: " + command}, nil
		},
	}
	sb, err := gw.Lease(context.Background(), sandbox.Config{})
	require.NoError(t, err)

	provider := &scriptedProvider{replies: []string{
		"```bash\nls\n```",
		"```bash\npython train.py\n```",
		"SUBMIT",
	}}
	s := &Solver{Provider: provider}

	result, err := s.Run(context.Background(), agent.Task{
		Sandbox:        sb,
		SubmissionPath: "/submission",
		Instructions:   "reproduce the paper",
	})
	require.NoError(t, err)
	require.True(t, result.Submitted)
	require.Equal(t, 3, result.StepsTaken)

	fsb := sb.(*fake.Sandbox)
	require.Equal(t, []string{"ls", "python train.py"}, fsb.Execs)
}

func TestSolverStopsAtMaxSteps(t *testing.T) {
	gw := &fake.Gateway{}
	sb, err := gw.Lease(context.Background(), sandbox.Config{})
	require.NoError(t, err)

	provider := &scriptedProvider{replies: []string{"no command here", "still nothing"}}
	s := &Solver{Provider: provider}
	maxSteps := 1

	result, err := s.Run(context.Background(), agent.Task{
		Sandbox:        sb,
		SubmissionPath: "/submission",
		MaxSteps:       &maxSteps,
	})
	require.NoError(t, err)
	require.False(t, result.Submitted)
	require.Equal(t, 1, result.StepsTaken)
}

func TestSolverStopsAtTimeLimit(t *testing.T) {
	gw := &fake.Gateway{}
	sb, err := gw.Lease(context.Background(), sandbox.Config{})
	require.NoError(t, err)

	provider := &scriptedProvider{}
	s := &Solver{Provider: provider}

	result, err := s.Run(context.Background(), agent.Task{
		Sandbox:        sb,
		SubmissionPath: "/submission",
		TimeLimit:      -time.Second, // already elapsed
	})
	require.NoError(t, err)
	require.True(t, result.TimedOut)
}

type erroringProvider struct{ err error }

func (p erroringProvider) CreateChatCompletion(context.Context, []chat.Message) (string, error) {
	return "", p.err
}
func (p erroringProvider) CreateChatCompletionStream(context.Context, []chat.Message) (chat.MessageStream, error) {
	panic("not used")
}

func TestSolverPrunesOnContextLengthError(t *testing.T) {
	gw := &fake.Gateway{}
	sb, err := gw.Lease(context.Background(), sandbox.Config{})
	require.NoError(t, err)

	calls := 0
	s := &Solver{Provider: contextErrorThenSubmit(&calls)}

	maxSteps := 5
	result, err := s.Run(context.Background(), agent.Task{
		Sandbox:        sb,
		SubmissionPath: "/submission",
		MaxSteps:       &maxSteps,
	})
	require.NoError(t, err)
	require.True(t, result.Submitted)
}

type contextErrorThenSubmitProvider struct{ calls *int }

func contextErrorThenSubmit(calls *int) *contextErrorThenSubmitProvider {
	return &contextErrorThenSubmitProvider{calls: calls}
}

func (p *contextErrorThenSubmitProvider) CreateChatCompletion(context.Context, []chat.Message) (string, error) {
	*p.calls++
	if *p.calls == 1 {
		return "", errors.New("maximum context length exceeded")
	}
	return "SUBMIT", nil
}

func (p *contextErrorThenSubmitProvider) CreateChatCompletionStream(context.Context, []chat.Message) (chat.MessageStream, error) {
	panic("not used")
}
