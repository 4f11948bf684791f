package reproduction

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/sandbox"
	"github.com/paperbench/paperbench/pkg/sandbox/fake"
)

func writeSubmission(t *testing.T, withScript bool) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')"), 0o644))
	if withScript {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "reproduce.sh"), []byte("#!/bin/bash\necho done\n"), 0o755))
	}
	return dir
}

func TestReproduceSkipsWhenScriptMissing(t *testing.T) {
	dir := writeSubmission(t, false)
	gw := &fake.Gateway{}
	r := &Runner{Gateway: gw, Config: Config{Timeout: time.Minute}}

	meta, err := r.Reproduce(context.Background(), dir)
	require.NoError(t, err)
	require.False(t, meta.ReproScriptExists)
	require.Empty(t, gw.Leased) // never leased a sandbox since there's nothing to run
}

func TestReproduceRunsScriptInFreshSandbox(t *testing.T) {
	dir := writeSubmission(t, true)
	gw := &fake.Gateway{
		Exec: func(command, cwd string) (sandbox.ExecResult, error) {
			return sandbox.ExecResult{ExitCode: 0, Output: "ran: " + command}, nil
		},
	}
	r := &Runner{Gateway: gw, Config: Config{Timeout: time.Minute}}

	meta, err := r.Reproduce(context.Background(), dir)
	require.NoError(t, err)
	require.True(t, meta.ReproScriptExists)
	require.False(t, meta.TimedOut)
	require.Contains(t, meta.ReproLog, "reproduce.sh")
	require.Empty(t, meta.RetriedResults)
	require.Equal(t, "/submission", meta.ExecutedSubmission)
	require.Len(t, gw.Leased, 1)
	require.True(t, gw.Leased[0].Released())
}

// A first attempt that finishes far under the retry threshold gets the
// salvage fixes applied and one full re-run; both attempts are recorded
// and the final attempt's figures become the run's outcome.
func TestReproduceSalvagesShortFirstRun(t *testing.T) {
	dir := writeSubmission(t, true)
	bashCalls := 0
	gw := &fake.Gateway{
		Exec: func(command, cwd string) (sandbox.ExecResult, error) {
			if strings.HasPrefix(command, "bash ") {
				bashCalls++
				if bashCalls == 1 {
					return sandbox.ExecResult{ExitCode: 1, Output: "crashed early"}, nil
				}
				return sandbox.ExecResult{ExitCode: 0, Output: "salvaged"}, nil
			}
			return sandbox.ExecResult{ExitCode: 0}, nil
		},
	}
	r := &Runner{Gateway: gw, Config: Config{Timeout: time.Hour, RetryThreshold: 10 * time.Minute}}

	meta, err := r.Reproduce(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 2, bashCalls)
	require.Len(t, meta.RetriedResults, 2)
	require.Equal(t, "crashed early", meta.RetriedResults[0].Log)
	require.Equal(t, "salvaged", meta.RetriedResults[1].Log)
	require.Equal(t, "salvaged", meta.ReproLog)
	require.NotNil(t, meta.ExecutionTimeSeconds)
}

func TestReproduceInitializesGitWhenAbsent(t *testing.T) {
	dir := writeSubmission(t, true)
	gw := &fake.Gateway{}
	r := &Runner{Gateway: gw, Config: Config{Timeout: time.Minute}}

	meta, err := r.Reproduce(context.Background(), dir)
	require.NoError(t, err)
	require.False(t, meta.IsValidGitRepo)

	sawInit := false
	for _, cmd := range gw.Leased[0].Execs {
		if strings.Contains(cmd, "git init") {
			sawInit = true
		}
	}
	require.True(t, sawInit)
}

func TestConfigSalvagingDisabledWhenThresholdExceedsTimeout(t *testing.T) {
	c := Config{Timeout: time.Minute, RetryThreshold: time.Hour}
	require.False(t, c.salvagingEnabled())
}
