package scheduler_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	agentdummy "github.com/paperbench/paperbench/pkg/agent/dummy"
	"github.com/paperbench/paperbench/pkg/blobstore"
	"github.com/paperbench/paperbench/pkg/judge"
	judgedummy "github.com/paperbench/paperbench/pkg/judge/dummy"
	"github.com/paperbench/paperbench/pkg/orchestrator"
	"github.com/paperbench/paperbench/pkg/rubric"
	"github.com/paperbench/paperbench/pkg/runrecord"
	"github.com/paperbench/paperbench/pkg/sandbox"
	"github.com/paperbench/paperbench/pkg/sandbox/fake"
	"github.com/paperbench/paperbench/pkg/scheduler"
)

func TestBuildTasksMintsRunIDs(t *testing.T) {
	s := scheduler.New(scheduler.Config{
		PaperSplit: []string{"paperA", "paperB"},
		NTries:     2,
	})

	tasks, err := s.BuildTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	seen := map[string]bool{}
	for _, task := range tasks {
		require.True(t, strings.HasPrefix(task.RunID, task.PaperID+"_"))
		require.False(t, seen[task.RunID], "run ids must be unique")
		seen[task.RunID] = true
	}
}

func TestBuildTasksReusesResumeGroupRunIDs(t *testing.T) {
	ctx := context.Background()
	ledger, err := runrecord.OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.Record(ctx, "group1", "paperA_existing", "paperA", 0))

	s := scheduler.New(scheduler.Config{
		PaperSplit: []string{"paperA"},
		NTries:     2,
		RunGroupID: "group1",
		Ledger:     ledger,
	})

	tasks, err := s.BuildTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "paperA_existing", tasks[0].RunID)
	require.NotEqual(t, "paperA_existing", tasks[1].RunID)
}

func TestBuildTasksResumeNoExtendSkipsUnpaired(t *testing.T) {
	ctx := context.Background()
	ledger, err := runrecord.OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.Record(ctx, "group1", "paperA_existing", "paperA", 0))

	s := scheduler.New(scheduler.Config{
		PaperSplit:     []string{"paperA", "paperB"},
		NTries:         2,
		RunGroupID:     "group1",
		Ledger:         ledger,
		ResumeNoExtend: true,
	})

	tasks, err := s.BuildTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "paperA_existing", tasks[0].RunID)
}

func testArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	entries := map[string]string{
		"submission/reproduce.sh": "#!/bin/bash\necho done\n",
		"logs/agent.log":          "one step\n",
	}
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Mode: 0o644}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

// newPipeline wires a full dummy pipeline: fake sandboxes, dummy solver,
// dummy judge, reproduction skipped.
func newPipeline(t *testing.T, store blobstore.Store, failPapers map[string]bool) func(ctx context.Context, task scheduler.Task) (*orchestrator.Orchestrator, error) {
	t.Helper()
	archive := testArchive(t)
	return func(_ context.Context, task scheduler.Task) (*orchestrator.Orchestrator, error) {
		if failPapers[task.PaperID] {
			return nil, errors.New("no rubric for " + task.PaperID)
		}
		gw := &fake.Gateway{}
		gw.Exec = func(command, cwd string) (sandbox.ExecResult, error) {
			if strings.Contains(command, "tar czf /tmp/paperbench-submission.tar.gz") {
				for _, sb := range gw.Leased {
					sb.PutFile("/tmp/paperbench-submission.tar.gz", archive)
				}
			}
			return sandbox.ExecResult{ExitCode: 0}, nil
		}
		tree := &rubric.Tree{Nodes: []rubric.Node{
			{ID: "root", Weight: 1, SubNodes: []int{1}},
			{ID: "leaf", Weight: 1, Requirements: "do it"},
		}}
		return orchestrator.New(orchestrator.Config{
			PaperID:      task.PaperID,
			RunID:        task.RunID,
			GroupID:      "group1",
			Instructions: "go",

			Gateway:      gw,
			AgentSandbox: sandbox.Config{Image: "agent:test"},

			Solver:           agentdummy.Solver{},
			Rubric:           tree,
			SkipReproduction: true,
			JudgeEngine:      &judge.Engine{Grader: judgedummy.Grader{}},

			Record: &runrecord.Record{Store: store, RunsDir: "runs", GroupID: "group1", RunID: task.RunID},

			SnapshotHeavyInterval: time.Hour,
			SnapshotLightInterval: time.Hour,
		}), nil
	}
}

func TestRunExecutesAllTasksAndAggregates(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	s := scheduler.New(scheduler.Config{
		PaperSplit:      []string{"paperA", "paperB"},
		NTries:          2,
		Concurrency:     2,
		NewOrchestrator: newPipeline(t, store, nil),
	})

	results, summary, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		require.NoError(t, r.Err)
		require.True(t, r.Result.SubmissionExists)
	}
	require.Equal(t, 4, summary.NCompleteTries)
	require.Equal(t, 0.0, summary.MeanScore)
	require.NotNil(t, summary.StdErr)
}

func TestRunContinuesPastSystemErrors(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	s := scheduler.New(scheduler.Config{
		PaperSplit:      []string{"paperA", "paperB"},
		NTries:          1,
		Concurrency:     1,
		NewOrchestrator: newPipeline(t, store, map[string]bool{"paperB": true}),
	})

	results, summary, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	require.Equal(t, 1, failed)
	require.Equal(t, 1, summary.NCompleteTries)
}
