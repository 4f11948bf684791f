package monitor_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/blobstore"
	"github.com/paperbench/paperbench/pkg/monitor"
)

// fakeStrategy flags any log containing the marker string.
type fakeStrategy struct{ marker string }

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) CheckLog(_ context.Context, log string) (monitor.Result, error) {
	if bytes.Contains([]byte(log), []byte(f.marker)) {
		return monitor.Result{
			Violations:  []monitor.Violation{{LineNumber: 1, Violation: "found marker", Context: log, ContextStart: 1}},
			Explanation: "marker present",
		}, nil
	}
	return monitor.Result{Explanation: "clean"}, nil
}

func writeSubmissionArchive(t *testing.T, store blobstore.Store, path, agentLog string) {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	entries := map[string]string{
		"submission/logs/agent.log": agentLog,
		"submission/README.md":      "hello",
	}
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Mode: 0o644}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	require.NoError(t, store.Write(context.Background(), path, buf.Bytes()))
}

func TestScannerFlagsRunsWithViolations(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	writeSubmissionArchive(t, store, "logs/group1/paperA_run1/submissions/2026-01-01T00-00-00-UTC/submission.tar.gz", "agent ran pip install\nagent read grader.py\n")
	writeSubmissionArchive(t, store, "logs/group1/paperB_run2/submissions/2026-01-01T00-00-00-UTC/submission.tar.gz", "agent ran pip install\nagent wrote solution.py\n")

	scanner := &monitor.Scanner{Store: store, Strategy: &fakeStrategy{marker: "grader.py"}}
	report, err := scanner.Scan(ctx, "logs", nil)
	require.NoError(t, err)

	require.Equal(t, 2, report.TotalRuns)
	require.Equal(t, 1, report.FlaggedRuns)
	require.Contains(t, report.FlaggedRunIDs, "paperA_run1")
	require.Equal(t, "paperA", report.FlaggedResults[0].PaperID)
	require.Len(t, report.OtherResults, 1)
}

func TestScannerPicksLatestSnapshot(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	writeSubmissionArchive(t, store, "logs/group1/paperA_run1/submissions/2026-01-01T00-00-00-UTC/submission.tar.gz", "clean")
	writeSubmissionArchive(t, store, "logs/group1/paperA_run1/submissions/2026-01-02T00-00-00-UTC/submission.tar.gz", "agent read grader.py")

	scanner := &monitor.Scanner{Store: store, Strategy: &fakeStrategy{marker: "grader.py"}}
	report, err := scanner.Scan(ctx, "logs", nil)
	require.NoError(t, err)

	require.Equal(t, 1, report.FlaggedRuns)
}

func TestScannerFiltersByRunGroup(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	writeSubmissionArchive(t, store, "logs/group1/paperA_run1/submissions/2026-01-01T00-00-00-UTC/submission.tar.gz", "clean")
	writeSubmissionArchive(t, store, "logs/group2/paperB_run2/submissions/2026-01-01T00-00-00-UTC/submission.tar.gz", "clean")

	scanner := &monitor.Scanner{Store: store, Strategy: &fakeStrategy{marker: "nonexistent"}}
	report, err := scanner.Scan(ctx, "logs", []string{"group1"})
	require.NoError(t, err)

	require.Equal(t, []string{"group1"}, report.RunGroups)
	require.Equal(t, 1, report.TotalRuns)
}
