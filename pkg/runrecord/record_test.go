package runrecord

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/blobstore"
	"github.com/paperbench/paperbench/pkg/rubric"
)

func newTestRecord(t *testing.T) *Record {
	t.Helper()
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	return &Record{Store: store, RunsDir: "runs", GroupID: "group1", RunID: "paperA_run1"}
}

func TestStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRecord(t)

	status, err := r.ReadStatus(ctx)
	require.NoError(t, err)
	require.Nil(t, status)

	finished := int64(1753999999)
	want := Status{Status: "done", CreatedAt: 1753990000, AgentFinishedAt: &finished, LastUpdated: 1753999999}
	require.NoError(t, r.WriteStatus(ctx, want))

	got, err := r.ReadStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, want, *got)
}

func TestIsResumableNeedsStatusAndSnapshot(t *testing.T) {
	ctx := context.Background()
	r := newTestRecord(t)

	ok, err := r.IsResumable(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.WriteStatus(ctx, Status{Status: "running"}))
	ok, err = r.IsResumable(ctx)
	require.NoError(t, err)
	require.False(t, ok, "status alone is not resumable")

	ts := FormatSnapshotTimestamp(time.Now())
	archive := r.Store.Join(r.SubmissionDir(ts), "submission.tar.gz")
	require.NoError(t, r.Store.Write(ctx, archive, []byte("tar")))

	ok, err = r.IsResumable(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := r.SnapshotCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func writeSnapshotAt(t *testing.T, r *Record, at time.Time) string {
	t.Helper()
	ts := FormatSnapshotTimestamp(at)
	archive := r.Store.Join(r.SubmissionDir(ts), "submission.tar.gz")
	require.NoError(t, r.Store.Write(context.Background(), archive, []byte("tar")))
	return ts
}

func TestLatestSnapshotOrdering(t *testing.T) {
	r := newTestRecord(t)
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	writeSnapshotAt(t, r, base)
	writeSnapshotAt(t, r, base.Add(30*time.Minute))
	last := writeSnapshotAt(t, r, base.Add(2*time.Hour))

	got, err := r.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, last, got)
}

func TestSnapshotAtOrBefore(t *testing.T) {
	r := newTestRecord(t)
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	writeSnapshotAt(t, r, base.Add(10*time.Minute))
	within := writeSnapshotAt(t, r, base.Add(50*time.Minute))
	writeSnapshotAt(t, r, base.Add(3*time.Hour))

	got, err := r.SnapshotAtOrBefore(context.Background(), base.Unix(), int64(time.Hour.Seconds()))
	require.NoError(t, err)
	require.Equal(t, within, got)
}

func TestAgentLogAppends(t *testing.T) {
	ctx := context.Background()
	r := newTestRecord(t)
	log := r.AgentLog()

	require.NoError(t, log.WriteLine(ctx, "step 1"))
	require.NoError(t, log.WriteLine(ctx, "step 2"))

	data, err := r.Store.Read(ctx, r.AgentLogPath())
	require.NoError(t, err)
	require.Equal(t, "step 1\nstep 2\n", string(data))
}

func TestJudgeOutputJSONRoundTrip(t *testing.T) {
	tree, err := rubric.Parse([]byte(`{
		"id": "root", "requirements": "", "weight": 1, "requirement_type": "other",
		"sub_nodes": [
			{"id": "leaf", "requirements": "do it", "weight": 2, "requirement_type": "code_development", "sub_nodes": []}
		]
	}`))
	require.NoError(t, err)

	out := JudgeOutput{
		JudgeType:      "dummy",
		Score:          0.5,
		NumLeafNodes:   1,
		GradedAt:       "2026-07-31T12:00:00Z",
		GradedTaskTree: tree,
		TokenUsage:     &TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}

	data, err := json.Marshal(out)
	require.NoError(t, err)

	// graded_task_tree serializes in the nested rubric shape, not the
	// flat arena.
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	treeWire, ok := wire["graded_task_tree"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "root", treeWire["id"])

	var back JudgeOutput
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, out.Score, back.Score)
	require.Equal(t, len(tree.Nodes), len(back.GradedTaskTree.Nodes))
	require.Equal(t, "leaf", back.GradedTaskTree.Nodes[1].ID)
}
