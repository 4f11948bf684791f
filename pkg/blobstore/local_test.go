package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalWriteReadExists(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	path := store.Join("runs", "group1", "status.json")

	exists, err := store.Exists(ctx, path)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.Write(ctx, path, []byte(`{"status":"running"}`)))

	exists, err = store.Exists(ctx, path)
	require.NoError(t, err)
	require.True(t, exists)

	data, err := store.Read(ctx, path)
	require.NoError(t, err)
	require.Equal(t, `{"status":"running"}`, string(data))
}

func TestLocalWriteOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "file.txt", []byte("one")))
	require.NoError(t, store.Write(ctx, "file.txt", []byte("two")))

	data, err := store.Read(ctx, "file.txt")
	require.NoError(t, err)
	require.Equal(t, "two", string(data))
}

func TestLocalList(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "submissions/2026-01-01T00-00-00-UTC/submission.tar.gz", []byte("a")))
	require.NoError(t, store.Write(ctx, "submissions/2026-01-02T00-00-00-UTC/submission.tar.gz", []byte("b")))

	names, err := store.List(ctx, "submissions")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2026-01-01T00-00-00-UTC", "2026-01-02T00-00-00-UTC"}, names)

	names, err = store.List(ctx, "no-such-prefix")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestLocalGlob(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "runs/g1/r1/submissions/ts1/submission.tar.gz", []byte("a")))
	require.NoError(t, store.Write(ctx, "runs/g1/r1/submissions/ts1/log.json", []byte("{}")))
	require.NoError(t, store.Write(ctx, "runs/g1/r1/submissions/ts2/submission.tar.gz", []byte("b")))

	matches, err := store.Glob(ctx, "runs/g1/r1/submissions/*/submission.tar.gz")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}
