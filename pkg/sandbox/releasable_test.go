package sandbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/sandbox"
	"github.com/paperbench/paperbench/pkg/sandbox/fake"
)

func leaseFake(t *testing.T) sandbox.Sandbox {
	t.Helper()
	gw := &fake.Gateway{}
	sb, err := gw.Lease(context.Background(), sandbox.Config{})
	require.NoError(t, err)
	return sb
}

func TestReleasableOperationsFailAfterRelease(t *testing.T) {
	ctx := context.Background()
	sb := leaseFake(t)
	r := sandbox.NewReleasable(sb, sb.Release)

	_, err := r.Exec(ctx, "true", "/", time.Second)
	require.NoError(t, err)

	require.NoError(t, r.Release(ctx))

	var releasedErr *errs.SandboxReleasedError
	_, err = r.Exec(ctx, "true", "/", time.Second)
	require.ErrorAs(t, err, &releasedErr)
	_, err = r.Download(ctx, "/anything")
	require.ErrorAs(t, err, &releasedErr)
	err = r.DisableInternet(ctx)
	require.ErrorAs(t, err, &releasedErr)
}

func TestReleasableDoubleReleaseIsNoop(t *testing.T) {
	ctx := context.Background()
	releases := 0
	sb := leaseFake(t)
	r := sandbox.NewReleasable(sb, func(context.Context) error {
		releases++
		return nil
	})

	require.NoError(t, r.Release(ctx))
	require.NoError(t, r.Release(ctx))
	require.NoError(t, r.Release(ctx))
	require.Equal(t, 1, releases)
	require.True(t, r.Released())
}

func TestReleasableSurfacesReleaseError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("stop failed")
	sb := leaseFake(t)
	r := sandbox.NewReleasable(sb, func(context.Context) error { return boom })

	require.ErrorIs(t, r.Release(ctx), boom)
	// The handle is released regardless; a retry is a no-op.
	require.NoError(t, r.Release(ctx))
}
