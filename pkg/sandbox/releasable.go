package sandbox

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/paperbench/paperbench/pkg/errs"
)

// Releasable wraps a Sandbox so the orchestrator can hand it back to the
// gateway before the surrounding scope unwinds, keeping at most one
// sandbox leased per run at a time. After Release, every further operation
// returns SandboxReleasedError. Release itself is idempotent.
type Releasable struct {
	mu       sync.Mutex
	delegate Sandbox
	release  func(context.Context) error
	released bool
}

// NewReleasable wraps delegate. release is invoked at most once, the first
// time Release is called.
func NewReleasable(delegate Sandbox, release func(context.Context) error) *Releasable {
	return &Releasable{delegate: delegate, release: release}
}

func (r *Releasable) active() (Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, false
	}
	return r.delegate, true
}

func (r *Releasable) Exec(ctx context.Context, command, cwd string, timeout time.Duration) (ExecResult, error) {
	d, ok := r.active()
	if !ok {
		return ExecResult{}, &errs.SandboxReleasedError{}
	}
	return d.Exec(ctx, command, cwd, timeout)
}

func (r *Releasable) Upload(ctx context.Context, data io.Reader, path string) error {
	d, ok := r.active()
	if !ok {
		return &errs.SandboxReleasedError{}
	}
	return d.Upload(ctx, data, path)
}

func (r *Releasable) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	d, ok := r.active()
	if !ok {
		return nil, &errs.SandboxReleasedError{}
	}
	return d.Download(ctx, path)
}

func (r *Releasable) DisableInternet(ctx context.Context) error {
	d, ok := r.active()
	if !ok {
		return &errs.SandboxReleasedError{}
	}
	return d.DisableInternet(ctx)
}

// Release stops the delegate sandbox. Safe to call multiple times; only the
// first call has any effect.
func (r *Releasable) Release(ctx context.Context) error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	release := r.release
	r.mu.Unlock()

	if release != nil {
		return release(ctx)
	}
	return nil
}

// Released reports whether Release has already run.
func (r *Releasable) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
