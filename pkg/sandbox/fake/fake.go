// Package fake is an in-memory sandbox.Gateway used by orchestrator,
// scheduler, and judge tests so the suite never shells out to a real
// container runtime.
package fake

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/sandbox"
)

// ExecFunc lets a test script a sandbox's responses to Exec by command.
type ExecFunc func(command, cwd string) (sandbox.ExecResult, error)

// Gateway hands out in-memory Sandboxes. LeaseErr, when set, is returned by
// every Lease call instead of succeeding (used to exercise SandboxStartFailure
// paths).
type Gateway struct {
	mu       sync.Mutex
	Leased   []*Sandbox
	LeaseErr error
	Exec     ExecFunc
}

func (g *Gateway) Lease(_ context.Context, cfg sandbox.Config) (sandbox.Sandbox, error) {
	if g.LeaseErr != nil {
		return nil, g.LeaseErr
	}
	sb := &Sandbox{files: make(map[string][]byte), exec: g.Exec, cfg: cfg}
	g.mu.Lock()
	g.Leased = append(g.Leased, sb)
	g.mu.Unlock()
	return sb, nil
}

// Sandbox is an in-memory filesystem plus a scriptable Exec response.
type Sandbox struct {
	mu               sync.Mutex
	files            map[string][]byte
	exec             ExecFunc
	cfg              sandbox.Config
	released         bool
	internetDisabled bool
	Execs            []string
}

func (s *Sandbox) Exec(_ context.Context, command, cwd string, _ time.Duration) (sandbox.ExecResult, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return sandbox.ExecResult{}, &errs.SandboxReleasedError{}
	}
	s.Execs = append(s.Execs, command)
	exec := s.exec
	s.mu.Unlock()
	// The scripted response runs unlocked so it may seed files with PutFile.
	if exec != nil {
		return exec(command, cwd)
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}

func (s *Sandbox) Upload(_ context.Context, data io.Reader, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return &errs.SandboxReleasedError{}
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.files[path] = b
	return nil
}

func (s *Sandbox) Download(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, &errs.SandboxReleasedError{}
	}
	b, ok := s.files[path]
	if !ok {
		return nil, &errs.SandboxOpError{Op: "download", Err: errNotFound{path}}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// PutFile seeds path with data, as if a prior Upload or Exec had written it.
// Used by tests that need Download to succeed without a real filesystem.
func (s *Sandbox) PutFile(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
}

func (s *Sandbox) DisableInternet(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return &errs.SandboxReleasedError{}
	}
	s.internetDisabled = true
	return nil
}

func (s *Sandbox) Release(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

// Released reports whether Release has been called, for test assertions.
func (s *Sandbox) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type errNotFound struct{ path string }

func (e errNotFound) Error() string { return "no such file: " + e.path }
