// Package docker implements sandbox.Gateway by shelling out to the docker
// CLI rather than taking on a Docker SDK dependency.
package docker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	pathpkg "path"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/sandbox"
)

const (
	// sandboxLabelKey is the label used to identify paperbench sandbox containers.
	sandboxLabelKey = "com.paperbench.sandbox"
	// sandboxLabelPID stores the PID of the paperbench process that created the container.
	sandboxLabelPID = "com.paperbench.sandbox.pid"
)

// RetryPolicy bounds Gateway.Lease's retry-on-transient-failure behaviour.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy makes up to three lease attempts, doubling the delay
// between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Gateway leases sandboxes backed by `docker run`.
type Gateway struct {
	Retry RetryPolicy
}

// NewGateway constructs a Gateway with the default retry policy.
func NewGateway() *Gateway {
	// Clean up any orphaned containers from previous paperbench runs
	cleanupOrphanedSandboxContainers()

	return &Gateway{Retry: DefaultRetryPolicy}
}

// cleanupOrphanedSandboxContainers removes sandbox containers from previous
// paperbench processes that are no longer running. This handles cases where
// paperbench was killed or crashed mid-evaluation.
func cleanupOrphanedSandboxContainers() {
	cmd := exec.Command("docker", "ps", "-q", "--filter", "label="+sandboxLabelKey)
	output, err := cmd.Output()
	if err != nil {
		return // Docker not available or no containers
	}

	containerIDs := strings.Fields(string(output))
	currentPID := os.Getpid()

	for _, containerID := range containerIDs {
		pid := getContainerOwnerPID(containerID)
		if pid == 0 || pid == currentPID || isProcessRunning(pid) {
			continue
		}

		slog.Debug("cleaning up orphaned sandbox container", "container", containerID, "pid", pid)
		rmCmd := exec.Command("docker", "rm", "-f", containerID)
		_ = rmCmd.Run()
	}
}

// getContainerOwnerPID returns the PID that created the container, or 0 if
// unknown.
func getContainerOwnerPID(containerID string) int {
	cmd := exec.Command("docker", "inspect", "-f",
		"{{index .Config.Labels \""+sandboxLabelPID+"\"}}", containerID)
	output, err := cmd.Output()
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(output)))
	return pid
}

// isProcessRunning checks if a process with the given PID is still running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to send signal 0
	// to check if the process actually exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

func (g *Gateway) Lease(ctx context.Context, cfg sandbox.Config) (sandbox.Sandbox, error) {
	policy := g.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		sb, err := startContainer(ctx, cfg)
		if err == nil {
			return sb, nil
		}
		lastErr = err
		slog.Warn("sandbox lease attempt failed", "attempt", attempt, "max_attempts", policy.MaxAttempts, "error", err)
		if attempt < policy.MaxAttempts {
			delay := policy.BaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &errs.SandboxStartFailure{Image: cfg.Image, Err: lastErr}
}

func startContainer(ctx context.Context, cfg sandbox.Config) (*Sandbox, error) {
	name := fmt.Sprintf("paperbench-%s", randomSuffix())

	args := []string{
		"run", "-d", "--init", "--name", name,
		"--label", sandboxLabelKey + "=true",
		"--label", fmt.Sprintf("%s=%d", sandboxLabelPID, os.Getpid()),
	}
	if cfg.Network == sandbox.NetworkNone {
		args = append(args, "--network", "none")
	}
	for _, m := range cfg.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		args = append(args, "-v", fmt.Sprintf("%s:%s:%s", m.HostPath, m.ContainerPath, mode))
	}
	for _, e := range cfg.Env {
		args = append(args, "-e", e)
	}
	if cfg.WorkingDir != "" {
		args = append(args, "-w", cfg.WorkingDir)
	}
	args = append(args, cfg.Image, "tail", "-f", "/dev/null")

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("docker run: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return &Sandbox{containerID: strings.TrimSpace(string(out)), proxied: cfg.Network == sandbox.NetworkProxied}, nil
}

func randomSuffix() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Sandbox is a single `docker run -d` container.
type Sandbox struct {
	mu          sync.Mutex
	containerID string
	released    bool
	proxied     bool
}

func (s *Sandbox) Exec(ctx context.Context, command, cwd string, timeout time.Duration) (sandbox.ExecResult, error) {
	s.mu.Lock()
	containerID := s.containerID
	released := s.released
	s.mu.Unlock()
	if released {
		return sandbox.ExecResult{}, &errs.SandboxReleasedError{}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{"exec", "-w", cwd, containerID, "/bin/sh", "-c", command}
	cmd := exec.CommandContext(execCtx, "docker", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := sandbox.ExecResult{Output: out.String()}
	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, &errs.SandboxOpError{Op: "exec", Err: err}
	}
	return result, nil
}

func (s *Sandbox) Upload(ctx context.Context, data io.Reader, path string) error {
	s.mu.Lock()
	containerID := s.containerID
	released := s.released
	s.mu.Unlock()
	if released {
		return &errs.SandboxReleasedError{}
	}

	script := "mkdir -p " + shellQuote(pathpkg.Dir(path)) + " && cat > " + shellQuote(path)
	cmd := exec.CommandContext(ctx, "docker", "exec", "-i", containerID, "/bin/sh", "-c", script)
	cmd.Stdin = data
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &errs.SandboxOpError{Op: "upload", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}
	return nil
}

func (s *Sandbox) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	containerID := s.containerID
	released := s.released
	s.mu.Unlock()
	if released {
		return nil, &errs.SandboxReleasedError{}
	}

	cmd := exec.CommandContext(ctx, "docker", "exec", containerID, "cat", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, &errs.SandboxOpError{Op: "download", Err: err}
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (s *Sandbox) DisableInternet(ctx context.Context) error {
	s.mu.Lock()
	containerID := s.containerID
	released := s.released
	proxied := s.proxied
	s.mu.Unlock()
	if released {
		return &errs.SandboxReleasedError{}
	}
	if proxied {
		// Proxied mode keeps a narrow egress path open for the completer;
		// disabling internet would also cut that path, so it is a no-op here.
		return nil
	}

	cmd := exec.CommandContext(ctx, "docker", "network", "disconnect", "bridge", containerID)
	_ = cmd.Run() // idempotent: already-disconnected is not an error worth surfacing
	return nil
}

// Release stops and removes the container. Safe to call multiple times.
func (s *Sandbox) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	containerID := s.containerID
	s.mu.Unlock()

	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", containerID)
	if err := cmd.Run(); err != nil {
		return &errs.SandboxOpError{Op: "release", Err: err}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
