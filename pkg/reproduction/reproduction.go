// Package reproduction runs a submission's reproduce.sh inside a fresh,
// network-unproxied sandbox and captures the git and filesystem metadata
// needed to judge whether the reproduction actually ran.
package reproduction

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/paperbench/paperbench/pkg/runrecord"
	"github.com/paperbench/paperbench/pkg/sandbox"
)

// Config bounds a reproduction run.
type Config struct {
	// Timeout bounds each reproduce.sh attempt.
	Timeout time.Duration
	// RetryThreshold triggers a salvage retry: a first attempt that
	// finishes in less than this (without timing out) is suspiciously
	// short and gets one more chance after lightweight fixes. Salvaging
	// is disabled when RetryThreshold is zero or >= Timeout.
	RetryThreshold time.Duration
	// ScriptPath names the reproduction script relative to the submission
	// root, default "reproduce.sh".
	ScriptPath string
	// SubmissionContainerPath is where the submission is extracted inside
	// the sandbox, default "/submission".
	SubmissionContainerPath string
}

func (c Config) scriptPath() string {
	if c.ScriptPath == "" {
		return "reproduce.sh"
	}
	return c.ScriptPath
}

func (c Config) containerPath() string {
	if c.SubmissionContainerPath == "" {
		return "/submission"
	}
	return c.SubmissionContainerPath
}

// salvagingEnabled reports whether a short first attempt should be retried.
func (c Config) salvagingEnabled() bool {
	return c.RetryThreshold > 0 && c.RetryThreshold < c.Timeout
}

// Runner reproduces a submission inside a leased sandbox.
type Runner struct {
	Gateway       sandbox.Gateway
	SandboxConfig sandbox.Config
	Config        Config
}

// Reproduce extracts submissionDir's contents into a fresh sandbox, runs
// its reproduce.sh under Config.Timeout, and returns the reproduction
// metadata for the run record. A first attempt that completes in under
// Config.RetryThreshold is re-run once after salvage fixes; both attempts
// land in RetriedResults with the final attempt's figures reported as the
// run's outcome.
func (r *Runner) Reproduce(ctx context.Context, submissionDir string) (*runrecord.ReproductionMetadata, error) {
	meta := &runrecord.ReproductionMetadata{}

	isRepo, gitLog := inspectGit(submissionDir)
	meta.IsValidGitRepo = isRepo
	meta.GitLog = gitLog
	meta.FilesBeforeReproduce = listFiles(submissionDir)

	scriptExists := false
	if _, err := os.Stat(filepath.Join(submissionDir, r.Config.scriptPath())); err == nil {
		scriptExists = true
	}
	meta.ReproScriptExists = scriptExists
	if !scriptExists {
		return meta, nil
	}

	sb, err := r.Gateway.Lease(ctx, r.SandboxConfig)
	if err != nil {
		return nil, fmt.Errorf("reproduction: leasing sandbox: %w", err)
	}
	defer sb.Release(ctx)

	if err := uploadDir(ctx, sb, submissionDir, r.Config.containerPath()); err != nil {
		return nil, fmt.Errorf("reproduction: staging submission: %w", err)
	}

	if !isRepo {
		if err := r.initGit(ctx, sb); err != nil {
			return nil, fmt.Errorf("reproduction: initializing git: %w", err)
		}
	}

	outcome, err := r.runScript(ctx, sb, r.Config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("reproduction: running script: %w", err)
	}
	final := outcome

	underrun := !outcome.TimedOut && outcome.ExecutionTimeSeconds < r.Config.RetryThreshold.Seconds()
	if underrun && r.Config.salvagingEnabled() {
		if err := r.applySalvageFixes(ctx, sb); err != nil {
			return nil, fmt.Errorf("reproduction: salvage fixes: %w", err)
		}
		retry, err := r.runScript(ctx, sb, r.Config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("reproduction: salvage retry: %w", err)
		}
		meta.RetriedResults = []runrecord.ReproScriptRunOutcome{outcome, retry}
		final = retry
	}

	meta.TimedOut = final.TimedOut
	meta.ReproLog = final.Log
	meta.ExecutionTimeSeconds = &final.ExecutionTimeSeconds
	meta.ExecutedSubmission = r.Config.containerPath()

	gitStatus, err := r.remoteGitStatus(ctx, sb)
	if err == nil {
		meta.GitStatusAfterReproduce = &gitStatus
	}

	afterDir, cleanup, err := downloadDir(ctx, sb, r.Config.containerPath())
	if err == nil {
		defer cleanup()
		meta.FilesAfterReproduce = listFiles(afterDir)
	}

	return meta, nil
}

func (r *Runner) runScript(ctx context.Context, sb sandbox.Sandbox, timeout time.Duration) (runrecord.ReproScriptRunOutcome, error) {
	start := time.Now()
	cmd := fmt.Sprintf("bash %s", filepath.Join(r.Config.containerPath(), r.Config.scriptPath()))
	result, err := sb.Exec(ctx, cmd, r.Config.containerPath(), timeout)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return runrecord.ReproScriptRunOutcome{}, err
	}
	return runrecord.ReproScriptRunOutcome{
		ExecutionTimeSeconds: elapsed,
		TimedOut:             result.TimedOut,
		Log:                  result.Output,
	}, nil
}

// initGit makes the staged submission a git repository with a single
// snapshot commit, so the post-run git status diff has a baseline.
func (r *Runner) initGit(ctx context.Context, sb sandbox.Sandbox) error {
	cmd := "git init -q . && git add -A && " +
		"git -c user.name=reproducer -c user.email=reproducer@localhost commit -qm snapshot --allow-empty"
	result, err := sb.Exec(ctx, cmd, r.Config.containerPath(), 2*time.Minute)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git init exited %d: %s", result.ExitCode, result.Output)
	}
	return nil
}

// applySalvageFixes runs the deterministic pre-retry fix set: create the
// output directories scripts most often assume, re-export any env vars the
// agent left in agent.env, and make sure the script itself is executable.
func (r *Runner) applySalvageFixes(ctx context.Context, sb sandbox.Sandbox) error {
	cmd := fmt.Sprintf("mkdir -p output results figures && chmod +x %s || true", r.Config.scriptPath())
	if _, err := sb.Exec(ctx, cmd, r.Config.containerPath(), time.Minute); err != nil {
		return err
	}
	envCmd := "[ -f agent.env ] && { set -a; . ./agent.env; set +a; } || true"
	_, err := sb.Exec(ctx, envCmd, r.Config.containerPath(), time.Minute)
	return err
}

func (r *Runner) remoteGitStatus(ctx context.Context, sb sandbox.Sandbox) (string, error) {
	result, err := sb.Exec(ctx, "git status --porcelain", r.Config.containerPath(), 30*time.Second)
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// inspectGit opens dir as a git repository and, if valid, renders a
// one-line-per-commit log (newest first).
func inspectGit(dir string) (valid bool, log string) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false, ""
	}
	ref, err := repo.Head()
	if err != nil {
		return true, ""
	}
	commits, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return true, ""
	}
	var b strings.Builder
	const maxCommits = 200
	n := 0
	commits.ForEach(func(c *object.Commit) error {
		if n >= maxCommits {
			return storer.ErrStop
		}
		fmt.Fprintf(&b, "%s %s\n", c.Hash.String()[:8], strings.SplitN(c.Message, "\n", 2)[0])
		n++
		return nil
	})
	return true, b.String()
}

// listFiles renders a sorted, newline-joined relative file listing for the
// before/after filesystem snapshots.
func listFiles(dir string) string {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(paths)
	return strings.Join(paths, "\n")
}

// uploadDir tars dir and extracts it into the sandbox at containerPath.
func uploadDir(ctx context.Context, sb sandbox.Sandbox, dir, containerPath string) error {
	archive, err := tarDir(dir)
	if err != nil {
		return err
	}
	const stagePath = "/tmp/paperbench-reproduce-submission.tar.gz"
	if err := sb.Upload(ctx, archive, stagePath); err != nil {
		return err
	}
	cmd := fmt.Sprintf("rm -rf %s && mkdir -p %s && tar xzf %s -C %s", containerPath, containerPath, stagePath, containerPath)
	result, err := sb.Exec(ctx, cmd, "/", 5*time.Minute)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("extracting submission: exit %d: %s", result.ExitCode, result.Output)
	}
	return nil
}

// downloadDir tars containerPath inside the sandbox, downloads and
// extracts it to a fresh host temp directory. The caller must invoke the
// returned cleanup function once done.
func downloadDir(ctx context.Context, sb sandbox.Sandbox, containerPath string) (dir string, cleanup func(), err error) {
	const stagePath = "/tmp/paperbench-reproduce-after.tar.gz"
	cmd := fmt.Sprintf("tar czf %s -C %s .", stagePath, containerPath)
	result, err := sb.Exec(ctx, cmd, "/", 5*time.Minute)
	if err != nil {
		return "", nil, err
	}
	if result.ExitCode != 0 {
		return "", nil, fmt.Errorf("archiving submission: exit %d: %s", result.ExitCode, result.Output)
	}

	reader, err := sb.Download(ctx, stagePath)
	if err != nil {
		return "", nil, err
	}
	defer reader.Close()

	tmp, err := os.MkdirTemp("", "paperbench-reproduce-after-*")
	if err != nil {
		return "", nil, err
	}
	if err := untarInto(reader, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", nil, err
	}
	return tmp, func() { os.RemoveAll(tmp) }, nil
}

func tarDir(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func untarInto(r io.Reader, dest string) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
