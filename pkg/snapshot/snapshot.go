// Package snapshot drives the periodic upload loop that keeps a run's
// RunRecord current while its agent is executing: a light heartbeat
// refreshes status.json every LightInterval, and a heavy snapshot tars up
// the submission and logs directories and writes a new submissions/<ts>/
// entry every HeavyInterval. On stop, a final heavy snapshot runs with its
// own cancellation-shielded context so the last bit of agent work is never
// lost to the run's overall deadline.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync/atomic"
	"time"

	"github.com/paperbench/paperbench/pkg/runrecord"
	"github.com/paperbench/paperbench/pkg/sandbox"
)

// Stats supplies the agent-progress figures that land in a snapshot's
// log.json. A nil StatsFunc on Loop yields a zero Stats.
type Stats struct {
	NumMessages       int
	ProductiveRuntime float64
	RetryTime         float64
}

// Loop periodically snapshots a sandbox's output directories into a
// RunRecord while an agent runs inside it.
type Loop struct {
	Sandbox sandbox.Sandbox
	Record  *runrecord.Record

	// SubmissionPath and LogsPath are the in-container directories bundled
	// into each archive, defaults "/submission" and "/logs". Each becomes
	// a same-named top-level member of the tar.
	SubmissionPath string
	LogsPath       string

	LightInterval time.Duration // default 5 * time.Minute if zero
	HeavyInterval time.Duration // default 10 * time.Minute if zero

	// EverySteps additionally triggers a heavy snapshot each time StepTick
	// has been called that many times. Zero disables step triggering.
	EverySteps int

	StatsFunc func() Stats
	Logger    *slog.Logger

	// FinalSnapshotTimeout bounds the shielded snapshot taken on Stop.
	// Defaults to 2 minutes if zero.
	FinalSnapshotTimeout time.Duration

	startedAt time.Time
	done      chan struct{}
	stopped   chan struct{}
	stepC     chan struct{}

	snapshotCt atomic.Int64
	stepCt     atomic.Int64
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Loop) submissionPath() string {
	if l.SubmissionPath == "" {
		return "/submission"
	}
	return l.SubmissionPath
}

func (l *Loop) logsPath() string {
	if l.LogsPath == "" {
		return "/logs"
	}
	return l.LogsPath
}

// Start begins the periodic loop in a background goroutine. Stop must be
// called exactly once to end it.
func (l *Loop) Start(ctx context.Context) {
	if l.LightInterval <= 0 {
		l.LightInterval = 5 * time.Minute
	}
	if l.HeavyInterval <= 0 {
		l.HeavyInterval = 10 * time.Minute
	}

	l.startedAt = time.Now()
	l.done = make(chan struct{})
	l.stopped = make(chan struct{})
	l.stepC = make(chan struct{}, 1)

	go l.run(ctx)
}

// StepTick notes one completed agent step. When EverySteps is configured,
// every EverySteps-th call schedules a heavy snapshot on the loop
// goroutine; the agent is never blocked waiting for the upload.
func (l *Loop) StepTick() {
	if l.EverySteps <= 0 {
		return
	}
	if n := l.stepCt.Add(1); n%int64(l.EverySteps) == 0 {
		select {
		case l.stepC <- struct{}{}:
		default:
		}
	}
}

// nextAligned returns a timer firing at the next multiple of interval on
// the wall clock, so the snapshot schedule stays stable no matter how long
// the previous upload took.
func nextAligned(now time.Time, interval time.Duration) *time.Timer {
	next := now.Truncate(interval).Add(interval)
	return time.NewTimer(time.Until(next))
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.stopped)

	light := time.NewTicker(l.LightInterval)
	defer light.Stop()
	heavy := nextAligned(time.Now(), l.HeavyInterval)
	defer heavy.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case <-light.C:
			if err := l.heartbeat(ctx); err != nil {
				l.logger().Warn("snapshot: light heartbeat failed", "error", err)
			}
		case <-heavy.C:
			if _, err := l.Snapshot(ctx); err != nil {
				l.logger().Warn("snapshot: heavy snapshot failed", "error", err)
			}
			heavy = nextAligned(time.Now(), l.HeavyInterval)
		case <-l.stepC:
			if _, err := l.Snapshot(ctx); err != nil {
				l.logger().Warn("snapshot: step-triggered snapshot failed", "error", err)
			}
		}
	}
}

// Stop ends the periodic loop and takes one final heavy snapshot, shielded
// from ctx's cancellation so a run that is being torn down still gets its
// last submission state recorded.
func (l *Loop) Stop(ctx context.Context) error {
	if l.done == nil {
		return nil
	}
	close(l.done)
	<-l.stopped

	timeout := l.FinalSnapshotTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	_, err := l.Snapshot(finalCtx)
	return err
}

// heartbeat refreshes status.json's last_updated without touching the
// submission archive.
func (l *Loop) heartbeat(ctx context.Context) error {
	status, err := l.Record.ReadStatus(ctx)
	if err != nil {
		return err
	}
	if status == nil {
		status = &runrecord.Status{
			Status:    "running",
			CreatedAt: l.startedAt.Unix(),
		}
	}
	status.LastUpdated = time.Now().Unix()
	return l.Record.WriteStatus(ctx, *status)
}

// Snapshot tars the sandbox's submission and logs directories, writes a
// new submissions/<ts>/submission.tar.gz and log.json, and refreshes
// status.json. It returns the timestamp of the snapshot taken.
func (l *Loop) Snapshot(ctx context.Context) (string, error) {
	timestamp := runrecord.FormatSnapshotTimestamp(time.Now())

	const archivePath = "/tmp/paperbench-submission.tar.gz"
	subDir, logsDir := l.submissionPath(), l.logsPath()
	tarCmd := fmt.Sprintf("mkdir -p %s %s && tar czf %s -C / %s %s",
		subDir, logsDir, archivePath, path.Base(subDir), path.Base(logsDir))
	result, err := l.Sandbox.Exec(ctx, tarCmd, "/", 5*time.Minute)
	if err != nil {
		return "", fmt.Errorf("snapshot: taring submission: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("snapshot: tar exited %d: %s", result.ExitCode, result.Output)
	}

	reader, err := l.Sandbox.Download(ctx, archivePath)
	if err != nil {
		return "", fmt.Errorf("snapshot: downloading archive: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("snapshot: reading archive: %w", err)
	}

	dir := l.Record.SubmissionDir(timestamp)
	archiveDest := l.Record.Store.Join(dir, "submission.tar.gz")
	if err := l.Record.Store.Write(ctx, archiveDest, data); err != nil {
		return "", fmt.Errorf("snapshot: writing archive: %w", err)
	}

	n := l.snapshotCt.Add(1)
	stats := Stats{}
	if l.StatsFunc != nil {
		stats = l.StatsFunc()
	}
	info := LogInfo{
		CreatedAt:         time.Now().Unix(),
		NumMessages:       stats.NumMessages,
		RuntimeSeconds:    time.Since(l.startedAt).Seconds(),
		ProductiveRuntime: stats.ProductiveRuntime,
		RetryTime:         stats.RetryTime,
		SnapshotNumber:    int(n),
	}
	logData, err := marshalLogInfo(info)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshaling log.json: %w", err)
	}
	logDest := l.Record.Store.Join(dir, "log.json")
	if err := l.Record.Store.Write(ctx, logDest, logData); err != nil {
		return "", fmt.Errorf("snapshot: writing log.json: %w", err)
	}

	status, err := l.Record.ReadStatus(ctx)
	if err != nil {
		return "", err
	}
	if status == nil {
		status = &runrecord.Status{Status: "running", CreatedAt: l.startedAt.Unix()}
	}
	status.LastUpdated = time.Now().Unix()
	if err := l.Record.WriteStatus(ctx, *status); err != nil {
		return "", err
	}

	return timestamp, nil
}
