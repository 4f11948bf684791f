package runrecord

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/paperbench/paperbench/pkg/blobstore"
)

// Record is the on-disk layout helper for one (paper, attempt) run:
//
//	runs/<group_id>/<run_id>/
//	  status.json
//	  metadata.json
//	  agent.log
//	  submissions/<ISO-UTC timestamp>/
//	    submission.tar.gz
//	    log.json
//	  grader_output.json
type Record struct {
	Store   blobstore.Store
	RunsDir string
	GroupID string
	RunID   string
}

// Dir returns the run's root directory within the store.
func (r *Record) Dir() string {
	return r.Store.Join(r.RunsDir, r.GroupID, r.RunID)
}

func (r *Record) path(name string) string {
	return r.Store.Join(r.Dir(), name)
}

// SubmissionDir returns the directory for a given snapshot timestamp.
func (r *Record) SubmissionDir(timestamp string) string {
	return r.Store.Join(r.Dir(), "submissions", timestamp)
}

// StatusPath, MetadataPath, AgentLogPath, GraderOutputPath name the fixed
// files at the run's root.
func (r *Record) StatusPath() string       { return r.path("status.json") }
func (r *Record) MetadataPath() string     { return r.path("metadata.json") }
func (r *Record) AgentLogPath() string     { return r.path("agent.log") }
func (r *Record) GraderOutputPath() string { return r.path("grader_output.json") }

// WriteStatus writes status.json.
func (r *Record) WriteStatus(ctx context.Context, s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return r.Store.Write(ctx, r.StatusPath(), data)
}

// ReadStatus reads status.json, if present.
func (r *Record) ReadStatus(ctx context.Context) (*Status, error) {
	exists, err := r.Store.Exists(ctx, r.StatusPath())
	if err != nil || !exists {
		return nil, err
	}
	data, err := r.Store.Read(ctx, r.StatusPath())
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing status.json: %w", err)
	}
	return &s, nil
}

// WriteMetadata writes the rollout summary to metadata.json.
func (r *Record) WriteMetadata(ctx context.Context, out AgentOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return r.Store.Write(ctx, r.MetadataPath(), data)
}

// WriteGraderOutput writes grader_output.json.
func (r *Record) WriteGraderOutput(ctx context.Context, out JudgeOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return r.Store.Write(ctx, r.GraderOutputPath(), data)
}

// AgentLog returns an appender for the run's agent.log transcript.
func (r *Record) AgentLog() *AgentLog {
	return &AgentLog{record: r}
}

// AgentLog accumulates transcript lines and rewrites agent.log on each
// append, so the on-disk transcript is current after every step. The blob
// store has no append primitive, hence the buffer-and-rewrite.
type AgentLog struct {
	record *Record
	mu     sync.Mutex
	lines  []string
}

// WriteLine appends one rendered transcript line.
func (l *AgentLog) WriteLine(ctx context.Context, line string) error {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	content := strings.Join(l.lines, "\n") + "\n"
	l.mu.Unlock()
	return l.record.Store.Write(ctx, l.record.AgentLogPath(), []byte(content))
}

// Content returns the accumulated transcript.
func (l *AgentLog) Content() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return strings.Join(l.lines, "\n") + "\n"
}

// SnapshotCount returns how many submissions/<ts>/submission.tar.gz
// archives exist; a run with a status.json and at least one archive can
// skip its agent phase on resume.
func (r *Record) SnapshotCount(ctx context.Context) (int, error) {
	pattern := r.Store.Join(r.Dir(), "submissions", "*", "submission.tar.gz")
	matches, err := r.Store.Glob(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// IsResumable reports whether this run can skip the agent phase: it has a
// status.json and at least one snapshot archive.
func (r *Record) IsResumable(ctx context.Context) (bool, error) {
	statusExists, err := r.Store.Exists(ctx, r.StatusPath())
	if err != nil || !statusExists {
		return false, err
	}
	n, err := r.SnapshotCount(ctx)
	if err != nil {
		return false, err
	}
	return n >= 1, nil
}

// LatestSnapshot returns the lexicographically-last (hence chronologically
// last, given the ISO-UTC timestamp format) submission timestamp, or "" if
// none exist.
func (r *Record) LatestSnapshot(ctx context.Context) (string, error) {
	names, err := r.Store.List(ctx, r.Store.Join(r.Dir(), "submissions"))
	if err != nil {
		return "", err
	}
	latest := ""
	for _, name := range names {
		if name > latest {
			latest = name
		}
	}
	return latest, nil
}

// SnapshotAtOrBefore returns the latest submission timestamp taken within
// targetSeconds of startUnix, used to grade the checkpoint nearest a
// target duration rather than the final one.
func (r *Record) SnapshotAtOrBefore(ctx context.Context, startUnix int64, targetSeconds int64) (string, error) {
	names, err := r.Store.List(ctx, r.Store.Join(r.Dir(), "submissions"))
	if err != nil {
		return "", err
	}
	best := ""
	for _, name := range names {
		ts, err := ParseSnapshotTimestamp(name)
		if err != nil {
			continue
		}
		if ts.Unix()-startUnix > targetSeconds {
			continue
		}
		if name > best {
			best = name
		}
	}
	return best, nil
}
