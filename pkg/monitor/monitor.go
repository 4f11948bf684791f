// Package monitor implements the post-hoc scan of agent logs for policy
// violations: it walks a logs tree of run groups, extracts the latest
// snapshot's agent.log from each run, and feeds it to a pluggable
// Strategy, bucketing runs into flagged/clean and writing a timestamped
// JSON report. It is independent of the scheduler's main path.
package monitor

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/paperbench/paperbench/pkg/blobstore"
)

// Violation is a single finding within an agent.log transcript.
type Violation struct {
	LineNumber   int    `json:"line_number"`
	Violation    string `json:"violation"`
	Context      string `json:"context"`
	ContextStart int    `json:"context_start"`
}

// Result is a single run's monitor outcome.
type Result struct {
	Violations  []Violation `json:"violations"`
	Explanation string      `json:"explanation"`
}

// Strategy scores one agent.log transcript for policy violations.
// Implementations: pkg/monitor/basic (completer-backed).
type Strategy interface {
	Name() string
	CheckLog(ctx context.Context, log string) (Result, error)
}

// RunResult is one run's findings, tagged with its provenance, mirroring
// monitor_single_log's returned dict shape.
type RunResult struct {
	RunGroupID  string `json:"run_group_id"`
	MonitorType string `json:"monitor_type"`
	PaperID     string `json:"paper_id"`
	RunID       string `json:"run_id"`
	Results     Result `json:"results"`
}

// Report is the top-level timestamped JSON document written to disk,
// mirroring monitor_multiple_run_groups's return value.
type Report struct {
	Timestamp      string      `json:"timestamp"`
	MonitorType    string      `json:"monitor_type"`
	LogsDir        string      `json:"logs_dir"`
	RunGroups      []string    `json:"run_groups"`
	TotalRuns      int         `json:"total_runs"`
	FlaggedRuns    int         `json:"flagged_runs"`
	FlaggedRunIDs  []string    `json:"flagged_run_ids"`
	FlaggedResults []RunResult `json:"flagged_results"`
	OtherResults   []RunResult `json:"other_results"`
}

// Scanner walks a logs directory of run groups and applies a Strategy to
// each run's latest snapshot.
type Scanner struct {
	Store    blobstore.Store
	Strategy Strategy
}

// Scan runs the monitor over every run in logsDir, restricted to
// runGroups if non-empty (otherwise every subdirectory of logsDir).
func (s *Scanner) Scan(ctx context.Context, logsDir string, runGroups []string) (*Report, error) {
	available, err := s.Store.List(ctx, logsDir)
	if err != nil {
		return nil, fmt.Errorf("monitor: listing logs dir %s: %w", logsDir, err)
	}

	groups := runGroups
	if len(groups) == 0 {
		groups = available
	} else {
		availableSet := toSet(available)
		var filtered []string
		for _, g := range groups {
			if availableSet[g] {
				filtered = append(filtered, g)
			}
		}
		groups = filtered
	}

	var all []RunResult
	for _, groupID := range groups {
		results, err := s.scanGroup(ctx, logsDir, groupID)
		if err != nil {
			return nil, err
		}
		all = append(all, results...)
	}

	var flagged, other []RunResult
	var flaggedIDs []string
	for _, r := range all {
		if len(r.Results.Violations) > 0 {
			flagged = append(flagged, r)
			flaggedIDs = append(flaggedIDs, r.RunID)
		} else {
			other = append(other, r)
		}
	}

	return &Report{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		MonitorType:    s.Strategy.Name(),
		LogsDir:        logsDir,
		RunGroups:      groups,
		TotalRuns:      len(all),
		FlaggedRuns:    len(flagged),
		FlaggedRunIDs:  flaggedIDs,
		FlaggedResults: flagged,
		OtherResults:   other,
	}, nil
}

func (s *Scanner) scanGroup(ctx context.Context, logsDir, groupID string) ([]RunResult, error) {
	groupDir := s.Store.Join(logsDir, groupID)
	runDirs, err := s.Store.List(ctx, groupDir)
	if err != nil {
		// Not every entry under the logs dir is a run group (stray files,
		// the ledger database); skip anything that cannot be listed.
		return nil, nil
	}

	var results []RunResult
	for _, runID := range runDirs {
		runDir := s.Store.Join(groupDir, runID)
		log, ok, err := s.latestAgentLog(ctx, runDir)
		if err != nil {
			return nil, fmt.Errorf("monitor: extracting agent.log for %s: %w", runID, err)
		}
		if !ok {
			continue
		}

		result, err := s.Strategy.CheckLog(ctx, log)
		if err != nil {
			return nil, fmt.Errorf("monitor: checking log for %s: %w", runID, err)
		}

		results = append(results, RunResult{
			RunGroupID:  groupID,
			MonitorType: s.Strategy.Name(),
			PaperID:     paperIDFromRunID(runID),
			RunID:       runID,
			Results:     result,
		})
	}
	return results, nil
}

// latestAgentLog finds the lexicographically-last (hence newest, given
// the ISO-UTC timestamp naming) submissions/<ts>/submission.tar.gz under
// runDir that actually contains a submission.tar.gz, and extracts
// logs/agent.log from it.
func (s *Scanner) latestAgentLog(ctx context.Context, runDir string) (string, bool, error) {
	pattern := s.Store.Join(runDir, "submissions", "*", "submission.tar.gz")
	matches, err := s.Store.Glob(ctx, pattern)
	if err != nil {
		return "", false, err
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	latest := matches[0]

	data, err := s.Store.Read(ctx, latest)
	if err != nil {
		return "", false, err
	}

	log, ok, err := extractAgentLog(data)
	if err != nil {
		return "", false, err
	}
	return log, ok, nil
}

// extractAgentLog reads a gzip-tar submission archive and returns the
// contents of its logs/agent.log member, if present. Unlike
// orchestrator.stageSubmission, this reads a single member into memory
// rather than extracting the whole archive to a host staging directory,
// since the monitor only ever needs the log text.
func extractAgentLog(archive []byte) (string, bool, error) {
	gr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return "", false, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		// Accept both a bare "logs/agent.log" member, the snapshot
		// layout where logs/ sits beside submission/ at the top level,
		// and "submission/logs/agent.log" for archives that nest it.
		name := strings.TrimPrefix(hdr.Name, "submission/")
		if name != "logs/agent.log" {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return "", false, err
		}
		return buf.String(), true, nil
	}
}

func paperIDFromRunID(runID string) string {
	if i := strings.IndexByte(runID, '_'); i >= 0 {
		return runID[:i]
	}
	return runID
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}
