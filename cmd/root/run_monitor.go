package root

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/paperbench/paperbench/pkg/blobstore"
	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/monitor"
)

// runMonitorFlags is the post-hoc entry point: scan run groups' agent
// transcripts for rule violations and write a timestamped report.
type runMonitorFlags struct {
	logsDir      string
	runGroups    []string
	outDir       string
	monitorModel string
}

func newRunMonitorCmd() *cobra.Command {
	var flags runMonitorFlags

	cmd := &cobra.Command{
		Use:   "run-monitor",
		Short: "Scan run groups' agent logs for rule violations",
		RunE:  flags.run,
	}

	cmd.Flags().StringVar(&flags.logsDir, "logs-dir", "./runs", "Root directory containing run groups")
	cmd.Flags().StringSliceVar(&flags.runGroups, "run-groups", nil, "Run group ids to scan (default: every group under logs-dir)")
	cmd.Flags().StringVar(&flags.outDir, "out-dir", "./runs", "Directory to write monitor_results_<timestamp>.json to")
	cmd.Flags().StringVar(&flags.monitorModel, "monitor-model", "anthropic/claude-opus-4-5-20251101", "Model reference (provider/model) used to audit each transcript")

	return cmd
}

func (f *runMonitorFlags) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := blobstore.NewLocal(f.logsDir)
	if err != nil {
		return &errs.ConfigError{Field: "logs-dir", Err: err}
	}

	strategy, err := buildMonitorStrategy(ctx, f.monitorModel)
	if err != nil {
		return err
	}

	scanner := &monitor.Scanner{
		Store:    store,
		Strategy: strategy.strategy,
	}

	report, err := scanner.Scan(ctx, "", f.runGroups)
	if err != nil {
		return fmt.Errorf("run-monitor: %w", err)
	}
	report.LogsDir = f.logsDir

	outPath := filepath.Join(f.outDir, fmt.Sprintf("monitor_results_%s.json", time.Now().UTC().Format("20060102T150405Z")))
	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return fmt.Errorf("creating out-dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling monitor report: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("writing monitor report: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d runs, %d flagged\noutput: %s\n", report.TotalRuns, report.FlaggedRuns, outPath)
	return nil
}
