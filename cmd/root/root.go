// Package root assembles the paperbench binary's cobra command tree: the
// persistent logging setup shared by every subcommand plus the run-eval,
// run-judge, and run-monitor entry points.
package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/paperbench/paperbench/pkg/errs"
)

type rootFlags struct {
	debugMode bool
	jsonLogs  bool
}

// NewRootCmd builds the paperbench command tree.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "paperbench",
		Short: "paperbench - ML paper reproduction evaluation orchestrator",
		Long:  "paperbench schedules agent rollouts against ML papers, reproduces their submissions, and grades them against a rubric.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			slog.SetDefault(slog.New(newLogHandler(cmd.ErrOrStderr(), flags)))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flags.jsonLogs, "log-format-json", false, "Emit structured JSON logs instead of text")

	cmd.AddCommand(newRunEvalCmd())
	cmd.AddCommand(newRunJudgeCmd())
	cmd.AddCommand(newRunMonitorCmd())

	return cmd
}

func newLogHandler(w io.Writer, flags rootFlags) slog.Handler {
	level := slog.LevelInfo
	if flags.debugMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if flags.jsonLogs {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Execute runs the command tree and returns the process exit code to use:
// 0 on success, 1 on invalid config, 2 on partial failures, 3 on an
// unrecoverable system error.
func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(stderr, err)
	return exitCode(err)
}

// exitCode maps a returned error to the exit code table above.
func exitCode(err error) int {
	var cfgErr *errs.ConfigError
	if errors.As(err, &cfgErr) {
		return 1
	}
	var partial *partialFailureError
	if errors.As(err, &partial) {
		return 2
	}
	var sysErr *errs.RolloutSystemError
	if errors.As(err, &sysErr) {
		return 3
	}
	return 1
}

// partialFailureError signals that a run-eval invocation completed but at
// least one task ended in a RolloutSystemError, mapping to exit code 2
// ("partial failures") rather than halting the rest of the evaluation.
type partialFailureError struct {
	failed int
	total  int
}

func (e *partialFailureError) Error() string {
	return fmt.Sprintf("%d of %d tasks failed with a system error", e.failed, e.total)
}
