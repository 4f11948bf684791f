package root

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paperbench/paperbench/pkg/errs"
	"github.com/paperbench/paperbench/pkg/rubric"
)

// runJudgeFlags is the standalone judge entry point: grade a submission
// directory already on disk, with no sandbox or scheduler involved.
type runJudgeFlags struct {
	submissionPath    string
	paperID           string
	judgeType         string
	maxDepth          int
	outDir            string
	codeOnly          bool
	resourcesProvided bool
	rubricPath        string
	judgeModel        string
}

func newRunJudgeCmd() *cobra.Command {
	var flags runJudgeFlags

	cmd := &cobra.Command{
		Use:   "run-judge",
		Short: "Grade a single submission directory against a paper's rubric",
		RunE:  flags.run,
	}

	cmd.Flags().StringVar(&flags.submissionPath, "submission-path", "", "Path to the submission directory (required)")
	cmd.Flags().StringVar(&flags.paperID, "paper-id", "", "Identifier for the paper (required)")
	cmd.Flags().StringVar(&flags.rubricPath, "rubric-path", "", "Path to the paper's rubric JSON file (required)")
	cmd.Flags().StringVar(&flags.judgeType, "judge", "dummy", "Judge scaffold: dummy|random|simple")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 999, "Maximum depth to grade")
	cmd.Flags().StringVar(&flags.outDir, "out-dir", "", "Directory to write grader_output.json to (required)")
	cmd.Flags().BoolVar(&flags.codeOnly, "code-only", false, "Grade only code_development subtrees")
	cmd.Flags().BoolVar(&flags.resourcesProvided, "resources-provided", false, "Zero the weight of dataset/resource-acquisition subtrees")
	cmd.Flags().StringVar(&flags.judgeModel, "judge-model", "anthropic/claude-opus-4-5-20251101", "Model reference (provider/model) for the simple judge scaffold")

	return cmd
}

func (f *runJudgeFlags) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	for field, value := range map[string]string{
		"submission-path": f.submissionPath,
		"paper-id":        f.paperID,
		"rubric-path":     f.rubricPath,
		"out-dir":         f.outDir,
	} {
		if value == "" {
			return &errs.ConfigError{Field: field, Err: fmt.Errorf("required")}
		}
	}

	rubricData, err := os.ReadFile(f.rubricPath)
	if err != nil {
		return &errs.ConfigError{Field: "rubric-path", Err: err}
	}
	tree, err := rubric.Parse(rubricData)
	if err != nil {
		return &errs.ConfigError{Field: "rubric-path", Err: err}
	}

	engine, err := buildJudgeEngine(ctx, f.judgeType, f.maxDepth, f.codeOnly, f.resourcesProvided, f.judgeModel)
	if err != nil {
		return err
	}

	out, err := engine.Run(ctx, tree, f.submissionPath)
	if err != nil {
		slog.Error("judge run failed", "error", err)
		return fmt.Errorf("run-judge: %w", err)
	}

	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return fmt.Errorf("creating out-dir: %w", err)
	}
	outPath := filepath.Join(f.outDir, "grader_output.json")
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling grader_output.json: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("writing grader_output.json: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "paper_id: %s\nscore: %.4f\noutput: %s\n", f.paperID, out.Score, outPath)
	return nil
}
