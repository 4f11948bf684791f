// Package simple implements the "simple" judge scaffold: one structured
// completion call per leaf node, given a shared submission context and the
// leaf's own requirement text. It is the scaffold used for real grading
// runs; dummy and random exist only to exercise the rest of the pipeline.
package simple

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paperbench/paperbench/pkg/chat"
	"github.com/paperbench/paperbench/pkg/completer"
	"github.com/paperbench/paperbench/pkg/judge"
	"github.com/paperbench/paperbench/pkg/rubric"
)

const gradePromptTemplate = `You are grading one requirement of a machine learning paper reproduction rubric against a submitted repository.

Submission context:
<submission>
%s
</submission>

Requirement to grade:
<requirement>
%s
</requirement>

Score how completely the submission satisfies the requirement, from 0.0 (not attempted) to 1.0 (fully satisfied). Respond with your score and a brief explanation.`

// gradeSchema constrains the completion to a score/explanation pair.
var gradeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score": map[string]any{
			"type":        "number",
			"minimum":     0,
			"maximum":     1,
			"description": "How completely the requirement is satisfied, from 0.0 to 1.0",
		},
		"explanation": map[string]any{
			"type":        "string",
			"description": "Brief justification for the score",
		},
	},
	"required":             []string{"score", "explanation"},
	"additionalProperties": false,
}

// Config configures a Grader.
type Config struct {
	Provider completer.StructuredProvider
	// Context is shared across every leaf call: typically a file listing
	// of the submission plus a reproduction log excerpt.
	Context string
}

// Grader grades leaves with a completer, one structured completion per
// leaf.
type Grader struct {
	cfg Config

	ctxOnce  sync.Once
	ctxValue string
}

// New returns a Grader from cfg.
func New(cfg Config) *Grader {
	return &Grader{cfg: cfg}
}

func (*Grader) Name() string { return "simple" }

type gradeResponse struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// submissionContext returns Config.Context if set, otherwise builds one
// from the staged submission: a file listing plus the contents of
// reproduce.sh. Built once and shared across every leaf call.
func (g *Grader) submissionContext(submissionDir string) string {
	g.ctxOnce.Do(func() {
		if g.cfg.Context != "" {
			g.ctxValue = g.cfg.Context
			return
		}
		var b strings.Builder
		b.WriteString("Files:\n")
		_ = filepath.WalkDir(submissionDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if rel, err := filepath.Rel(submissionDir, path); err == nil {
				b.WriteString(filepath.ToSlash(rel))
				b.WriteByte('\n')
			}
			return nil
		})
		if script, err := os.ReadFile(filepath.Join(submissionDir, "reproduce.sh")); err == nil {
			b.WriteString("\nreproduce.sh:\n")
			b.Write(script)
		}
		g.ctxValue = b.String()
	})
	return g.ctxValue
}

func (g *Grader) Grade(ctx context.Context, tree *rubric.Tree, leafIdx int, submissionDir string) (judge.Grade, error) {
	node := tree.Node(leafIdx)
	prompt := fmt.Sprintf(gradePromptTemplate, g.submissionContext(submissionDir), node.Requirements)
	messages := []chat.Message{{Role: chat.RoleUser, Content: prompt}}

	raw, err := g.cfg.Provider.CreateStructuredCompletion(ctx, messages, "leaf_grade", gradeSchema)
	if err != nil {
		return judge.Grade{}, fmt.Errorf("simple judge: structured completion: %w", err)
	}

	var resp gradeResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		return judge.Grade{}, fmt.Errorf("simple judge: parsing response: %w", err)
	}
	if resp.Score < 0 || resp.Score > 1 {
		return judge.Grade{}, fmt.Errorf("simple judge: score %v out of range", resp.Score)
	}

	return judge.Grade{
		Score:       resp.Score,
		Valid:       true,
		Explanation: resp.Explanation,
	}, nil
}
