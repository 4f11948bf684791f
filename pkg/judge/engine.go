// Package judge grades a submission against its paper's rubric tree: it
// dispatches one Grader call per leaf node under a bounded worker pool,
// then aggregates the graded leaves bottom-up applying the run's
// code_only/resources_provided filters.
package judge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperbench/paperbench/pkg/rubric"
	"github.com/paperbench/paperbench/pkg/runrecord"
)

// Grade is a single leaf's graded outcome.
type Grade struct {
	Score       float64
	Valid       bool
	Explanation string
	Usage       runrecord.TokenUsage
}

// Grader scores one leaf node of a (possibly depth-truncated) rubric tree
// against a submission. Implementations: dummy, random, simple.
type Grader interface {
	// Name identifies the scaffold for JudgeOutput.JudgeType.
	Name() string
	// Grade scores tree.Node(leafIdx) against the submission at
	// submissionDir.
	Grade(ctx context.Context, tree *rubric.Tree, leafIdx int, submissionDir string) (Grade, error)
}

// Engine grades a whole rubric tree by fanning leaf grading out across a
// bounded worker pool and aggregating the result.
type Engine struct {
	Grader Grader

	// Concurrency bounds how many leaves are graded at once. Defaults to 1
	// if <= 0.
	Concurrency int

	// MaxDepth truncates grading: nodes at MaxDepth become leaves and are
	// graded directly. <= 0 means no truncation.
	MaxDepth int

	CodeOnly          bool
	ResourcesProvided bool

	// CompleterConfig describes the model backing the Grader, recorded
	// verbatim into the JudgeOutput. May be nil for model-free scaffolds.
	CompleterConfig map[string]any
}

func (e *Engine) maxDepth() int {
	if e.MaxDepth <= 0 {
		return 1 << 30
	}
	return e.MaxDepth
}

// Run grades every leaf of tree (after applying MaxDepth truncation),
// aggregates scores up to the root, and returns a populated JudgeOutput.
// A per-leaf Grader error does not abort the run: the leaf is recorded as
// invalid with the error text as its explanation, and grading continues.
// An empty rubric yields a zero-score output with no leaves; a cancelled
// context discards all partial results and surfaces ctx.Err.
func (e *Engine) Run(ctx context.Context, tree *rubric.Tree, submissionDir string) (*runrecord.JudgeOutput, error) {
	if tree == nil || len(tree.Nodes) == 0 {
		return &runrecord.JudgeOutput{
			JudgeType:       e.Grader.Name(),
			CompleterConfig: e.CompleterConfig,
			GradedAt:        time.Now().UTC().Format(time.RFC3339),
			GradedTaskTree:  &rubric.Tree{},
			TokenUsage:      &runrecord.TokenUsage{},
			Success:         true,
		}, nil
	}

	concurrency := e.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	graded := rubric.Truncate(tree, tree.Root(), e.maxDepth())
	leaves := graded.LeafNodes(graded.Root())

	var (
		mu    sync.Mutex
		usage runrecord.TokenUsage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, leafIdx := range leaves {
		leafIdx := leafIdx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			grade, err := e.Grader.Grade(gctx, graded, leafIdx, submissionDir)
			mu.Lock()
			defer mu.Unlock()
			node := graded.Node(leafIdx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				node.Score = 0
				node.ValidScore = false
				node.Explanation = fmt.Sprintf("judge error: %v", err)
				return nil
			}
			node.Score = grade.Score
			node.ValidScore = grade.Valid
			node.Explanation = grade.Explanation
			usage.Add(grade.Usage)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("judge: grading leaves: %w", err)
	}

	var filters []rubric.Filter
	if e.CodeOnly {
		filters = append(filters, rubric.CodeOnly)
	}
	if e.ResourcesProvided {
		filters = append(filters, rubric.ResourcesProvided)
	}
	rubric.Aggregate(graded, graded.Root(), e.maxDepth(), filters...)

	numInvalid := 0
	for _, idx := range leaves {
		if !graded.Node(idx).ValidScore {
			numInvalid++
		}
	}

	out := &runrecord.JudgeOutput{
		JudgeType:           e.Grader.Name(),
		CompleterConfig:     e.CompleterConfig,
		Score:               graded.Node(graded.Root()).Score,
		NumLeafNodes:        len(leaves),
		NumInvalidLeafNodes: numInvalid,
		GradedAt:            time.Now().UTC().Format(time.RFC3339),
		GradedTaskTree:      graded,
		TokenUsage:          &usage,
		Success:             true,
	}
	return out, nil
}
