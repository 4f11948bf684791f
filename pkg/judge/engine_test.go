package judge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/judge"
	"github.com/paperbench/paperbench/pkg/judge/dummy"
	"github.com/paperbench/paperbench/pkg/rubric"
)

var errBoom = errors.New("boom")

func sampleTree() *rubric.Tree {
	return &rubric.Tree{Nodes: []rubric.Node{
		{ID: "root", Weight: 1, RequirementType: rubric.Other, SubNodes: []int{1, 2}},
		{ID: "a", Weight: 1, Requirements: "do a", RequirementType: rubric.CodeDevelopment},
		{ID: "b", Weight: 1, Requirements: "do b", RequirementType: rubric.ResultMatch},
	}}
}

// fixedGrader scores every leaf with the same value.
type fixedGrader struct{ score float64 }

func (fixedGrader) Name() string { return "fixed" }
func (g fixedGrader) Grade(context.Context, *rubric.Tree, int, string) (judge.Grade, error) {
	return judge.Grade{Score: g.score, Valid: true}, nil
}

func TestEngineRunWithDummyGrader(t *testing.T) {
	e := &judge.Engine{Grader: dummy.Grader{}, Concurrency: 4}

	out, err := e.Run(context.Background(), sampleTree(), "/submission")
	require.NoError(t, err)
	require.Equal(t, "dummy", out.JudgeType)
	require.Equal(t, 2, out.NumLeafNodes)
	require.Equal(t, 0, out.NumInvalidLeafNodes)
	require.InDelta(t, 0.0, out.Score, 1e-9)
	require.True(t, out.Success)
}

func TestEngineRunAggregatesWeightedMean(t *testing.T) {
	e := &judge.Engine{Grader: fixedGrader{score: 0.5}, Concurrency: 2}

	out, err := e.Run(context.Background(), sampleTree(), "/submission")
	require.NoError(t, err)
	require.InDelta(t, 0.5, out.Score, 1e-9)
	require.True(t, out.GradedTaskTree.Node(out.GradedTaskTree.Root()).ValidScore)
}

type erroringGrader struct{}

func (erroringGrader) Name() string { return "erroring" }
func (erroringGrader) Grade(context.Context, *rubric.Tree, int, string) (judge.Grade, error) {
	return judge.Grade{}, errBoom
}

func TestEngineRunRecordsPerLeafErrorsAsInvalid(t *testing.T) {
	e := &judge.Engine{Grader: erroringGrader{}, Concurrency: 2}

	out, err := e.Run(context.Background(), sampleTree(), "/submission")
	require.NoError(t, err)
	require.Equal(t, 2, out.NumLeafNodes)
	require.Equal(t, 2, out.NumInvalidLeafNodes)
	require.False(t, out.GradedTaskTree.Node(out.GradedTaskTree.Root()).ValidScore)
}

func TestEngineRunAppliesCodeOnlyFilter(t *testing.T) {
	e := &judge.Engine{Grader: fixedGrader{score: 1.0}, Concurrency: 1, CodeOnly: true}

	out, err := e.Run(context.Background(), sampleTree(), "/submission")
	require.NoError(t, err)
	// Only "a" (CodeDevelopment) counts; "b" (ResultMatch) is weighted to 0.
	require.InDelta(t, 1.0, out.Score, 1e-9)
}

func TestEngineRunEmptyRubric(t *testing.T) {
	e := &judge.Engine{Grader: dummy.Grader{}}

	out, err := e.Run(context.Background(), &rubric.Tree{}, "/submission")
	require.NoError(t, err)
	require.Equal(t, 0, out.NumLeafNodes)
	require.Equal(t, 0, out.NumInvalidLeafNodes)
	require.Equal(t, 0.0, out.Score)
}

func TestEngineRunDepthTruncation(t *testing.T) {
	deep := &rubric.Tree{Nodes: []rubric.Node{
		{ID: "d0", Weight: 1, SubNodes: []int{1}},
		{ID: "d1", Weight: 1, SubNodes: []int{2}},
		{ID: "d2", Weight: 1, SubNodes: []int{3}},
		{ID: "d3", Weight: 1},
	}}
	e := &judge.Engine{Grader: fixedGrader{score: 0.7}, MaxDepth: 2}

	out, err := e.Run(context.Background(), deep, "/submission")
	require.NoError(t, err)
	// Depth-2 nodes are the graded leaves; deeper nodes are absent.
	require.Equal(t, 1, out.NumLeafNodes)
	require.Len(t, out.GradedTaskTree.Nodes, 3)
	require.InDelta(t, 0.7, out.Score, 1e-9)
}

func TestEngineRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &judge.Engine{Grader: fixedGrader{score: 1.0}}
	_, err := e.Run(ctx, sampleTree(), "/submission")
	require.Error(t, err)
}
