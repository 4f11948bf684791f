package random

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/rubric"
)

func TestGraderScoresWithinRange(t *testing.T) {
	tree := &rubric.Tree{Nodes: []rubric.Node{{ID: "leaf", Requirements: "do it"}}}

	grade, err := Grader{}.Grade(context.Background(), tree, 0, "/submission")
	require.NoError(t, err)
	require.True(t, grade.Valid)
	require.GreaterOrEqual(t, grade.Score, 0.0)
	require.Less(t, grade.Score, 1.0)
}
