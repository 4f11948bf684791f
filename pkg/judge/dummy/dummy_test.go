package dummy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/rubric"
)

func TestGraderScoresZeroButValid(t *testing.T) {
	tree := &rubric.Tree{Nodes: []rubric.Node{{ID: "leaf", Requirements: "do it"}}}

	grade, err := Grader{}.Grade(context.Background(), tree, 0, "/submission")
	require.NoError(t, err)
	require.Equal(t, 0.0, grade.Score)
	require.True(t, grade.Valid)
}
