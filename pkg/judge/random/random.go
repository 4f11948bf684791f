// Package random implements a judge.Grader that assigns each leaf a
// uniformly random score, used to sanity-check the aggregation pipeline
// and metrics layer against a known, non-degenerate score distribution.
package random

import (
	"context"
	"math/rand/v2"

	"github.com/paperbench/paperbench/pkg/judge"
	"github.com/paperbench/paperbench/pkg/rubric"
)

// Grader scores every leaf with an independent uniform random draw.
type Grader struct{}

func (Grader) Name() string { return "random" }

func (Grader) Grade(_ context.Context, tree *rubric.Tree, leafIdx int, _ string) (judge.Grade, error) {
	return judge.Grade{
		Score:       rand.Float64(),
		Valid:       true,
		Explanation: "random judge: " + tree.Node(leafIdx).Requirements,
	}, nil
}
