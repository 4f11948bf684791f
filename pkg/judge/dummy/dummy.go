// Package dummy implements a judge.Grader that assigns every leaf a fixed
// zero score without inspecting the submission at all, used to smoke test
// the orchestrator and aggregation pipeline without a completer.
package dummy

import (
	"context"

	"github.com/paperbench/paperbench/pkg/judge"
	"github.com/paperbench/paperbench/pkg/rubric"
)

// Grader scores every leaf as 0.0 with a valid score, so aggregation runs
// end to end while the overall grade stays at zero.
type Grader struct{}

func (Grader) Name() string { return "dummy" }

func (Grader) Grade(_ context.Context, tree *rubric.Tree, leafIdx int, _ string) (judge.Grade, error) {
	return judge.Grade{
		Score:       0.0,
		Valid:       true,
		Explanation: "dummy judge: " + tree.Node(leafIdx).Requirements,
	}, nil
}
