package rubric

// Filter decides the effective weight a subtree contributes to its parent
// during aggregation. The two canonical filters are CodeOnly and
// ResourcesProvided; Filters compose by multiplying their returned weights.
type Filter func(t *Tree, nodeIdx int) float64

// CodeOnly implements "code_only=true: include only subtrees whose
// requirement_type = code_development" by zeroing every other subtree's
// weight at its root (so code_development descendants nested under a
// non-code_development ancestor are still excluded, matching "subtree").
func CodeOnly(t *Tree, nodeIdx int) float64 {
	if t.Nodes[nodeIdx].RequirementType == CodeDevelopment {
		return 1
	}
	return 0
}

// DatasetAcquisitionTypes is the configured list of "dataset/model
// acquisition" requirement types that ResourcesProvided zeroes out. The
// source rubric format has no dedicated value for this category, so it is
// expressed as extra requirement_type values that the rubric author sets on
// the node; callers that use a different convention should build their own
// Filter instead of ResourcesProvided.
var DatasetAcquisitionTypes = map[RequirementType]bool{
	"dataset_acquisition": true,
	"model_acquisition":   true,
}

// ResourcesProvided implements "resources_provided=true: assign weight 0 to
// any subtree whose requirement_type is a dataset/model acquisition
// category".
func ResourcesProvided(t *Tree, nodeIdx int) float64 {
	if DatasetAcquisitionTypes[t.Nodes[nodeIdx].RequirementType] {
		return 0
	}
	return 1
}

// Aggregate computes bottom-up weighted-mean scores for every node under
// root, subject to maxDepth truncation and the given filters. Nodes at
// maxDepth are treated as opaque: their own Score/ValidScore are left as
// whatever the judge already assigned them directly, they are treated as
// leaves for aggregation purposes, and nothing below them is visited.
//
// A node's filtered weight is the product of every filter's return value
// for that node, applied once at the node itself (not re-applied to its
// ancestors: a zero-weight child contributes zero to its parent's weighted
// sum regardless of its own score, so zeroing a subtree's root suppresses
// the whole subtree).
func Aggregate(t *Tree, root, maxDepth int, filters ...Filter) {
	var walk func(i, depth int) (weight float64)
	walk = func(i, depth int) float64 {
		n := &t.Nodes[i]
		w := effectiveWeight(t, i, filters)

		if n.IsLeaf() || depth >= maxDepth {
			return w
		}

		var weightedSum, weightSum float64
		anyValid := false
		for _, c := range n.SubNodes {
			childWeight := walk(c, depth+1)
			child := &t.Nodes[c]
			if childWeight <= 0 {
				continue
			}
			if !child.ValidScore {
				continue
			}
			weightedSum += childWeight * child.Score
			weightSum += childWeight
			anyValid = true
		}

		if weightSum <= 0 {
			n.Score = 0
			n.ValidScore = false
		} else {
			n.Score = weightedSum / weightSum
			n.ValidScore = anyValid
		}
		return w
	}
	walk(root, 0)
}

func effectiveWeight(t *Tree, i int, filters []Filter) float64 {
	w := t.Nodes[i].Weight
	for _, f := range filters {
		w *= f(t, i)
	}
	return w
}

// Truncate returns a new Tree containing only the nodes reachable from root
// within maxDepth edges; nodes exactly at maxDepth become leaves (their
// SubNodes are dropped) even if the source tree has deeper descendants.
// Used by the judge to decide which nodes actually need leaf-grading when
// max_depth < the rubric's natural depth.
func Truncate(t *Tree, root, maxDepth int) *Tree {
	out := &Tree{}
	var copy_ func(i, depth int) int
	copy_ = func(i, depth int) int {
		src := t.Nodes[i]
		idx := len(out.Nodes)
		out.Nodes = append(out.Nodes, Node{
			ID:              src.ID,
			Requirements:    src.Requirements,
			Weight:          src.Weight,
			RequirementType: src.RequirementType,
			Score:           src.Score,
			ValidScore:      src.ValidScore,
			Explanation:     src.Explanation,
			JudgeMetadata:   src.JudgeMetadata,
		})
		if depth >= maxDepth {
			return idx
		}
		var children []int
		for _, c := range src.SubNodes {
			children = append(children, copy_(c, depth+1))
		}
		out.Nodes[idx].SubNodes = children
		return idx
	}
	copy_(root, 0)
	return out
}
