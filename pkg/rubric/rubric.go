// Package rubric implements the weighted requirement tree a submission is
// graded against: an arena of indexed nodes, JSON (de)serialization of the
// nested rubric file format, and bottom-up weighted-mean aggregation with
// depth truncation and requirement-type filters.
package rubric

import "encoding/json"

// RequirementType classifies what kind of work a node's requirements ask
// for, used by the judge's code_only/resources_provided filters.
type RequirementType string

const (
	CodeDevelopment RequirementType = "code_development"
	CodeExecution   RequirementType = "code_execution"
	ResultMatch     RequirementType = "result_match"
	Other           RequirementType = "other"
)

// Node is one entry in a Tree's arena. SubNodes holds indices into the same
// Tree, not pointers, so the whole tree serializes and clones trivially.
type Node struct {
	ID              string
	Requirements    string
	Weight          float64
	RequirementType RequirementType
	SubNodes        []int

	// Populated by the judge; zero-valued before grading.
	Score         float64
	ValidScore    bool
	Explanation   string
	JudgeMetadata map[string]any
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.SubNodes) == 0 }

// Tree is an immutable-through-rollout arena of Nodes. Index 0 is always
// the root.
type Tree struct {
	Nodes []Node
}

// Root returns the tree's root node index, always 0 for a non-empty tree.
func (t *Tree) Root() int { return 0 }

// Node returns the node at index i.
func (t *Tree) Node(i int) *Node { return &t.Nodes[i] }

// wireNode mirrors the nested rubric JSON format exactly.
type wireNode struct {
	ID              string          `json:"id"`
	Requirements    string          `json:"requirements"`
	Weight          float64         `json:"weight"`
	RequirementType RequirementType `json:"requirement_type"`
	SubNodes        []wireNode      `json:"sub_nodes"`

	Score         *float64       `json:"score,omitempty"`
	ValidScore    *bool          `json:"valid_score,omitempty"`
	Explanation   string         `json:"explanation,omitempty"`
	JudgeMetadata map[string]any `json:"judge_metadata,omitempty"`
}

// Parse builds a Tree from a nested JSON rubric document.
func Parse(data []byte) (*Tree, error) {
	var root wireNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	t := &Tree{}
	flatten(t, root)
	return t, nil
}

func flatten(t *Tree, w wireNode) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{}) // reserve slot so children can't shift it
	var subIdx []int
	for _, child := range w.SubNodes {
		subIdx = append(subIdx, flatten(t, child))
	}
	n := Node{
		ID:              w.ID,
		Requirements:    w.Requirements,
		Weight:          w.Weight,
		RequirementType: w.RequirementType,
		SubNodes:        subIdx,
		Explanation:     w.Explanation,
		JudgeMetadata:   w.JudgeMetadata,
	}
	if w.Score != nil {
		n.Score = *w.Score
	}
	if w.ValidScore != nil {
		n.ValidScore = *w.ValidScore
	}
	t.Nodes[idx] = n
	return idx
}

// Marshal serializes the tree back into the nested JSON rubric shape.
func (t *Tree) Marshal() ([]byte, error) {
	if len(t.Nodes) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(t.toWire(t.Root()))
}

func (t *Tree) toWire(idx int) wireNode {
	n := t.Nodes[idx]
	w := wireNode{
		ID:              n.ID,
		Requirements:    n.Requirements,
		Weight:          n.Weight,
		RequirementType: n.RequirementType,
		Score:           &n.Score,
		ValidScore:      &n.ValidScore,
		Explanation:     n.Explanation,
		JudgeMetadata:   n.JudgeMetadata,
	}
	for _, c := range n.SubNodes {
		w.SubNodes = append(w.SubNodes, t.toWire(c))
	}
	if w.SubNodes == nil {
		w.SubNodes = []wireNode{}
	}
	return w
}

// LeafNodes returns the indices of every leaf under root, in DFS order.
func (t *Tree) LeafNodes(root int) []int {
	var leaves []int
	var walk func(int)
	walk = func(i int) {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			leaves = append(leaves, i)
			return
		}
		for _, c := range n.SubNodes {
			walk(c)
		}
	}
	walk(root)
	return leaves
}

// Depth returns the number of edges from root to i (root has depth 0). It
// assumes a tree (no node reachable by two paths).
func (t *Tree) Depth(root, i int) int {
	if root == i {
		return 0
	}
	var walk func(cur, d int) int
	walk = func(cur, d int) int {
		if cur == i {
			return d
		}
		for _, c := range t.Nodes[cur].SubNodes {
			if found := walk(c, d+1); found >= 0 {
				return found
			}
		}
		return -1
	}
	return walk(root, 0)
}
