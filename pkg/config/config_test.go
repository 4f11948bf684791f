package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPaperSplit(t *testing.T) {
	split, err := LoadPaperSplit([]byte(`
papers:
  - id: paperA
    rubric_path: rubrics/paperA.json
    paper_path: papers/paperA.md
  - id: paperB
    rubric_path: rubrics/paperB.json
    paper_path: papers/paperB.md
    instructions_path: instructions/paperB.md
`))
	require.NoError(t, err)
	require.Equal(t, []string{"paperA", "paperB"}, split.IDs())

	spec, ok := split.Lookup("paperB")
	require.True(t, ok)
	require.Equal(t, "instructions/paperB.md", spec.InstructionsPath)

	_, ok = split.Lookup("paperC")
	require.False(t, ok)
}

func TestLoadPaperSplitRejectsInvalid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		yaml string
	}{
		{"empty", `papers: []`},
		{"missing id", "papers:\n  - rubric_path: r.json\n"},
		{"missing rubric", "papers:\n  - id: paperA\n"},
		{"duplicate id", "papers:\n  - id: paperA\n    rubric_path: a.json\n  - id: paperA\n    rubric_path: b.json\n"},
		{"not yaml", `{{{{`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadPaperSplit([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}
