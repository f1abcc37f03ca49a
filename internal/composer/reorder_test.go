package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/composer/model"
)

// twoStageTree is intake [a, b] followed by review [c, d].
func twoStageTree(t *testing.T, records ...model.ConfigRecord) ([]model.StageNode, *Store) {
	t.Helper()
	if len(records) == 0 {
		records = []model.ConfigRecord{
			rec("a", intake, collect),
			rec("b", intake, verify),
			rec("c", review, compliance),
			rec("d", review, signOff),
		}
	}
	s := NewStore(records)
	tree, orphans := Project(s.Records(), testCatalogue().Stages, nil, ProjectOptions{})
	require.Empty(t, orphans)
	return tree, s
}

func TestApplyDrag_stageMove(t *testing.T) {
	tree, _ := twoStageTree(t)

	out, moved, err := ApplyDrag(tree, model.DragResult{Kind: model.DragKindStage, ActiveID: "stage-20", OverID: "stage-10"})

	require.NoError(t, err)
	require.True(t, moved)
	records := CommitTree(out, nil)
	assert.Equal(t, []string{"c", "d", "a", "b"}, keysOf(records))
	for i, r := range records {
		assert.Equal(t, i+1, r.Sequence)
	}
	assert.Equal(t, review, records[0].Stage.StageID)
	assert.Equal(t, intake, records[3].Stage.StageID)
	assert.Equal(t, []string{"substage-201-0", "substage-202-1", "substage-101-2", "substage-102-3"}, substageNodeIDs(out))

	// The input tree is left untouched.
	assert.Equal(t, "stage-10", tree[0].ID)
}

func TestApplyDrag_stageOntoSubstageOfOtherStage(t *testing.T) {
	tree, _ := twoStageTree(t)

	out, moved, err := ApplyDrag(tree, model.DragResult{Kind: model.DragKindStage, ActiveID: "stage-10", OverID: "substage-202-3"})

	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"c", "d", "a", "b"}, keysOf(CommitTree(out, nil)))
}

func TestApplyDrag_substageWithinStage(t *testing.T) {
	tree, _ := twoStageTree(t)

	out, moved, err := ApplyDrag(tree, model.DragResult{Kind: model.DragKindSubstage, ActiveID: "substage-201-2", OverID: "substage-202-3"})

	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, []string{"a", "b", "d", "c"}, keysOf(CommitTree(out, nil)))
}

func TestApplyDrag_noops(t *testing.T) {
	tree, _ := twoStageTree(t)

	tests := []struct {
		name string
		drag model.DragResult
	}{
		{"stage onto itself", model.DragResult{Kind: model.DragKindStage, ActiveID: "stage-10", OverID: "stage-10"}},
		{"substage onto itself", model.DragResult{Kind: model.DragKindSubstage, ActiveID: "substage-101-0", OverID: "substage-101-0"}},
		{"substage onto own stage node", model.DragResult{Kind: model.DragKindSubstage, ActiveID: "substage-102-1", OverID: "stage-10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, moved, err := ApplyDrag(tree, tt.drag)

			require.NoError(t, err)
			assert.False(t, moved)
			assert.Equal(t, []string{"a", "b", "c", "d"}, keysOf(CommitTree(out, nil)))
		})
	}
}

func TestApplyDrag_rejections(t *testing.T) {
	tree, _ := twoStageTree(t)

	tests := []struct {
		name string
		drag model.DragResult
		code string
	}{
		{"substage onto other stage's substage", model.DragResult{Kind: model.DragKindSubstage, ActiveID: "substage-101-0", OverID: "substage-201-2"}, model.ErrCrossStageMove},
		{"substage onto other stage node", model.DragResult{Kind: model.DragKindSubstage, ActiveID: "substage-101-0", OverID: "stage-20"}, model.ErrCrossStageMove},
		{"unknown active", model.DragResult{Kind: model.DragKindStage, ActiveID: "stage-99", OverID: "stage-10"}, model.ErrNotFound},
		{"unknown over", model.DragResult{Kind: model.DragKindSubstage, ActiveID: "substage-101-0", OverID: "substage-777-9"}, model.ErrNotFound},
		{"unknown kind", model.DragResult{Kind: "column", ActiveID: "stage-10", OverID: "stage-20"}, model.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, moved, err := ApplyDrag(tree, tt.drag)

			require.Error(t, err)
			assert.False(t, moved)
			assert.Equal(t, tt.code, model.CodeOf(err))
		})
	}
}

func TestCommitTree_prunesForwardEdges(t *testing.T) {
	tree, s := twoStageTree(t,
		rec("a", intake, collect),
		rec("b", intake, verify, "a"),
		rec("c", review, compliance, "a", "b"),
	)

	out, moved, err := ApplyDrag(tree, model.DragResult{Kind: model.DragKindStage, ActiveID: "stage-20", OverID: "stage-10"})
	require.NoError(t, err)
	require.True(t, moved)
	dropped := s.Replace(CommitTree(out, nil))

	assert.Equal(t, 2, dropped)
	records := s.Records()
	assert.Equal(t, []string{"c", "a", "b"}, keysOf(records))
	assert.Empty(t, records[0].Dependencies)
	assert.Equal(t, []string{"a"}, records[2].Dependencies, "backward edges survive the move")
	requireInvariants(t, records)
}

func TestCommitTree_keepsOrphansLast(t *testing.T) {
	orphan := rec("x", 99, 301)
	s := NewStore([]model.ConfigRecord{orphan, rec("a", intake, collect), rec("b", review, compliance)})
	tree, orphans := Project(s.Records(), testCatalogue().Stages, nil, ProjectOptions{})
	require.Len(t, orphans, 1)

	out, _, err := ApplyDrag(tree, model.DragResult{Kind: model.DragKindStage, ActiveID: "stage-20", OverID: "stage-10"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "x"}, keysOf(CommitTree(out, orphans)))
}

func TestArrayMove(t *testing.T) {
	tests := []struct {
		from, to int
		want     []int
	}{
		{0, 3, []int{1, 2, 3, 0}},
		{3, 0, []int{3, 0, 1, 2}},
		{1, 2, []int{0, 2, 1, 3}},
		{2, 2, []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, arrayMove([]int{0, 1, 2, 3}, tt.from, tt.to))
	}
}
