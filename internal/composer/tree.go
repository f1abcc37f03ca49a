package composer

import (
	"sort"

	"github.com/pitabwire/composer/model"
)

// ProjectOptions controls tree projection.
type ProjectOptions struct {
	// IncludeEmptyStages appends every catalogue stage that has no records,
	// in catalogue order. Used for the bootstrap view of a new instance.
	IncludeEmptyStages bool
}

// Project groups records into stage nodes. Stage nodes are ordered by the
// lowest sequence they contain and substages by sequence. Expanded state is
// carried over from previous by stage id; new stage nodes start expanded.
//
// Records whose stage is not in stages are returned as orphans and do not
// appear in the tree.
func Project(records []model.ConfigRecord, stages []model.StageTemplate, previous []model.StageNode, opts ProjectOptions) (tree []model.StageNode, orphans []model.ConfigRecord) {
	known := make(map[int64]model.StageTemplate, len(stages))
	for _, st := range stages {
		known[st.StageID] = st
	}
	expanded := make(map[int64]bool, len(previous))
	for _, n := range previous {
		expanded[n.StageID] = n.Expanded
	}

	sorted := make([]model.ConfigRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})

	tree = []model.StageNode{}
	index := make(map[int64]int)
	for _, r := range sorted {
		st, ok := known[r.Stage.StageID]
		if !ok {
			orphans = append(orphans, r.Clone())
			continue
		}
		i, ok := index[st.StageID]
		if !ok {
			i = len(tree)
			index[st.StageID] = i
			tree = append(tree, newStageNode(st, expanded))
		}
		tree[i].Substages = append(tree[i].Substages, model.SubstageNode{Record: r.Clone()})
	}

	if opts.IncludeEmptyStages {
		for _, st := range stages {
			if _, ok := index[st.StageID]; ok {
				continue
			}
			index[st.StageID] = len(tree)
			tree = append(tree, newStageNode(st, expanded))
		}
	}

	assignNodeIDs(tree)
	return tree, orphans
}

func newStageNode(st model.StageTemplate, expanded map[int64]bool) model.StageNode {
	exp, ok := expanded[st.StageID]
	if !ok {
		exp = true
	}
	return model.StageNode{
		ID:        model.StageNodeID(st.StageID),
		StageID:   st.StageID,
		Name:      st.Name,
		Expanded:  exp,
		Substages: []model.SubstageNode{},
	}
}

// assignNodeIDs numbers substage nodes by their position in a walk of the
// whole tree, so ids are unique even when a template repeats across stages.
func assignNodeIDs(tree []model.StageNode) {
	pos := 0
	for i := range tree {
		for j := range tree[i].Substages {
			sub := &tree[i].Substages[j]
			sub.ID = model.SubstageNodeID(sub.Record.Substage.SubstageID, pos)
			pos++
		}
	}
}

// Flatten walks stage nodes in order, then their substages in order, and
// returns the records with sequence re-stamped from 1 and the stage
// reference overwritten by the enclosing stage node.
func Flatten(tree []model.StageNode) []model.ConfigRecord {
	var out []model.ConfigRecord
	seq := 1
	for _, node := range tree {
		for _, sub := range node.Substages {
			r := sub.Record.Clone()
			r.Stage = model.StageRef{StageID: node.StageID, Name: node.Name}
			r.Sequence = seq
			seq++
			out = append(out, r)
		}
	}
	return out
}

// copyTree returns a copy whose node slices can be reordered independently.
func copyTree(tree []model.StageNode) []model.StageNode {
	out := make([]model.StageNode, len(tree))
	for i, n := range tree {
		out[i] = n
		out[i].Substages = append([]model.SubstageNode(nil), n.Substages...)
	}
	return out
}
