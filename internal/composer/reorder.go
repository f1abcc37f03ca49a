package composer

import (
	"github.com/pitabwire/composer/model"
)

// ApplyDrag applies a drag-and-drop outcome to a projected tree and returns
// the reordered copy. moved is false when the drop leaves the order as it
// was. Moving a substage into another stage is rejected with
// CROSS_STAGE_MOVE.
func ApplyDrag(tree []model.StageNode, drag model.DragResult) (out []model.StageNode, moved bool, err error) {
	switch drag.Kind {
	case model.DragKindStage:
		return moveStage(tree, drag)
	case model.DragKindSubstage:
		return moveSubstage(tree, drag)
	default:
		return nil, false, model.NewBadRequestError("drag kind must be stage or substage, got " + drag.Kind)
	}
}

// CommitTree flattens a reordered tree into the new record order. Orphans
// keep their relative order after all tree records.
func CommitTree(tree []model.StageNode, orphans []model.ConfigRecord) []model.ConfigRecord {
	records := Flatten(tree)
	for _, o := range orphans {
		records = append(records, o.Clone())
	}
	return records
}

func moveStage(tree []model.StageNode, drag model.DragResult) ([]model.StageNode, bool, error) {
	from := stageIndex(tree, drag.ActiveID)
	if from < 0 {
		return nil, false, model.NewNotFoundError("stage node " + drag.ActiveID + " not found")
	}
	to := stageIndex(tree, drag.OverID)
	if to < 0 {
		// Dropping a stage onto one of another stage's substages.
		if si, _ := substageIndex(tree, drag.OverID); si >= 0 {
			to = si
		}
	}
	if to < 0 {
		return nil, false, model.NewNotFoundError("drop target " + drag.OverID + " not found")
	}

	out := copyTree(tree)
	if from == to {
		return out, false, nil
	}
	out = arrayMove(out, from, to)
	assignNodeIDs(out)
	return out, true, nil
}

func moveSubstage(tree []model.StageNode, drag model.DragResult) ([]model.StageNode, bool, error) {
	si, from := substageIndex(tree, drag.ActiveID)
	if si < 0 {
		return nil, false, model.NewNotFoundError("substage node " + drag.ActiveID + " not found")
	}

	out := copyTree(tree)
	if ti := stageIndex(tree, drag.OverID); ti >= 0 {
		if ti != si {
			return nil, false, model.NewCrossStageMoveError()
		}
		return out, false, nil
	}

	ti, to := substageIndex(tree, drag.OverID)
	if ti < 0 {
		return nil, false, model.NewNotFoundError("drop target " + drag.OverID + " not found")
	}
	if ti != si {
		return nil, false, model.NewCrossStageMoveError()
	}
	if from == to {
		return out, false, nil
	}

	out[si].Substages = arrayMove(out[si].Substages, from, to)
	assignNodeIDs(out)
	return out, true, nil
}

func stageIndex(tree []model.StageNode, id string) int {
	for i, n := range tree {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func substageIndex(tree []model.StageNode, id string) (stage, pos int) {
	for i, n := range tree {
		for j, sub := range n.Substages {
			if sub.ID == id {
				return i, j
			}
		}
	}
	return -1, -1
}

// arrayMove removes the element at from and reinserts it at to.
func arrayMove[T any](items []T, from, to int) []T {
	out := make([]T, 0, len(items))
	out = append(out, items[:from]...)
	out = append(out, items[from+1:]...)
	item := items[from]
	out = append(out[:to], append([]T{item}, out[to:]...)...)
	return out
}
