package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Drag kinds.
const (
	DragKindStage    = "stage"
	DragKindSubstage = "substage"
)

const (
	stageNodePrefix    = "stage-"
	substageNodePrefix = "substage-"
)

// StageNode groups the records placed in one stage. Substages are ordered by
// sequence. Expanded is presentation state preserved across rebuilds.
type StageNode struct {
	ID        string         `json:"id"`
	StageID   int64          `json:"stage_id"`
	Name      string         `json:"name"`
	Expanded  bool           `json:"expanded"`
	Substages []SubstageNode `json:"substages"`
}

// SubstageNode is one record inside a stage node.
type SubstageNode struct {
	ID     string       `json:"id"`
	Record ConfigRecord `json:"record"`
}

// DragResult is the outcome of a drag-and-drop gesture in the tree.
// ActiveID and OverID are node identifiers.
type DragResult struct {
	ActiveID string `json:"active_id"`
	OverID   string `json:"over_id"`
	Kind     string `json:"kind"`
}

// StageNodeID returns the presentation id of a stage node.
func StageNodeID(stageID int64) string {
	return stageNodePrefix + strconv.FormatInt(stageID, 10)
}

// SubstageNodeID returns the presentation id of a substage node.
func SubstageNodeID(substageID int64, position int) string {
	return fmt.Sprintf("%s%d-%d", substageNodePrefix, substageID, position)
}

// ParseStageNodeID extracts the stage id from a stage node id.
func ParseStageNodeID(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, stageNodePrefix)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
