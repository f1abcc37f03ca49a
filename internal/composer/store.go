package composer

import (
	"github.com/pitabwire/composer/model"
)

// Store is the flat, ordered list of configured records of one instance.
// List position defines sequence: after every mutation record i carries
// sequence i+1. Dependencies reference record keys and may only point to
// records earlier in the list.
//
// Version counts structural changes (cardinality, order, stage); field
// edits only bump Revision. Store is not safe for concurrent use.
type Store struct {
	records  []model.ConfigRecord
	version  uint64
	revision uint64
}

// NewStore creates a store from records in order. Sequences are re-stamped
// and invalid edges pruned.
func NewStore(records []model.ConfigRecord) *Store {
	s := &Store{}
	s.Replace(records)
	return s
}

// Records returns a deep copy of the records in sequence order.
func (s *Store) Records() []model.ConfigRecord {
	out := make([]model.ConfigRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Version returns the structure change counter.
func (s *Store) Version() uint64 { return s.version }

// Revision returns the counter of all changes, structural or not.
func (s *Store) Revision() uint64 { return s.revision }

// Index returns the list position of the record with key, or -1.
func (s *Store) Index(key string) int {
	for i, r := range s.records {
		if r.Key == key {
			return i
		}
	}
	return -1
}

// Get returns a copy of the record with key.
func (s *Store) Get(key string) (model.ConfigRecord, bool) {
	i := s.Index(key)
	if i < 0 {
		return model.ConfigRecord{}, false
	}
	return s.records[i].Clone(), true
}

// At returns a copy of the record with the given sequence.
func (s *Store) At(sequence int) (model.ConfigRecord, bool) {
	if sequence < 1 || sequence > len(s.records) {
		return model.ConfigRecord{}, false
	}
	return s.records[sequence-1].Clone(), true
}

// HasPlacement reports whether a record already places substageID in stageID.
func (s *Store) HasPlacement(stageID, substageID int64) bool {
	for _, r := range s.records {
		if r.Stage.StageID == stageID && r.Substage.SubstageID == substageID {
			return true
		}
	}
	return false
}

// HasStage reports whether any record belongs to stageID.
func (s *Store) HasStage(stageID int64) bool {
	for _, r := range s.records {
		if r.Stage.StageID == stageID {
			return true
		}
	}
	return false
}

// Replace swaps in a new ordered record list and returns the number of
// dependency edges pruned to keep them pointing backwards.
func (s *Store) Replace(records []model.ConfigRecord) int {
	s.records = make([]model.ConfigRecord, len(records))
	for i, r := range records {
		s.records[i] = r.Clone()
	}
	s.restamp()
	dropped := s.pruneEdges()
	s.touch(true)
	return dropped
}

// Append adds records at the end of the list.
func (s *Store) Append(records ...model.ConfigRecord) {
	if len(records) == 0 {
		return
	}
	for _, r := range records {
		s.records = append(s.records, r.Clone())
	}
	s.restamp()
	s.touch(true)
}

// Remove deletes the records whose key is in keys, then removes every edge
// that pointed to them. It returns the removed records.
func (s *Store) Remove(keys map[string]bool) []model.ConfigRecord {
	var removed []model.ConfigRecord
	kept := s.records[:0]
	for _, r := range s.records {
		if keys[r.Key] {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		return nil
	}
	s.records = kept
	s.restamp()
	s.pruneEdges()
	s.touch(true)
	return removed
}

// Update applies fn to the record with key. It is a field edit: fn must not
// change Key, Sequence or Stage.
func (s *Store) Update(key string, fn func(r *model.ConfigRecord)) bool {
	i := s.Index(key)
	if i < 0 {
		return false
	}
	fn(&s.records[i])
	s.touch(false)
	return true
}

// SetDependency adds or removes the edge from key to target. The target
// must come strictly earlier.
func (s *Store) SetDependency(key, target string, enabled bool) error {
	i := s.Index(key)
	if i < 0 {
		return model.NewNotFoundError("record " + key + " not found")
	}
	j := s.Index(target)
	if j < 0 {
		return model.NewInvalidDependencyError("dependency target does not exist")
	}
	if j >= i {
		return model.NewInvalidDependencyError("a step can only depend on an earlier step")
	}

	r := &s.records[i]
	if enabled {
		if !r.DependsOn(target) {
			r.Dependencies = append(r.Dependencies, target)
		}
	} else {
		deps := r.Dependencies[:0]
		for _, d := range r.Dependencies {
			if d != target {
				deps = append(deps, d)
			}
		}
		r.Dependencies = deps
	}
	s.touch(false)
	return nil
}

func (s *Store) restamp() {
	for i := range s.records {
		s.records[i].Sequence = i + 1
	}
}

// pruneEdges drops edges whose target is missing, duplicated, the record
// itself or later in the list.
func (s *Store) pruneEdges() int {
	pos := make(map[string]int, len(s.records))
	for i, r := range s.records {
		pos[r.Key] = i
	}

	dropped := 0
	for i := range s.records {
		r := &s.records[i]
		if len(r.Dependencies) == 0 {
			continue
		}
		seen := make(map[string]bool, len(r.Dependencies))
		deps := make([]string, 0, len(r.Dependencies))
		for _, d := range r.Dependencies {
			j, ok := pos[d]
			if !ok || j >= i || seen[d] {
				dropped++
				continue
			}
			seen[d] = true
			deps = append(deps, d)
		}
		r.Dependencies = deps
	}
	return dropped
}

func (s *Store) touch(structural bool) {
	s.revision++
	if structural {
		s.version++
	}
}
