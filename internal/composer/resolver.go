package composer

import (
	"sort"

	"github.com/pitabwire/composer/model"
)

// Candidate is a loaded record as seen by the match strategies. Sequence is
// the sequence the record was persisted with, before re-stamping.
type Candidate struct {
	Key        string
	RecordID   int64
	Sequence   int
	SubstageID int64
}

// MatchStrategy maps a persisted dependency reference to a record key.
type MatchStrategy func(ref int64, candidates []Candidate) (key string, ok bool)

// ByRecordID matches the persisted config id. Zero never matches.
func ByRecordID(ref int64, candidates []Candidate) (string, bool) {
	if ref == 0 {
		return "", false
	}
	for _, c := range candidates {
		if c.RecordID == ref {
			return c.Key, true
		}
	}
	return "", false
}

// BySequence matches the persisted sequence number.
func BySequence(ref int64, candidates []Candidate) (string, bool) {
	for _, c := range candidates {
		if int64(c.Sequence) == ref {
			return c.Key, true
		}
	}
	return "", false
}

// BySubstageID matches the template substage id. Candidates are expected in
// sequence order; the earliest match wins.
func BySubstageID(ref int64, candidates []Candidate) (string, bool) {
	for _, c := range candidates {
		if c.SubstageID == ref {
			return c.Key, true
		}
	}
	return "", false
}

// Resolver tries its strategies in order and returns the first match.
type Resolver struct {
	strategies []MatchStrategy
}

// NewResolver creates a resolver with the given strategies.
func NewResolver(strategies ...MatchStrategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// DefaultResolver matches by record id, then sequence, then substage id.
func DefaultResolver() *Resolver {
	return NewResolver(ByRecordID, BySequence, BySubstageID)
}

// Resolve returns the key of the record ref designates.
func (r *Resolver) Resolve(ref int64, candidates []Candidate) (string, bool) {
	for _, match := range r.strategies {
		if key, ok := match(ref, candidates); ok {
			return key, true
		}
	}
	return "", false
}

// DependencyOption is one row of the dependency editor: a record that comes
// earlier than the edited one.
type DependencyOption struct {
	Sequence     int    `json:"sequence"`
	Key          string `json:"key"`
	StageName    string `json:"stage_name"`
	SubstageName string `json:"substage_name"`
	Selected     bool   `json:"selected"`
}

// DependencyOptions lists the records the record with key may depend on.
func DependencyOptions(records []model.ConfigRecord, key string) ([]DependencyOption, error) {
	idx := -1
	for i, r := range records {
		if r.Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, model.NewNotFoundError("record " + key + " not found")
	}

	self := records[idx]
	opts := make([]DependencyOption, 0, idx)
	for _, r := range records[:idx] {
		opts = append(opts, DependencyOption{
			Sequence:     r.Sequence,
			Key:          r.Key,
			StageName:    r.Stage.Name,
			SubstageName: r.Substage.Name,
			Selected:     self.DependsOn(r.Key),
		})
	}
	return opts, nil
}

// dependencySequences projects the key edges of each record to sequence
// numbers, ascending.
func dependencySequences(records []model.ConfigRecord) [][]int {
	seq := make(map[string]int, len(records))
	for _, r := range records {
		seq[r.Key] = r.Sequence
	}
	out := make([][]int, len(records))
	for i, r := range records {
		out[i] = []int{}
		for _, d := range r.Dependencies {
			if s, ok := seq[d]; ok && s < r.Sequence {
				out[i] = append(out[i], s)
			}
		}
		sort.Ints(out[i])
	}
	return out
}
