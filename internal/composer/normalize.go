package composer

import (
	"sort"

	"github.com/pitabwire/composer/model"
)

// LoadReport counts what load normalization had to discard.
type LoadReport struct {
	UnresolvedDependencies int `json:"unresolved_dependencies"`
	ForwardDependencies    int `json:"forward_dependencies"`
	DuplicatePlacements    int `json:"duplicate_placements"`
	UnknownStageRecords    int `json:"unknown_stage_records"`
}

// Clean reports whether nothing was discarded or hidden.
func (r LoadReport) Clean() bool {
	return r == LoadReport{}
}

// KeyFunc assigns the session key of a loaded record.
type KeyFunc func(p model.PersistedRecord) string

// FromPersisted turns the records returned by the configuration backend
// into engine records, in persisted sequence order:
//
//   - later records repeating a (stage, substage) placement are dropped;
//   - dependency descriptors are resolved to keys with resolver, and
//     unresolved, self or forward references are dropped;
//   - flags are parsed from their Y/N form;
//   - parameters and file rules are deduplicated by name (last wins) and,
//     when the template is known, restricted to its mapping.
//
// Records whose stage is missing from cat are kept but counted. cat may be
// nil.
func FromPersisted(persisted []model.PersistedRecord, cat *model.Catalogue, resolver *Resolver, keyFor KeyFunc) ([]model.ConfigRecord, LoadReport) {
	var report LoadReport

	sorted := make([]model.PersistedRecord, len(persisted))
	copy(sorted, persisted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})

	seen := make(map[model.Placement]bool, len(sorted))
	kept := make([]model.PersistedRecord, 0, len(sorted))
	for _, p := range sorted {
		pl := model.Placement{StageID: p.StageID, SubstageID: p.SubstageID}
		if seen[pl] {
			report.DuplicatePlacements++
			continue
		}
		seen[pl] = true
		kept = append(kept, p)
	}

	records := make([]model.ConfigRecord, len(kept))
	candidates := make([]Candidate, len(kept))
	pos := make(map[string]int, len(kept))
	for i, p := range kept {
		r := recordFromPersisted(p, cat, keyFor(p))
		r.Sequence = i + 1
		records[i] = r
		candidates[i] = Candidate{Key: r.Key, RecordID: p.ConfigID, Sequence: p.Sequence, SubstageID: p.SubstageID}
		pos[r.Key] = i
		if cat != nil {
			if _, ok := cat.Stage(p.StageID); !ok {
				report.UnknownStageRecords++
			}
		}
	}

	for i, p := range kept {
		for _, d := range p.Dependencies {
			key, ok := resolver.Resolve(d.DependsOn, candidates)
			if !ok {
				report.UnresolvedDependencies++
				continue
			}
			if pos[key] >= i {
				report.ForwardDependencies++
				continue
			}
			if !records[i].DependsOn(key) {
				records[i].Dependencies = append(records[i].Dependencies, key)
			}
		}
	}

	return records, report
}

func recordFromPersisted(p model.PersistedRecord, cat *model.Catalogue, key string) model.ConfigRecord {
	r := model.ConfigRecord{
		Key:      key,
		RecordID: p.ConfigID,
		Origin:   model.OriginNew,
		Stage:    model.StageRef{StageID: p.StageID, Name: p.StageName},
		Substage: model.SubstageRef{SubstageID: p.SubstageID, Name: p.SubstageName},
		Flags: model.Flags{
			Active:   model.ParseYN(p.Active),
			Auto:     model.ParseYN(p.Auto),
			Adhoc:    model.ParseYN(p.Adhoc),
			Approval: model.ParseYN(p.Approval),
			Attest:   model.ParseYN(p.Attest),
			Upload:   model.ParseYN(p.Upload),
			Alteryx:  model.ParseYN(p.Alteryx),
		},
		Attestations: model.SortedIDs(p.Attestations),
	}
	if p.ConfigID != 0 {
		r.Origin = model.OriginPersisted
	}

	// nil means "no restriction".
	var editable, uploads map[string]bool
	if cat != nil {
		if st, ok := cat.Stage(p.StageID); ok {
			r.Stage.Name = st.Name
		}
		if t, ok := cat.Substage(p.SubstageID); ok {
			r.Substage = model.SnapshotOf(t)
			ed, up := cat.MappedParameters(r.Substage)
			editable = parameterNames(ed)
			uploads = parameterNames(up)
		}
	}

	for _, pv := range p.Parameters {
		if editable != nil && !editable[pv.Name] {
			continue
		}
		if r.ParameterValues == nil {
			r.ParameterValues = make(map[string]string)
		}
		if pv.Value == "" {
			delete(r.ParameterValues, pv.Name)
			continue
		}
		r.ParameterValues[pv.Name] = pv.Value
	}

	for _, fr := range p.FileRules {
		if uploads != nil && !uploads[fr.ParamName] {
			continue
		}
		if r.FileRules == nil {
			r.FileRules = make(map[string]model.FileRule)
		}
		rule := model.FileRule{
			Pattern:         fr.Pattern,
			Description:     fr.Description,
			Required:        fr.Required,
			EmailOnComplete: fr.EmailOnComplete,
		}
		if rule.IsZero() {
			delete(r.FileRules, fr.ParamName)
			continue
		}
		r.FileRules[fr.ParamName] = rule
	}

	return r
}

func parameterNames(defs []model.ParameterDefinition) map[string]bool {
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
	}
	return names
}
