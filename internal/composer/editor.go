package composer

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/pitabwire/composer/model"
)

// Editor applies structural and field edits to a Store using a catalogue.
// Every operation either completes or returns an error without mutating
// the store.
type Editor struct {
	store     *Store
	catalogue *model.Catalogue
	newKey    func() string
	selected  string
}

// NewEditor creates an editor. A nil newKey uses random UUIDs.
func NewEditor(store *Store, cat *model.Catalogue, newKey func() string) *Editor {
	if newKey == nil {
		newKey = uuid.NewString
	}
	return &Editor{store: store, catalogue: cat, newKey: newKey}
}

// Store returns the underlying record store.
func (e *Editor) Store() *Store { return e.store }

// AddOne appends a record placing substageID in stageID. A zero substageID
// picks the stage's first available template.
func (e *Editor) AddOne(stageID, substageID int64) (model.ConfigRecord, error) {
	stage, ok := e.catalogue.Stage(stageID)
	if !ok {
		return model.ConfigRecord{}, model.NewBadRequestError(fmt.Sprintf("stage %d is not in the catalogue", stageID))
	}
	available := e.catalogue.SubstagesForStage(stageID)
	if len(available) == 0 {
		return model.ConfigRecord{}, model.NewNoAvailableSubstagesError(stage.Name)
	}

	tmpl := available[0]
	if substageID != 0 {
		if tmpl, ok = e.catalogue.Substage(substageID); !ok {
			return model.ConfigRecord{}, model.NewBadRequestError(fmt.Sprintf("substage %d is not in the catalogue", substageID))
		}
	}
	if e.store.HasPlacement(stageID, tmpl.SubstageID) {
		return model.ConfigRecord{}, model.NewDuplicatePlacementError(tmpl.Name, stage.Name)
	}

	r := e.newRecord(stage, tmpl)
	e.store.Append(r)
	added, _ := e.store.Get(r.Key)
	return added, nil
}

// AddStages adds one record per selected stage, using the stage's first
// available template. Stages that already have records, are unknown or
// offer no template are skipped. It returns the number of records added.
func (e *Editor) AddStages(stageIDs []int64) (int, error) {
	if len(stageIDs) == 0 {
		return 0, model.NewEmptySelectionError("stages")
	}

	var batch []model.ConfigRecord
	present := make(map[int64]bool)
	for _, id := range stageIDs {
		if present[id] || e.store.HasStage(id) {
			continue
		}
		stage, ok := e.catalogue.Stage(id)
		if !ok {
			continue
		}
		available := e.catalogue.SubstagesForStage(id)
		if len(available) == 0 {
			continue
		}
		present[id] = true
		batch = append(batch, e.newRecord(stage, available[0]))
	}

	e.store.Append(batch...)
	return len(batch), nil
}

// AddSubstages adds one record per selected template to stageID, skipping
// unknown templates and placements that already exist. It returns the
// number of records added.
func (e *Editor) AddSubstages(stageID int64, substageIDs []int64) (int, error) {
	if len(substageIDs) == 0 {
		return 0, model.NewEmptySelectionError("substages")
	}
	stage, ok := e.catalogue.Stage(stageID)
	if !ok {
		return 0, model.NewBadRequestError(fmt.Sprintf("stage %d is not in the catalogue", stageID))
	}

	var batch []model.ConfigRecord
	placed := make(map[int64]bool)
	for _, id := range substageIDs {
		if placed[id] || e.store.HasPlacement(stageID, id) {
			continue
		}
		tmpl, ok := e.catalogue.Substage(id)
		if !ok {
			continue
		}
		placed[id] = true
		batch = append(batch, e.newRecord(stage, tmpl))
	}

	e.store.Append(batch...)
	return len(batch), nil
}

// Remove deletes the record with key and every edge pointing to it.
func (e *Editor) Remove(key string) error {
	if e.store.Index(key) < 0 {
		return model.NewNotFoundError("record " + key + " not found")
	}
	e.store.Remove(map[string]bool{key: true})
	e.clearSelection(key)
	return nil
}

// RemoveAt deletes the record at the 0-based list index.
func (e *Editor) RemoveAt(index int) error {
	r, ok := e.store.At(index + 1)
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("no record at index %d", index))
	}
	return e.Remove(r.Key)
}

// RemoveStages deletes every record of the given stages in one pass and
// returns how many were removed.
func (e *Editor) RemoveStages(stageIDs []int64) (int, error) {
	if len(stageIDs) == 0 {
		return 0, model.NewEmptySelectionError("stages")
	}
	stages := make(map[int64]bool, len(stageIDs))
	for _, id := range stageIDs {
		stages[id] = true
	}

	keys := make(map[string]bool)
	for _, r := range e.store.records {
		if stages[r.Stage.StageID] {
			keys[r.Key] = true
		}
	}

	removed := e.store.Remove(keys)
	for _, r := range removed {
		e.clearSelection(r.Key)
	}
	return len(removed), nil
}

// Duplicate appends an unsaved copy of the record with key into
// targetStageID (the source stage when zero). The copy never carries
// dependencies. Duplicating into a stage that already places the template
// is rejected.
func (e *Editor) Duplicate(key string, targetStageID int64) (model.ConfigRecord, error) {
	src, ok := e.store.Get(key)
	if !ok {
		return model.ConfigRecord{}, model.NewNotFoundError("record " + key + " not found")
	}

	target := src.Stage
	if targetStageID != 0 && targetStageID != src.Stage.StageID {
		st, ok := e.catalogue.Stage(targetStageID)
		if !ok {
			return model.ConfigRecord{}, model.NewBadRequestError(fmt.Sprintf("stage %d is not in the catalogue", targetStageID))
		}
		target = model.StageRef{StageID: st.StageID, Name: st.Name}
	}
	if e.store.HasPlacement(target.StageID, src.Substage.SubstageID) {
		return model.ConfigRecord{}, model.NewDuplicatePlacementError(src.Substage.Name, target.Name)
	}

	dup := src.Clone()
	dup.Key = e.newKey()
	dup.RecordID = 0
	dup.Origin = model.OriginNew
	dup.Stage = target
	dup.Dependencies = nil

	e.store.Append(dup)
	added, _ := e.store.Get(dup.Key)
	return added, nil
}

// SetFlags applies a partial flag update.
func (e *Editor) SetFlags(key string, patch model.FlagsPatch) error {
	if !e.store.Update(key, func(r *model.ConfigRecord) { r.Flags = patch.Apply(r.Flags) }) {
		return model.NewNotFoundError("record " + key + " not found")
	}
	return nil
}

// SetParameterValue sets an editable parameter mapped by the record's
// template. An empty value clears it.
func (e *Editor) SetParameterValue(key, name, value string) error {
	r, ok := e.store.Get(key)
	if !ok {
		return model.NewNotFoundError("record " + key + " not found")
	}
	editable, _ := e.catalogue.MappedParameters(r.Substage)
	if !parameterNames(editable)[name] {
		return model.NewUnknownParameterError(name)
	}

	e.store.Update(key, func(r *model.ConfigRecord) {
		if value == "" {
			delete(r.ParameterValues, name)
			return
		}
		if r.ParameterValues == nil {
			r.ParameterValues = make(map[string]string)
		}
		r.ParameterValues[name] = value
	})
	return nil
}

// SetAttestations replaces the selected attestations. Any attestation of
// the catalogue may be selected.
func (e *Editor) SetAttestations(key string, ids []int64) error {
	if e.store.Index(key) < 0 {
		return model.NewNotFoundError("record " + key + " not found")
	}
	var details []model.FieldError
	for i, id := range ids {
		if _, ok := e.catalogue.Attestation(id); !ok {
			details = append(details, model.FieldError{
				Field:   fmt.Sprintf("attestations[%d]", i),
				Code:    "UNKNOWN_REF",
				Message: fmt.Sprintf("attestation %d is not in the catalogue", id),
			})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}

	e.store.Update(key, func(r *model.ConfigRecord) { r.Attestations = model.SortedIDs(ids) })
	return nil
}

// SetFileRule sets the rule of an upload-typed parameter mapped by the
// record's template. A rule with only default fields clears it.
func (e *Editor) SetFileRule(key, name string, rule model.FileRule) error {
	r, ok := e.store.Get(key)
	if !ok {
		return model.NewNotFoundError("record " + key + " not found")
	}
	_, uploads := e.catalogue.MappedParameters(r.Substage)
	if !parameterNames(uploads)[name] {
		return model.NewUnknownParameterError(name)
	}

	e.store.Update(key, func(r *model.ConfigRecord) {
		if rule.IsZero() {
			delete(r.FileRules, name)
			return
		}
		if r.FileRules == nil {
			r.FileRules = make(map[string]model.FileRule)
		}
		r.FileRules[name] = rule
	})
	return nil
}

// SetDependency adds or removes the edge from key to the record currently
// at sequence.
func (e *Editor) SetDependency(key string, sequence int, enabled bool) error {
	target, ok := e.store.At(sequence)
	if !ok {
		return model.NewInvalidDependencyError(fmt.Sprintf("no step has sequence %d", sequence))
	}
	return e.store.SetDependency(key, target.Key, enabled)
}

// Select opens a record in the detail panel. An empty key clears it.
func (e *Editor) Select(key string) error {
	if key != "" && e.store.Index(key) < 0 {
		return model.NewNotFoundError("record " + key + " not found")
	}
	e.selected = key
	return nil
}

// Selected returns the key of the record open in the detail panel.
func (e *Editor) Selected() string { return e.selected }

func (e *Editor) clearSelection(key string) {
	if e.selected == key {
		e.selected = ""
	}
}

func (e *Editor) newRecord(stage model.StageTemplate, tmpl model.SubstageTemplate) model.ConfigRecord {
	return model.ConfigRecord{
		Key:      e.newKey(),
		Origin:   model.OriginNew,
		Stage:    model.StageRef{StageID: stage.StageID, Name: stage.Name},
		Substage: model.SnapshotOf(tmpl),
		Flags:    model.Flags{Active: true},
	}
}

// RecordEdit is a set of field edits from the detail panel, applied all
// or nothing. Nil fields are left unchanged; a non-nil empty Attestations
// clears the selection.
type RecordEdit struct {
	Flags        *model.FlagsPatch         `json:"flags,omitempty"`
	Parameters   map[string]string         `json:"parameters,omitempty"`
	Attestations *[]int64                  `json:"attestations,omitempty"`
	FileRules    map[string]model.FileRule `json:"file_rules,omitempty"`
}

// ApplyEdit validates every part of edit against the record's template and
// the catalogue, then applies it as a single field edit.
func (e *Editor) ApplyEdit(key string, edit RecordEdit) (model.ConfigRecord, error) {
	r, ok := e.store.Get(key)
	if !ok {
		return model.ConfigRecord{}, model.NewNotFoundError("record " + key + " not found")
	}

	editable, uploads := e.catalogue.MappedParameters(r.Substage)
	editableNames, uploadNames := parameterNames(editable), parameterNames(uploads)

	var details []model.FieldError
	for name := range edit.Parameters {
		if !editableNames[name] {
			details = append(details, model.FieldError{Field: "parameters." + name, Code: model.ErrUnknownParameter, Message: "parameter is not editable for this step"})
		}
	}
	for name := range edit.FileRules {
		if !uploadNames[name] {
			details = append(details, model.FieldError{Field: "file_rules." + name, Code: model.ErrUnknownParameter, Message: "parameter is not an upload of this step"})
		}
	}
	if edit.Attestations != nil {
		for i, id := range *edit.Attestations {
			if _, ok := e.catalogue.Attestation(id); !ok {
				details = append(details, model.FieldError{
					Field:   fmt.Sprintf("attestations[%d]", i),
					Code:    "UNKNOWN_REF",
					Message: fmt.Sprintf("attestation %d is not in the catalogue", id),
				})
			}
		}
	}
	if len(details) > 0 {
		sortFieldErrors(details)
		return model.ConfigRecord{}, model.NewValidationError(details)
	}

	e.store.Update(key, func(r *model.ConfigRecord) {
		if edit.Flags != nil {
			r.Flags = edit.Flags.Apply(r.Flags)
		}
		for name, value := range edit.Parameters {
			if value == "" {
				delete(r.ParameterValues, name)
				continue
			}
			if r.ParameterValues == nil {
				r.ParameterValues = make(map[string]string)
			}
			r.ParameterValues[name] = value
		}
		if edit.Attestations != nil {
			r.Attestations = model.SortedIDs(*edit.Attestations)
		}
		for name, rule := range edit.FileRules {
			if rule.IsZero() {
				delete(r.FileRules, name)
				continue
			}
			if r.FileRules == nil {
				r.FileRules = make(map[string]model.FileRule)
			}
			r.FileRules[name] = rule
		}
	})

	updated, _ := e.store.Get(key)
	return updated, nil
}

func sortFieldErrors(details []model.FieldError) {
	sort.Slice(details, func(i, j int) bool { return details[i].Field < details[j].Field })
}
