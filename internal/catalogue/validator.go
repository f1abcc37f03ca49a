package catalogue

import (
	"fmt"

	"github.com/pitabwire/composer/model"
)

// VError describes a single validation error in a catalogue.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks catalogues structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all catalogues, including application ids repeated across
// files.
func (v *Validator) Validate(cats []model.Catalogue) []VError {
	var errs []VError
	apps := make(map[int64]string)
	for i, cat := range cats {
		prefix := fmt.Sprintf("catalogues[%d]", i)
		if prev, ok := apps[cat.Application.ID]; ok && cat.Application.ID != 0 {
			errs = append(errs, VError{
				Path:    prefix + ".application.id",
				Code:    "DUPLICATE_ID",
				Message: fmt.Sprintf("application %d is already defined in %s", cat.Application.ID, prev),
			})
		}
		apps[cat.Application.ID] = cat.SourceFile
		errs = append(errs, v.validateCatalogue(prefix, cat)...)
	}
	return errs
}

func (v *Validator) validateCatalogue(prefix string, cat model.Catalogue) []VError {
	var errs []VError

	if cat.Application.ID == 0 {
		errs = append(errs, VError{Path: prefix + ".application.id", Code: "REQUIRED", Message: "application id is required"})
	}
	if cat.Application.Name == "" {
		errs = append(errs, VError{Path: prefix + ".application.name", Code: "REQUIRED", Message: "application name is required"})
	}

	stageIDs := make(map[int64]bool)
	for i, s := range cat.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if s.StageID == 0 {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "stage id is required"})
		} else if stageIDs[s.StageID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("stage id %d is duplicated", s.StageID)})
		}
		stageIDs[s.StageID] = true
		if s.Name == "" {
			errs = append(errs, VError{Path: sp + ".name", Code: "REQUIRED", Message: "stage name is required"})
		}
	}

	paramIDs := make(map[int64]bool)
	for i, p := range cat.Parameters {
		pp := fmt.Sprintf("%s.parameters[%d]", prefix, i)
		if paramIDs[p.ParamID] {
			errs = append(errs, VError{Path: pp + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("parameter id %d is duplicated", p.ParamID)})
		}
		paramIDs[p.ParamID] = true
		if p.Name == "" {
			errs = append(errs, VError{Path: pp + ".name", Code: "REQUIRED", Message: "parameter name is required"})
		}
	}

	attestationIDs := make(map[int64]bool)
	for i, a := range cat.Attestations {
		ap := fmt.Sprintf("%s.attestations[%d]", prefix, i)
		if attestationIDs[a.AttestationID] {
			errs = append(errs, VError{Path: ap + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("attestation id %d is duplicated", a.AttestationID)})
		}
		attestationIDs[a.AttestationID] = true
	}

	substageIDs := make(map[int64]bool)
	for i, s := range cat.Substages {
		sp := fmt.Sprintf("%s.substages[%d]", prefix, i)
		errs = append(errs, v.validateSubstage(sp, s, substageIDs, stageIDs, paramIDs, attestationIDs)...)
		substageIDs[s.SubstageID] = true
	}

	return errs
}

func (v *Validator) validateSubstage(prefix string, s model.SubstageTemplate, seen, stages, params, attestations map[int64]bool) []VError {
	var errs []VError

	if s.SubstageID == 0 {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "substage id is required"})
	} else if seen[s.SubstageID] {
		errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("substage id %d is duplicated", s.SubstageID)})
	}
	if s.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "substage name is required"})
	}
	if !stages[s.DefaultStageID] {
		errs = append(errs, VError{
			Path:    prefix + ".default_stage",
			Code:    "UNKNOWN_REF",
			Message: fmt.Sprintf("default stage %d is not defined", s.DefaultStageID),
		})
	}
	for j, id := range s.ParamMapping {
		if !params[id] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.params[%d]", prefix, j),
				Code:    "UNKNOWN_REF",
				Message: fmt.Sprintf("parameter %d is not defined", id),
			})
		}
	}
	for j, id := range s.AttestationMapping {
		if !attestations[id] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.attestations[%d]", prefix, j),
				Code:    "UNKNOWN_REF",
				Message: fmt.Sprintf("attestation %d is not defined", id),
			})
		}
	}

	return errs
}
