package model

// ParamTypeUpload marks parameters that describe an uploaded file. Their
// values are configured through file rules instead of parameter values.
const ParamTypeUpload = "upload"

// Application identifies the application a catalogue and its workflow
// instances belong to.
type Application struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// StageTemplate is a named workflow phase offered by the catalogue.
type StageTemplate struct {
	StageID       int64  `json:"stage_id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	ApplicationID int64  `json:"application_id" yaml:"application_id"`
}

// SubstageTemplate is a reusable unit of work that can be placed into a stage.
type SubstageTemplate struct {
	SubstageID         int64   `json:"substage_id" yaml:"id"`
	Name               string  `json:"name" yaml:"name"`
	ComponentRef       string  `json:"component_ref" yaml:"component"`
	DefaultStageID     int64   `json:"default_stage_id" yaml:"default_stage"`
	ParamMapping       []int64 `json:"param_mapping,omitempty" yaml:"params"`
	AttestationMapping []int64 `json:"attestation_mapping,omitempty" yaml:"attestations"`
	EntitlementID      int64   `json:"entitlement_id,omitempty" yaml:"entitlement"`
	FollowUp           bool    `json:"follow_up" yaml:"follow_up"`
}

// ParameterDefinition describes a parameter a substage can map.
type ParameterDefinition struct {
	ParamID int64  `json:"param_id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
}

// IsUpload reports whether the parameter is upload-typed.
func (p ParameterDefinition) IsUpload() bool {
	return p.Type == ParamTypeUpload
}

// AttestationDefinition is an entry of the system-wide attestation catalogue.
type AttestationDefinition struct {
	AttestationID int64  `json:"attestation_id" yaml:"id"`
	Text          string `json:"text" yaml:"text"`
}

// Catalogue is the metadata available for one application: the read-only
// input the composer builds workflow instances from.
type Catalogue struct {
	Application  Application             `json:"application" yaml:"application"`
	Stages       []StageTemplate         `json:"stages" yaml:"stages"`
	Substages    []SubstageTemplate      `json:"substages" yaml:"substages"`
	Parameters   []ParameterDefinition   `json:"parameters" yaml:"parameters"`
	Attestations []AttestationDefinition `json:"attestations" yaml:"attestations"`

	Checksum   string `json:"checksum,omitempty" yaml:"-"`
	SourceFile string `json:"-" yaml:"-"`
}

// Stage returns the stage template with the given id.
func (c *Catalogue) Stage(stageID int64) (StageTemplate, bool) {
	for _, s := range c.Stages {
		if s.StageID == stageID {
			return s, true
		}
	}
	return StageTemplate{}, false
}

// Substage returns the substage template with the given id.
func (c *Catalogue) Substage(substageID int64) (SubstageTemplate, bool) {
	for _, s := range c.Substages {
		if s.SubstageID == substageID {
			return s, true
		}
	}
	return SubstageTemplate{}, false
}

// SubstagesForStage returns the templates whose default stage is stageID,
// in catalogue order. The first entry is the stage's first available
// template.
func (c *Catalogue) SubstagesForStage(stageID int64) []SubstageTemplate {
	var result []SubstageTemplate
	for _, s := range c.Substages {
		if s.DefaultStageID == stageID {
			result = append(result, s)
		}
	}
	return result
}

// Parameter returns the parameter definition with the given id.
func (c *Catalogue) Parameter(paramID int64) (ParameterDefinition, bool) {
	for _, p := range c.Parameters {
		if p.ParamID == paramID {
			return p, true
		}
	}
	return ParameterDefinition{}, false
}

// Attestation returns the attestation definition with the given id.
func (c *Catalogue) Attestation(attestationID int64) (AttestationDefinition, bool) {
	for _, a := range c.Attestations {
		if a.AttestationID == attestationID {
			return a, true
		}
	}
	return AttestationDefinition{}, false
}

// MappedParameters splits the parameters mapped by a substage snapshot into
// editable values and upload-typed parameters. Unknown ids are skipped.
func (c *Catalogue) MappedParameters(sub SubstageRef) (editable, uploads []ParameterDefinition) {
	for _, id := range sub.ParamMapping {
		p, ok := c.Parameter(id)
		if !ok {
			continue
		}
		if p.IsUpload() {
			uploads = append(uploads, p)
		} else {
			editable = append(editable, p)
		}
	}
	return editable, uploads
}
