package model

import (
	"sort"
	"strings"
)

// Record origin tags.
const (
	OriginPersisted = "persisted"
	OriginNew       = "new"
)

// StageRef is the stage a configured record currently belongs to.
type StageRef struct {
	StageID int64  `json:"stage_id" yaml:"stage_id"`
	Name    string `json:"name" yaml:"name"`
}

// SubstageRef is the template snapshot copied into a record when it is added.
type SubstageRef struct {
	SubstageID         int64   `json:"substage_id" yaml:"substage_id"`
	Name               string  `json:"name" yaml:"name"`
	ParamMapping       []int64 `json:"param_mapping,omitempty" yaml:"param_mapping"`
	AttestationMapping []int64 `json:"attestation_mapping,omitempty" yaml:"attestation_mapping"`
	EntitlementID      int64   `json:"entitlement_id,omitempty" yaml:"entitlement_id"`
	FollowUp           bool    `json:"follow_up" yaml:"follow_up"`
}

// SnapshotOf copies the parts of a template a record keeps.
func SnapshotOf(t SubstageTemplate) SubstageRef {
	return SubstageRef{
		SubstageID:         t.SubstageID,
		Name:               t.Name,
		ParamMapping:       append([]int64(nil), t.ParamMapping...),
		AttestationMapping: append([]int64(nil), t.AttestationMapping...),
		EntitlementID:      t.EntitlementID,
		FollowUp:           t.FollowUp,
	}
}

// Flags are the independent switches of a configured record. Approval,
// Attest and Upload are only meaningful while Auto is false; that is a UI
// convention and is not enforced here.
type Flags struct {
	Active   bool `json:"active"`
	Auto     bool `json:"auto"`
	Adhoc    bool `json:"adhoc"`
	Approval bool `json:"approval"`
	Attest   bool `json:"attest"`
	Upload   bool `json:"upload"`
	Alteryx  bool `json:"alteryx"`
}

// FlagsPatch is a partial flag update; nil fields are left unchanged.
type FlagsPatch struct {
	Active   *bool `json:"active,omitempty"`
	Auto     *bool `json:"auto,omitempty"`
	Adhoc    *bool `json:"adhoc,omitempty"`
	Approval *bool `json:"approval,omitempty"`
	Attest   *bool `json:"attest,omitempty"`
	Upload   *bool `json:"upload,omitempty"`
	Alteryx  *bool `json:"alteryx,omitempty"`
}

// Apply returns f with the non-nil fields of p applied.
func (p FlagsPatch) Apply(f Flags) Flags {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&f.Active, p.Active)
	set(&f.Auto, p.Auto)
	set(&f.Adhoc, p.Adhoc)
	set(&f.Approval, p.Approval)
	set(&f.Attest, p.Attest)
	set(&f.Upload, p.Upload)
	set(&f.Alteryx, p.Alteryx)
	return f
}

// FileRule configures an upload-typed parameter.
type FileRule struct {
	Pattern         string `json:"pattern,omitempty"`
	Description     string `json:"description,omitempty"`
	Required        bool   `json:"required"`
	EmailOnComplete bool   `json:"email_on_complete"`
}

// IsZero reports whether every field of the rule still has its default.
func (r FileRule) IsZero() bool {
	return strings.TrimSpace(r.Pattern) == "" &&
		strings.TrimSpace(r.Description) == "" &&
		!r.Required && !r.EmailOnComplete
}

// ConfigRecord is one configured placement of a substage template inside a
// stage of a workflow instance.
//
// Key is a session-local identity assigned when the record enters the
// editor; it is never persisted. Dependencies hold the Keys of the records
// this one waits on. Sequence numbers are derived from list position.
type ConfigRecord struct {
	Key             string              `json:"key"`
	RecordID        int64               `json:"record_id"`
	Origin          string              `json:"origin"`
	Sequence        int                 `json:"sequence"`
	Stage           StageRef            `json:"stage"`
	Substage        SubstageRef         `json:"substage"`
	Flags           Flags               `json:"flags"`
	ParameterValues map[string]string   `json:"parameter_values,omitempty"`
	Attestations    []int64             `json:"attestations,omitempty"`
	FileRules       map[string]FileRule `json:"file_rules,omitempty"`
	Dependencies    []string            `json:"dependencies,omitempty"`
}

// Placement returns the (stage, substage) pair that must be unique within
// an instance.
func (r ConfigRecord) Placement() Placement {
	return Placement{StageID: r.Stage.StageID, SubstageID: r.Substage.SubstageID}
}

// DependsOn reports whether the record has an edge to key.
func (r ConfigRecord) DependsOn(key string) bool {
	for _, d := range r.Dependencies {
		if d == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (r ConfigRecord) Clone() ConfigRecord {
	c := r
	c.Substage.ParamMapping = append([]int64(nil), r.Substage.ParamMapping...)
	c.Substage.AttestationMapping = append([]int64(nil), r.Substage.AttestationMapping...)
	if r.ParameterValues != nil {
		c.ParameterValues = make(map[string]string, len(r.ParameterValues))
		for k, v := range r.ParameterValues {
			c.ParameterValues[k] = v
		}
	}
	if r.FileRules != nil {
		c.FileRules = make(map[string]FileRule, len(r.FileRules))
		for k, v := range r.FileRules {
			c.FileRules[k] = v
		}
	}
	c.Attestations = append([]int64(nil), r.Attestations...)
	c.Dependencies = append([]string(nil), r.Dependencies...)
	return c
}

// Placement identifies a template placement within an instance.
type Placement struct {
	StageID    int64
	SubstageID int64
}

// YN renders a flag in the legacy two-letter form.
func YN(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// ParseYN reads a legacy flag. "Y", "YES" and "TRUE" (any case) are true.
func ParseYN(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "YES", "TRUE", "1":
		return true
	}
	return false
}

// SortedIDs returns a sorted copy of ids without duplicates.
func SortedIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
