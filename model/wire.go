package model

// Save operations.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
)

// ParameterValue is one name/value pair of a record's parameters.
type ParameterValue struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// FileRulePayload is a file rule in wire form, keyed by parameter name.
type FileRulePayload struct {
	ParamName       string `json:"param_name" yaml:"param_name"`
	Pattern         string `json:"pattern" yaml:"pattern"`
	Description     string `json:"description" yaml:"description"`
	Required        bool   `json:"required" yaml:"required"`
	EmailOnComplete bool   `json:"email_on_complete" yaml:"email_on_complete"`
}

// DependencyDescriptor is a persisted dependency. Depending on the round-trip
// history of the record, DependsOn holds a persisted config id, a sequence
// number, or a template substage id.
type DependencyDescriptor struct {
	DependsOn int64 `json:"depends_on" yaml:"depends_on"`
}

// PersistedRecord is a configured step as returned by the configuration
// service (getInstanceConfig and saveOrUpdateConfig responses).
type PersistedRecord struct {
	ConfigID      int64                  `json:"config_id" yaml:"config_id"`
	InstanceID    string                 `json:"instance_id" yaml:"instance_id"`
	ApplicationID int64                  `json:"application_id" yaml:"application_id"`
	Sequence      int                    `json:"sequence" yaml:"sequence"`
	StageID       int64                  `json:"stage_id" yaml:"stage_id"`
	StageName     string                 `json:"stage_name" yaml:"stage_name"`
	SubstageID    int64                  `json:"substage_id" yaml:"substage_id"`
	SubstageName  string                 `json:"substage_name" yaml:"substage_name"`
	Active        string                 `json:"active" yaml:"active"`
	Auto          string                 `json:"auto" yaml:"auto"`
	Adhoc         string                 `json:"adhoc" yaml:"adhoc"`
	Approval      string                 `json:"approval" yaml:"approval"`
	Attest        string                 `json:"attest" yaml:"attest"`
	Upload        string                 `json:"upload" yaml:"upload"`
	Alteryx       string                 `json:"alteryx" yaml:"alteryx"`
	Parameters    []ParameterValue       `json:"parameters,omitempty" yaml:"parameters"`
	Attestations  []int64                `json:"attestations,omitempty" yaml:"attestations"`
	FileRules     []FileRulePayload      `json:"file_rules,omitempty" yaml:"file_rules"`
	Dependencies  []DependencyDescriptor `json:"dependencies,omitempty" yaml:"dependencies"`
}

// DependencyPayload references a dependency target by sequence number. The
// configuration service re-resolves it to a persisted id during the save.
type DependencyPayload struct {
	DependsOnSequence int `json:"depends_on_sequence"`
}

// SavePayload is one record in the normalized save request. Flags are sent
// both as legacy Y/N fields and as booleans.
type SavePayload struct {
	ConfigID      int64  `json:"config_id"`
	Operation     string `json:"operation"`
	InstanceID    string `json:"instance_id"`
	ApplicationID int64  `json:"application_id"`
	Sequence      int    `json:"sequence"`
	StageID       int64  `json:"stage_id"`
	StageName     string `json:"stage_name"`
	SubstageID    int64  `json:"substage_id"`
	SubstageName  string `json:"substage_name"`

	Active   string `json:"active"`
	Auto     string `json:"auto"`
	Adhoc    string `json:"adhoc"`
	Approval string `json:"approval"`
	Attest   string `json:"attest"`
	Upload   string `json:"upload"`
	Alteryx  string `json:"alteryx"`

	IsActive   bool `json:"is_active"`
	IsAuto     bool `json:"is_auto"`
	IsAdhoc    bool `json:"is_adhoc"`
	IsApproval bool `json:"is_approval"`
	IsAttest   bool `json:"is_attest"`
	IsUpload   bool `json:"is_upload"`
	IsAlteryx  bool `json:"is_alteryx"`

	Parameters   []ParameterValue    `json:"parameters"`
	Attestations []int64             `json:"attestations"`
	FileRules    []FileRulePayload   `json:"file_rules"`
	Dependencies []DependencyPayload `json:"dependencies"`
}
