package composer

import (
	"sort"

	"github.com/pitabwire/composer/model"
)

// BuildPayload converts records into the save payload, one entry per record
// in sequence order. Flags go out both as Y/N letters and as booleans.
// Parameters and file rules are sorted by name; file rules with only
// default fields are omitted. Dependencies are sent as sequence numbers.
func BuildPayload(records []model.ConfigRecord, app model.Application, instanceID string) []model.SavePayload {
	deps := dependencySequences(records)
	out := make([]model.SavePayload, 0, len(records))
	for i, r := range records {
		p := model.SavePayload{
			ConfigID:      r.RecordID,
			Operation:     operationFor(r),
			InstanceID:    instanceID,
			ApplicationID: app.ID,
			Sequence:      r.Sequence,
			StageID:       r.Stage.StageID,
			StageName:     r.Stage.Name,
			SubstageID:    r.Substage.SubstageID,
			SubstageName:  r.Substage.Name,

			Active:   model.YN(r.Flags.Active),
			Auto:     model.YN(r.Flags.Auto),
			Adhoc:    model.YN(r.Flags.Adhoc),
			Approval: model.YN(r.Flags.Approval),
			Attest:   model.YN(r.Flags.Attest),
			Upload:   model.YN(r.Flags.Upload),
			Alteryx:  model.YN(r.Flags.Alteryx),

			IsActive:   r.Flags.Active,
			IsAuto:     r.Flags.Auto,
			IsAdhoc:    r.Flags.Adhoc,
			IsApproval: r.Flags.Approval,
			IsAttest:   r.Flags.Attest,
			IsUpload:   r.Flags.Upload,
			IsAlteryx:  r.Flags.Alteryx,

			Parameters:   parameterList(r.ParameterValues),
			Attestations: model.SortedIDs(r.Attestations),
			FileRules:    fileRuleList(r.FileRules),
			Dependencies: make([]model.DependencyPayload, 0, len(deps[i])),
		}
		if p.Attestations == nil {
			p.Attestations = []int64{}
		}
		for _, seq := range deps[i] {
			p.Dependencies = append(p.Dependencies, model.DependencyPayload{DependsOnSequence: seq})
		}
		out = append(out, p)
	}
	return out
}

// BatchOperation is the whole-batch create/update decision older clients
// expect: update as soon as any record has been saved before.
func BatchOperation(records []model.ConfigRecord) string {
	for _, r := range records {
		if r.RecordID != 0 {
			return model.OperationUpdate
		}
	}
	return model.OperationCreate
}

func operationFor(r model.ConfigRecord) string {
	if r.Origin == model.OriginPersisted && r.RecordID != 0 {
		return model.OperationUpdate
	}
	return model.OperationCreate
}

func parameterList(values map[string]string) []model.ParameterValue {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.ParameterValue, 0, len(names))
	for _, name := range names {
		out = append(out, model.ParameterValue{Name: name, Value: values[name]})
	}
	return out
}

func fileRuleList(rules map[string]model.FileRule) []model.FileRulePayload {
	names := make([]string, 0, len(rules))
	for name, rule := range rules {
		if !rule.IsZero() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]model.FileRulePayload, 0, len(names))
	for _, name := range names {
		rule := rules[name]
		out = append(out, model.FileRulePayload{
			ParamName:       name,
			Pattern:         rule.Pattern,
			Description:     rule.Description,
			Required:        rule.Required,
			EmailOnComplete: rule.EmailOnComplete,
		})
	}
	return out
}
