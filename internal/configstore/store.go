// Package configstore persists the configured records of workflow instances.
// It is the load/save collaborator of the composer engine.
package configstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/pitabwire/composer/model"
)

// Store loads and saves the configuration of a workflow instance.
type Store interface {
	// GetInstanceConfig returns the saved records of an instance ordered by
	// sequence. An instance without saved configuration yields an empty
	// slice and no error.
	GetInstanceConfig(ctx context.Context, instanceID string, appID int64) ([]model.PersistedRecord, error)

	// SaveOrUpdateConfig replaces the configuration of an instance with the
	// payload and returns the authoritative record set. Entries marked
	// update keep their config id when it exists; every other entry is
	// created. Saved records missing from the payload are deleted.
	// Dependencies are re-resolved from sequence numbers to config ids.
	SaveOrUpdateConfig(ctx context.Context, instanceID string, appID int64, payload []model.SavePayload) ([]model.PersistedRecord, error)
}

// validatePayload checks the payload before any write happens.
func validatePayload(instanceID string, appID int64, payload []model.SavePayload) error {
	var details []model.FieldError
	if instanceID == "" {
		details = append(details, model.FieldError{Field: "instance_id", Code: "REQUIRED", Message: "instance id is required"})
	}
	if appID == 0 {
		details = append(details, model.FieldError{Field: "application_id", Code: "REQUIRED", Message: "application id is required"})
	}

	seen := make(map[int]bool, len(payload))
	for i, p := range payload {
		field := fmt.Sprintf("payload[%d]", i)
		if p.Operation != model.OperationCreate && p.Operation != model.OperationUpdate {
			details = append(details, model.FieldError{Field: field + ".operation", Code: "INVALID", Message: fmt.Sprintf("unknown operation %q", p.Operation)})
		}
		if p.Sequence < 1 {
			details = append(details, model.FieldError{Field: field + ".sequence", Code: "INVALID", Message: "sequence must be positive"})
		} else if seen[p.Sequence] {
			details = append(details, model.FieldError{Field: field + ".sequence", Code: "DUPLICATE", Message: fmt.Sprintf("sequence %d is used twice", p.Sequence)})
		}
		seen[p.Sequence] = true
	}

	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// resolveDependencies turns the depends_on_sequence entries of each payload
// entry into config ids. ids[i] is the config id assigned to payload[i].
// Sequences that match no entry, or the entry itself, are dropped.
func resolveDependencies(payload []model.SavePayload, ids []int64) [][]model.DependencyDescriptor {
	bySeq := make(map[int]int64, len(payload))
	for i, p := range payload {
		bySeq[p.Sequence] = ids[i]
	}

	out := make([][]model.DependencyDescriptor, len(payload))
	for i, p := range payload {
		seen := make(map[int64]bool)
		for _, d := range p.Dependencies {
			id, ok := bySeq[d.DependsOnSequence]
			if !ok || id == ids[i] || seen[id] {
				continue
			}
			seen[id] = true
			out[i] = append(out[i], model.DependencyDescriptor{DependsOn: id})
		}
	}
	return out
}

// recordFromPayload converts a payload entry into its persisted form. The
// boolean flags are authoritative; the legacy letters are re-derived.
func recordFromPayload(instanceID string, appID, configID int64, p model.SavePayload, deps []model.DependencyDescriptor) model.PersistedRecord {
	return model.PersistedRecord{
		ConfigID:      configID,
		InstanceID:    instanceID,
		ApplicationID: appID,
		Sequence:      p.Sequence,
		StageID:       p.StageID,
		StageName:     p.StageName,
		SubstageID:    p.SubstageID,
		SubstageName:  p.SubstageName,
		Active:        model.YN(p.IsActive),
		Auto:          model.YN(p.IsAuto),
		Adhoc:         model.YN(p.IsAdhoc),
		Approval:      model.YN(p.IsApproval),
		Attest:        model.YN(p.IsAttest),
		Upload:        model.YN(p.IsUpload),
		Alteryx:       model.YN(p.IsAlteryx),
		Parameters:    append([]model.ParameterValue(nil), p.Parameters...),
		Attestations:  append([]int64(nil), p.Attestations...),
		FileRules:     append([]model.FileRulePayload(nil), p.FileRules...),
		Dependencies:  deps,
	}
}

func sortBySequence(records []model.PersistedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Sequence < records[j].Sequence
	})
}

func cloneRecord(r model.PersistedRecord) model.PersistedRecord {
	c := r
	c.Parameters = append([]model.ParameterValue(nil), r.Parameters...)
	c.Attestations = append([]int64(nil), r.Attestations...)
	c.FileRules = append([]model.FileRulePayload(nil), r.FileRules...)
	c.Dependencies = append([]model.DependencyDescriptor(nil), r.Dependencies...)
	return c
}
