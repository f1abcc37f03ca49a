// Package composer is the configuration tree and dependency engine. It keeps
// the flat ordered record list of one workflow instance, projects it into a
// stage/substage tree, applies structural edits and drag reorders, resolves
// dependency references at the load and save boundaries, and builds the
// save payload.
package composer

import (
	"context"
	"time"

	"github.com/pitabwire/composer/model"
)

// ConfigBackend is the load/save collaborator.
type ConfigBackend interface {
	GetInstanceConfig(ctx context.Context, instanceID string, appID int64) ([]model.PersistedRecord, error)
	SaveOrUpdateConfig(ctx context.Context, instanceID string, appID int64, payload []model.SavePayload) ([]model.PersistedRecord, error)
}

// MetadataSource provides the catalogue of an application.
type MetadataSource interface {
	Metadata(ctx context.Context, appID int64) (*model.Catalogue, error)
}

// Recorder receives engine measurements. *observability.Metrics satisfies it.
type Recorder interface {
	RecordEdit(operation, outcome string)
	RecordDependenciesDropped(reason string, n int)
	RecordLoad(outcome string)
	RecordSave(outcome string, duration time.Duration)
	SetActiveSessions(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEdit(string, string) {}
func (nopRecorder) RecordDependenciesDropped(string, int) {}
func (nopRecorder) RecordLoad(string) {}
func (nopRecorder) RecordSave(string, time.Duration) {}
func (nopRecorder) SetActiveSessions(int) {}

// Edit outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
)

// Reasons for dropping dependency edges.
const (
	DropUnresolved = "unresolved"
	DropForward    = "forward"
	DropReorder    = "reorder"
)
