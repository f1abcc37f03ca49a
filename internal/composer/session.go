package composer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/composer/internal/observability"
	"github.com/pitabwire/composer/model"
)

// Load outcomes.
const (
	LoadOK       = "ok"
	LoadDegraded = "degraded"
	LoadStale    = "stale"
	LoadError    = "error"
)

// LoadResult describes the outcome of a Load. A Stale result was superseded
// by a later Load and changed nothing.
type LoadResult struct {
	Generation uint64     `json:"generation"`
	Stale      bool       `json:"stale"`
	IsNew      bool       `json:"is_new"`
	Notice     string     `json:"notice,omitempty"`
	Report     LoadReport `json:"report"`
	Records    int        `json:"records"`
}

// SaveResult describes a completed save.
type SaveResult struct {
	Records int        `json:"records"`
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Adopted bool       `json:"adopted"`
	Report  LoadReport `json:"report"`
}

// ReorderResult describes the outcome of a drag reorder.
type ReorderResult struct {
	Moved               bool `json:"moved"`
	DroppedDependencies int  `json:"dropped_dependencies"`
}

// Info summarizes the state of a session.
type Info struct {
	ID             string             `json:"id"`
	TenantID       string             `json:"tenant_id"`
	InstanceID     string             `json:"instance_id,omitempty"`
	Application    *model.Application `json:"application,omitempty"`
	IsNew          bool               `json:"is_new"`
	Notice         string             `json:"notice,omitempty"`
	Records        int                `json:"records"`
	Selected       string             `json:"selected,omitempty"`
	LoadGeneration uint64             `json:"load_generation"`
	Version        uint64             `json:"structure_version"`
	Report         LoadReport         `json:"report"`
}

// SessionDeps are the collaborators shared by every session.
type SessionDeps struct {
	Backend  ConfigBackend
	Metadata MetadataSource
	Resolver *Resolver
	Recorder Recorder
	Logger   *zap.Logger
	NewKey   func() string
}

func (d SessionDeps) withDefaults() SessionDeps {
	if d.Resolver == nil {
		d.Resolver = DefaultResolver()
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.NewKey == nil {
		d.NewKey = uuid.NewString
	}
	return d
}

// Session is the editing state of one workflow instance: the record store,
// the editor over it, the cached tree projection and the load/save
// lifecycle. A session is safe for concurrent use; operations are
// serialized.
type Session struct {
	ID       string
	TenantID string

	backend  ConfigBackend
	metadata MetadataSource
	resolver *Resolver
	recorder Recorder
	logger   *zap.Logger
	newKey   func() string

	mu          sync.Mutex
	instanceID  string
	app         model.Application
	catalogue   *model.Catalogue
	store       *Store
	editor      *Editor
	isNew       bool
	notice      string
	report      LoadReport
	loadGen     uint64
	pending     *loadTarget
	tree        []model.StageNode
	orphans     []model.ConfigRecord
	treeVersion uint64
	treeRev     uint64

	released atomic.Bool
}

// loadTarget is the instance a load was requested for.
type loadTarget struct {
	instanceID string
	appID      int64
}

// NewSession creates an empty session. Nothing can be edited until an
// instance is loaded.
func NewSession(id, tenantID string, deps SessionDeps) *Session {
	deps = deps.withDefaults()
	return &Session{
		ID:       id,
		TenantID: tenantID,
		backend:  deps.Backend,
		metadata: deps.Metadata,
		resolver: deps.Resolver,
		recorder: deps.Recorder,
		logger:   deps.Logger.With(zap.String("session_id", id), zap.String("tenant_id", tenantID)),
		newKey:   deps.NewKey,
		store:    NewStore(nil),
	}
}

// Load fetches the catalogue and the saved configuration of an instance and
// makes them the session state. A failing configuration fetch degrades to
// an empty new instance with a notice. When a later Load starts before this
// one finishes, this one is discarded and reported as stale.
func (s *Session) Load(ctx context.Context, instanceID string, appID int64) (LoadResult, error) {
	if details := loadTargetErrors(instanceID, appID); len(details) > 0 {
		return LoadResult{}, model.NewValidationError(details)
	}

	ctx, span := observability.StartSpan(ctx, "composer.load",
		observability.AttrSessionID.String(s.ID),
		observability.AttrInstanceID.String(instanceID),
		observability.AttrApplicationID.Int64(appID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Claim a generation.
	s.mu.Lock()
	s.loadGen++
	gen := s.loadGen
	s.pending = &loadTarget{instanceID: instanceID, appID: appID}
	s.mu.Unlock()
	span.SetAttributes(observability.AttrLoadGeneration.Int64(int64(gen)))

	// 2. Fetch the catalogue. Without it nothing can be edited.
	cat, err := s.metadata.Metadata(ctx, appID)
	if err != nil {
		s.recorder.RecordLoad(LoadError)
		s.logger.Error("catalogue fetch failed",
			zap.String("instance_id", instanceID),
			zap.Int64("application_id", appID),
			zap.Error(err),
		)
		var ee *model.ErrorEnvelope
		if !errors.As(err, &ee) {
			err = model.NewBackendUnavailableError()
		}
		s.mu.Lock()
		if gen == s.loadGen {
			s.pending = nil
		}
		s.mu.Unlock()
		return LoadResult{}, err
	}

	// 3. Fetch the saved configuration. Failure starts an empty instance.
	outcome := LoadOK
	notice := ""
	persisted, lerr := s.backend.GetInstanceConfig(ctx, instanceID, appID)
	if lerr != nil {
		outcome = LoadDegraded
		notice = "The saved configuration could not be loaded; starting from an empty configuration."
		persisted = nil
		s.logger.Warn("configuration fetch failed, starting empty",
			zap.String("instance_id", instanceID),
			zap.Int64("application_id", appID),
			zap.Error(lerr),
		)
	}

	// 4. Normalize outside the lock.
	records, report := FromPersisted(persisted, cat, s.resolver, func(model.PersistedRecord) string {
		return s.newKey()
	})

	// 5. Apply only if no later load started meanwhile.
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.loadGen {
		s.recorder.RecordLoad(LoadStale)
		s.logger.Info("discarding superseded load",
			zap.String("instance_id", instanceID),
			zap.Uint64("generation", gen),
			zap.Uint64("latest_generation", s.loadGen),
		)
		return LoadResult{Generation: gen, Stale: true}, nil
	}

	s.pending = nil
	if s.instanceID != instanceID || s.app.ID != appID {
		s.tree = nil
	}
	s.instanceID = instanceID
	s.app = cat.Application
	s.catalogue = cat
	s.store.Replace(records)
	s.editor = NewEditor(s.store, cat, s.newKey)
	s.isNew = len(records) == 0
	s.notice = notice
	s.report = report

	s.recorder.RecordLoad(outcome)
	s.recorder.RecordDependenciesDropped(DropUnresolved, report.UnresolvedDependencies)
	s.recorder.RecordDependenciesDropped(DropForward, report.ForwardDependencies)
	span.SetAttributes(observability.AttrRecordCount.Int(len(records)))

	if !report.Clean() {
		s.logger.Warn("configuration normalized on load",
			zap.String("instance_id", instanceID),
			zap.Int("unresolved_dependencies", report.UnresolvedDependencies),
			zap.Int("forward_dependencies", report.ForwardDependencies),
			zap.Int("duplicate_placements", report.DuplicatePlacements),
			zap.Int("unknown_stage_records", report.UnknownStageRecords),
		)
	}
	s.logger.Info("instance loaded",
		zap.String("instance_id", instanceID),
		zap.Int64("application_id", appID),
		zap.Int("records", len(records)),
		zap.Bool("is_new", s.isNew),
	)

	return LoadResult{
		Generation: gen,
		IsNew:      s.isNew,
		Notice:     notice,
		Report:     report,
		Records:    len(records),
	}, nil
}

// Save sends the normalized payload to the backend and adopts the records
// it returns, so saved records become updates and dependencies point at
// persisted ids from then on. On failure local state is left untouched.
func (s *Session) Save(ctx context.Context) (SaveResult, error) {
	ctx, span := observability.StartSpan(ctx, "composer.save",
		observability.AttrSessionID.String(s.ID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Snapshot the payload.
	s.mu.Lock()
	if err = s.requireLoaded(); err != nil {
		s.mu.Unlock()
		return SaveResult{}, err
	}
	instanceID, app, cat := s.instanceID, s.app, s.catalogue
	records := s.store.Records()
	revision := s.store.Revision()
	s.mu.Unlock()

	payload := BuildPayload(records, app, instanceID)
	result := SaveResult{Records: len(payload)}
	for _, p := range payload {
		if p.Operation == model.OperationUpdate {
			result.Updated++
		} else {
			result.Created++
		}
	}
	carry := make(map[carryKey]string, len(records))
	for _, r := range records {
		carry[carryKey{sequence: r.Sequence, placement: r.Placement()}] = r.Key
	}
	span.SetAttributes(
		observability.AttrInstanceID.String(instanceID),
		observability.AttrApplicationID.Int64(app.ID),
		observability.AttrRecordCount.Int(len(payload)),
	)

	// 2. Persist without holding the lock.
	start := time.Now()
	persisted, serr := s.backend.SaveOrUpdateConfig(ctx, instanceID, app.ID, payload)
	duration := time.Since(start)
	if serr != nil {
		s.recorder.RecordSave("failed", duration)
		s.logger.Error("configuration save failed",
			zap.String("instance_id", instanceID),
			zap.Int("records", len(payload)),
			zap.Error(serr),
		)
		err = model.NewSaveFailedError(serr)
		return SaveResult{}, err
	}
	s.recorder.RecordSave("ok", duration)

	// 3. Adopt the persisted records.
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.pending; p != nil && (p.instanceID != instanceID || p.appID != app.ID) {
		s.logger.Info("a load of another instance is pending, not adopting the save",
			zap.String("saved_instance_id", instanceID),
			zap.String("pending_instance_id", p.instanceID),
		)
		return result, nil
	}
	if s.instanceID != instanceID || s.app.ID != app.ID {
		s.logger.Warn("another instance was loaded during the save, keeping it",
			zap.String("saved_instance_id", instanceID),
			zap.String("current_instance_id", s.instanceID),
		)
		return result, nil
	}
	if s.store.Revision() != revision {
		s.logger.Warn("edits made during the save are replaced by the saved configuration",
			zap.String("instance_id", instanceID),
		)
	}

	adopted, report := FromPersisted(persisted, cat, s.resolver, func(p model.PersistedRecord) string {
		k := carryKey{sequence: p.Sequence, placement: model.Placement{StageID: p.StageID, SubstageID: p.SubstageID}}
		if key, ok := carry[k]; ok {
			return key
		}
		return s.newKey()
	})

	selected := s.editor.Selected()
	s.store.Replace(adopted)
	s.editor = NewEditor(s.store, cat, s.newKey)
	if selected != "" && s.store.Index(selected) >= 0 {
		_ = s.editor.Select(selected)
	}
	s.isNew = len(adopted) == 0
	s.notice = ""
	s.report = report
	// An in-flight load of this instance read the pre-save state.
	if s.pending != nil {
		s.loadGen++
		s.pending = nil
	}

	s.logger.Info("configuration saved",
		zap.String("instance_id", instanceID),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Duration("duration", duration),
	)

	result.Adopted = true
	result.Report = report
	return result, nil
}

// sameOrder reports whether a and b list the same records in the same
// order and stages.
func sameOrder(a, b []model.ConfigRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || a[i].Stage.StageID != b[i].Stage.StageID {
			return false
		}
	}
	return true
}

type carryKey struct {
	sequence  int
	placement model.Placement
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:             s.ID,
		TenantID:       s.TenantID,
		InstanceID:     s.instanceID,
		IsNew:          s.isNew,
		Notice:         s.notice,
		Records:        s.store.Len(),
		LoadGeneration: s.loadGen,
		Version:        s.store.Version(),
		Report:         s.report,
	}
	if s.catalogue != nil {
		app := s.app
		info.Application = &app
	}
	if s.editor != nil {
		info.Selected = s.editor.Selected()
	}
	return info
}

// Catalogue returns the catalogue of the loaded application.
func (s *Session) Catalogue() (*model.Catalogue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	return s.catalogue, nil
}

// Records returns the flat record list in sequence order.
func (s *Session) Records() ([]model.ConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	return s.store.Records(), nil
}

// Record returns one record by key.
func (s *Session) Record(key string) (model.ConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return model.ConfigRecord{}, err
	}
	r, ok := s.store.Get(key)
	if !ok {
		return model.ConfigRecord{}, model.NewNotFoundError("record " + key + " not found")
	}
	return r, nil
}

// Tree returns the stage/substage projection. It is rebuilt only when the
// store structure changed; field edits are refreshed in place.
func (s *Session) Tree() ([]model.StageNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	return cloneTree(s.currentTree()), nil
}

// SetExpanded opens or collapses a stage node.
func (s *Session) SetExpanded(stageID int64, expanded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}
	tree := s.currentTree()
	for i := range tree {
		if tree[i].StageID == stageID {
			tree[i].Expanded = expanded
			return nil
		}
	}
	return model.NewNotFoundError(fmt.Sprintf("stage %d is not in the tree", stageID))
}

// Reorder applies a drag-and-drop result and commits the new order.
// Dependencies left pointing forward are dropped and counted.
func (s *Session) Reorder(drag model.DragResult) (ReorderResult, error) {
	const op = "reorder"

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return ReorderResult{}, err
	}

	out, moved, err := ApplyDrag(s.currentTree(), drag)
	if err != nil {
		s.recordEdit(op, err)
		return ReorderResult{}, err
	}
	committed := CommitTree(out, s.orphans)
	// Empty stages are not committed, so moving only those changes nothing.
	if !moved || sameOrder(committed, s.store.Records()) {
		s.recorder.RecordEdit(op, OutcomeNoop)
		return ReorderResult{}, nil
	}

	dropped := s.store.Replace(committed)
	s.tree = out
	s.recorder.RecordEdit(op, OutcomeApplied)
	s.recorder.RecordDependenciesDropped(DropReorder, dropped)
	if dropped > 0 {
		s.logger.Info("dependencies dropped by reorder",
			zap.String("active_id", drag.ActiveID),
			zap.String("over_id", drag.OverID),
			zap.Int("dropped", dropped),
		)
	}
	return ReorderResult{Moved: true, DroppedDependencies: dropped}, nil
}

// AddOne adds a single record. A zero substageID uses the stage's first
// available template.
func (s *Session) AddOne(stageID, substageID int64) (model.ConfigRecord, error) {
	var added model.ConfigRecord
	err := s.edit("add_one", func(e *Editor) (bool, error) {
		var err error
		added, err = e.AddOne(stageID, substageID)
		return err == nil, err
	})
	return added, err
}

// AddStages adds one record per selected stage.
func (s *Session) AddStages(stageIDs []int64) (int, error) {
	var n int
	err := s.edit("add_stages", func(e *Editor) (bool, error) {
		var err error
		n, err = e.AddStages(stageIDs)
		return n > 0, err
	})
	return n, err
}

// AddSubstages adds one record per selected template to a stage.
func (s *Session) AddSubstages(stageID int64, substageIDs []int64) (int, error) {
	var n int
	err := s.edit("add_substages", func(e *Editor) (bool, error) {
		var err error
		n, err = e.AddSubstages(stageID, substageIDs)
		return n > 0, err
	})
	return n, err
}

// Remove deletes one record.
func (s *Session) Remove(key string) error {
	return s.edit("remove", func(e *Editor) (bool, error) {
		err := e.Remove(key)
		return err == nil, err
	})
}

// RemoveStages deletes every record of the selected stages.
func (s *Session) RemoveStages(stageIDs []int64) (int, error) {
	var n int
	err := s.edit("remove_stages", func(e *Editor) (bool, error) {
		var err error
		n, err = e.RemoveStages(stageIDs)
		return n > 0, err
	})
	return n, err
}

// Duplicate copies a record into targetStageID, or its own stage when zero.
func (s *Session) Duplicate(key string, targetStageID int64) (model.ConfigRecord, error) {
	var dup model.ConfigRecord
	err := s.edit("duplicate", func(e *Editor) (bool, error) {
		var err error
		dup, err = e.Duplicate(key, targetStageID)
		return err == nil, err
	})
	return dup, err
}

// UpdateRecord applies a detail panel edit.
func (s *Session) UpdateRecord(key string, edit RecordEdit) (model.ConfigRecord, error) {
	var updated model.ConfigRecord
	err := s.edit("update_record", func(e *Editor) (bool, error) {
		var err error
		updated, err = e.ApplyEdit(key, edit)
		return err == nil, err
	})
	return updated, err
}

// SetDependency adds or removes the edge from key to the record at sequence.
func (s *Session) SetDependency(key string, sequence int, enabled bool) error {
	return s.edit("set_dependency", func(e *Editor) (bool, error) {
		err := e.SetDependency(key, sequence, enabled)
		return err == nil, err
	})
}

// DependencyOptions lists the records the record with key may depend on.
func (s *Session) DependencyOptions(key string) ([]DependencyOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	return DependencyOptions(s.store.Records(), key)
}

// Select opens a record in the detail panel; an empty key closes it.
func (s *Session) Select(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}
	return s.editor.Select(key)
}

// Payload returns the save payload for the current state without saving.
func (s *Session) Payload() ([]model.SavePayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	return BuildPayload(s.store.Records(), s.app, s.instanceID), nil
}

// edit runs fn under the lock and records its outcome. fn reports whether
// it changed anything.
func (s *Session) edit(op string, fn func(e *Editor) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}

	changed, err := fn(s.editor)
	if err != nil {
		s.recordEdit(op, err)
		return err
	}
	if !changed {
		s.recorder.RecordEdit(op, OutcomeNoop)
		return nil
	}
	s.recorder.RecordEdit(op, OutcomeApplied)
	s.logger.Debug("edit applied",
		zap.String("operation", op),
		zap.Int("records", s.store.Len()),
	)
	return nil
}

func (s *Session) recordEdit(op string, err error) {
	s.recorder.RecordEdit(op, OutcomeRejected)
	s.logger.Debug("edit rejected",
		zap.String("operation", op),
		zap.String("code", model.CodeOf(err)),
		zap.Error(err),
	)
}

// currentTree returns the cached projection, rebuilding it when the store
// structure changed and refreshing records after field edits. Callers hold
// the lock.
func (s *Session) currentTree() []model.StageNode {
	switch {
	case s.tree == nil || s.treeVersion != s.store.Version():
		s.tree, s.orphans = Project(s.store.Records(), s.catalogue.Stages, s.tree, ProjectOptions{IncludeEmptyStages: s.isNew})
		if len(s.orphans) > 0 {
			s.logger.Warn("records reference stages missing from the catalogue",
				zap.String("instance_id", s.instanceID),
				zap.Int("records", len(s.orphans)),
			)
		}
	case s.treeRev != s.store.Revision():
		for i := range s.tree {
			for j := range s.tree[i].Substages {
				sub := &s.tree[i].Substages[j]
				if r, ok := s.store.Get(sub.Record.Key); ok {
					sub.Record = r
				}
			}
		}
		for i := range s.orphans {
			if r, ok := s.store.Get(s.orphans[i].Key); ok {
				s.orphans[i] = r
			}
		}
	}
	s.treeVersion = s.store.Version()
	s.treeRev = s.store.Revision()
	return s.tree
}

func (s *Session) requireLoaded() error {
	if s.catalogue == nil || s.editor == nil {
		return model.NewValidationError([]model.FieldError{{
			Field:   "instance_id",
			Code:    "REQUIRED",
			Message: "load a workflow instance first",
		}})
	}
	return nil
}

func loadTargetErrors(instanceID string, appID int64) []model.FieldError {
	var details []model.FieldError
	if instanceID == "" {
		details = append(details, model.FieldError{Field: "instance_id", Code: "REQUIRED", Message: "instance id is required"})
	}
	if appID <= 0 {
		details = append(details, model.FieldError{Field: "application_id", Code: "REQUIRED", Message: "application id is required"})
	}
	return details
}

// cloneTree deep-copies a tree so callers cannot reach session state.
func cloneTree(tree []model.StageNode) []model.StageNode {
	out := make([]model.StageNode, len(tree))
	for i, n := range tree {
		out[i] = n
		out[i].Substages = make([]model.SubstageNode, len(n.Substages))
		for j, sub := range n.Substages {
			out[i].Substages[j] = model.SubstageNode{ID: sub.ID, Record: sub.Record.Clone()}
		}
	}
	return out
}
