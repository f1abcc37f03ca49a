package composer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/composer/internal/configstore"
	"github.com/pitabwire/composer/model"
)

// Stage and substage ids of the test catalogue.
const (
	intake     int64 = 10
	review     int64 = 20
	archive    int64 = 30 // offers no substages
	collect    int64 = 101
	verify     int64 = 102
	compliance int64 = 201
	signOff    int64 = 202
)

func testCatalogue() *model.Catalogue {
	return &model.Catalogue{
		Application: model.Application{ID: 7, Name: "Client Onboarding"},
		Stages: []model.StageTemplate{
			{StageID: intake, Name: "Intake", ApplicationID: 7},
			{StageID: review, Name: "Review", ApplicationID: 7},
			{StageID: archive, Name: "Archive", ApplicationID: 7},
		},
		Substages: []model.SubstageTemplate{
			{SubstageID: collect, Name: "Collect Documents", DefaultStageID: intake, ParamMapping: []int64{1, 2}, AttestationMapping: []int64{900}},
			{SubstageID: verify, Name: "Verify Identity", DefaultStageID: intake, ParamMapping: []int64{1}, EntitlementID: 55},
			{SubstageID: compliance, Name: "Compliance Review", DefaultStageID: review, AttestationMapping: []int64{900, 901}, FollowUp: true},
			{SubstageID: signOff, Name: "Sign Off", DefaultStageID: review},
		},
		Parameters: []model.ParameterDefinition{
			{ParamID: 1, Name: "region", Type: "string"},
			{ParamID: 2, Name: "passport_scan", Type: model.ParamTypeUpload},
		},
		Attestations: []model.AttestationDefinition{
			{AttestationID: 900, Text: "Documents are complete"},
			{AttestationID: 901, Text: "Sanctions screening passed"},
		},
	}
}

// sequentialKeys returns a key generator producing prefix1, prefix2, ...
func sequentialKeys(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s%d", prefix, n.Add(1)) }
}

func newTestEditor() *Editor {
	return NewEditor(NewStore(nil), testCatalogue(), sequentialKeys("k"))
}

// rec builds a record placing substageID in stageID, named after the test
// catalogue.
func rec(key string, stageID, substageID int64, deps ...string) model.ConfigRecord {
	cat := testCatalogue()
	st, _ := cat.Stage(stageID)
	r := model.ConfigRecord{
		Key:          key,
		Origin:       model.OriginNew,
		Stage:        model.StageRef{StageID: stageID, Name: st.Name},
		Substage:     model.SubstageRef{SubstageID: substageID},
		Flags:        model.Flags{Active: true},
		Dependencies: deps,
	}
	if t, ok := cat.Substage(substageID); ok {
		r.Substage = model.SnapshotOf(t)
	}
	return r
}

func keysOf(records []model.ConfigRecord) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	return keys
}

// requireInvariants checks the record list properties every edit must keep.
func requireInvariants(t *testing.T, records []model.ConfigRecord) {
	t.Helper()

	pos := make(map[string]int, len(records))
	placements := make(map[model.Placement]string, len(records))
	for i, r := range records {
		require.Equal(t, i+1, r.Sequence, "sequence of %s", r.Key)
		_, dup := pos[r.Key]
		require.False(t, dup, "key %s appears twice", r.Key)
		pos[r.Key] = i

		other, taken := placements[r.Placement()]
		require.False(t, taken, "%s and %s share placement %+v", other, r.Key, r.Placement())
		placements[r.Placement()] = r.Key
	}

	for i, r := range records {
		seen := make(map[string]bool)
		for _, d := range r.Dependencies {
			j, ok := pos[d]
			require.True(t, ok, "%s depends on missing %s", r.Key, d)
			require.Less(t, j, i, "%s depends on later or same record %s", r.Key, d)
			require.False(t, seen[d], "%s repeats dependency %s", r.Key, d)
			seen[d] = true
		}
	}
}

// --- Collaborator fakes ---

type staticMetadata struct {
	cat *model.Catalogue
	err error
}

func (m staticMetadata) Metadata(_ context.Context, appID int64) (*model.Catalogue, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.cat == nil || m.cat.Application.ID != appID {
		return nil, model.NewNotFoundError(fmt.Sprintf("application %d not found", appID))
	}
	return m.cat, nil
}

// scriptedBackend wraps the in-memory store with failure injection and
// per-instance gates that hold loads until released.
type scriptedBackend struct {
	*configstore.MemoryStore

	mu      sync.Mutex
	loadErr error
	saveErr error
	gates   map[string]chan struct{}
	entered chan string
	saves   [][]model.SavePayload
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		MemoryStore: configstore.NewMemoryStore(),
		gates:       make(map[string]chan struct{}),
		entered:     make(chan string, 8),
	}
}

// hold makes loads of instanceID block until the returned func is called.
func (b *scriptedBackend) hold(instanceID string) (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.gates[instanceID] = ch
	return func() { close(ch) }
}

func (b *scriptedBackend) setLoadErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadErr = err
}

func (b *scriptedBackend) setSaveErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

func (b *scriptedBackend) GetInstanceConfig(ctx context.Context, instanceID string, appID int64) ([]model.PersistedRecord, error) {
	b.mu.Lock()
	gate := b.gates[instanceID]
	err := b.loadErr
	b.mu.Unlock()

	if gate != nil {
		b.entered <- instanceID
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return b.MemoryStore.GetInstanceConfig(ctx, instanceID, appID)
}

func (b *scriptedBackend) SaveOrUpdateConfig(ctx context.Context, instanceID string, appID int64, payload []model.SavePayload) ([]model.PersistedRecord, error) {
	b.mu.Lock()
	b.saves = append(b.saves, payload)
	err := b.saveErr
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return b.MemoryStore.SaveOrUpdateConfig(ctx, instanceID, appID, payload)
}

// recordingRecorder counts engine measurements.
type recordingRecorder struct {
	mu      sync.Mutex
	edits   map[string]int
	dropped map[string]int
	loads   map[string]int
	saves   map[string]int
	active  int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		edits:   make(map[string]int),
		dropped: make(map[string]int),
		loads:   make(map[string]int),
		saves:   make(map[string]int),
	}
}

func (r *recordingRecorder) RecordEdit(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits[operation+"/"+outcome]++
}

func (r *recordingRecorder) RecordDependenciesDropped(reason string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[reason] += n
}

func (r *recordingRecorder) RecordLoad(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads[outcome]++
}

func (r *recordingRecorder) RecordSave(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves[outcome]++
}

func (r *recordingRecorder) SetActiveSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func (r *recordingRecorder) activeSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
