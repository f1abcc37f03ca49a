package configstore

import (
	"context"
	"testing"

	"github.com/pitabwire/composer/model"
)

func payloadEntry(seq int, op string, configID, stageID, substageID int64, deps ...int) model.SavePayload {
	p := model.SavePayload{
		ConfigID:   configID,
		Operation:  op,
		Sequence:   seq,
		StageID:    stageID,
		StageName:  "stage",
		SubstageID: substageID,
		Active:     "Y",
		IsActive:   true,
	}
	for _, d := range deps {
		p.Dependencies = append(p.Dependencies, model.DependencyPayload{DependsOnSequence: d})
	}
	return p
}

func TestMemoryStore_GetInstanceConfig_empty(t *testing.T) {
	s := NewMemoryStore()

	records, err := s.GetInstanceConfig(context.Background(), "inst-1", 7)
	if err != nil {
		t.Fatalf("GetInstanceConfig() error = %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("records = %v, want empty non-nil slice", records)
	}
}

func TestMemoryStore_Save_creates_and_resolves_dependencies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saved, err := s.SaveOrUpdateConfig(ctx, "inst-1", 7, []model.SavePayload{
		payloadEntry(1, model.OperationCreate, 0, 10, 101),
		payloadEntry(2, model.OperationCreate, 0, 10, 102, 1),
		payloadEntry(3, model.OperationCreate, 0, 20, 201, 1, 2, 9),
	})
	if err != nil {
		t.Fatalf("SaveOrUpdateConfig() error = %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("saved = %d records, want 3", len(saved))
	}
	for i, r := range saved {
		if r.ConfigID == 0 {
			t.Errorf("saved[%d].ConfigID should be assigned", i)
		}
		if r.Sequence != i+1 {
			t.Errorf("saved[%d].Sequence = %d, want %d", i, r.Sequence, i+1)
		}
		if r.InstanceID != "inst-1" || r.ApplicationID != 7 {
			t.Errorf("saved[%d] scope = %q/%d", i, r.InstanceID, r.ApplicationID)
		}
		if r.Active != "Y" || r.Auto != "N" {
			t.Errorf("saved[%d] flags = %q/%q, want Y/N", i, r.Active, r.Auto)
		}
	}

	// Sequence 9 matches nothing and is dropped.
	deps := saved[2].Dependencies
	if len(deps) != 2 {
		t.Fatalf("saved[2].Dependencies = %v, want 2 entries", deps)
	}
	if deps[0].DependsOn != saved[0].ConfigID || deps[1].DependsOn != saved[1].ConfigID {
		t.Errorf("saved[2].Dependencies = %v, want config ids %d and %d", deps, saved[0].ConfigID, saved[1].ConfigID)
	}

	loaded, err := s.GetInstanceConfig(ctx, "inst-1", 7)
	if err != nil {
		t.Fatalf("GetInstanceConfig() error = %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("loaded = %d records, want 3", len(loaded))
	}
}

func TestMemoryStore_Save_updates_and_deletes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.SaveOrUpdateConfig(ctx, "inst-1", 7, []model.SavePayload{
		payloadEntry(1, model.OperationCreate, 0, 10, 101),
		payloadEntry(2, model.OperationCreate, 0, 10, 102),
	})
	if err != nil {
		t.Fatalf("first save error = %v", err)
	}

	// Keep the second record (now first), drop the first, add a new one.
	second, err := s.SaveOrUpdateConfig(ctx, "inst-1", 7, []model.SavePayload{
		payloadEntry(1, model.OperationUpdate, first[1].ConfigID, 10, 102),
		payloadEntry(2, model.OperationCreate, 0, 20, 201, 1),
	})
	if err != nil {
		t.Fatalf("second save error = %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second = %d records, want 2", len(second))
	}
	if second[0].ConfigID != first[1].ConfigID {
		t.Errorf("updated record id = %d, want %d", second[0].ConfigID, first[1].ConfigID)
	}
	if second[1].ConfigID == first[0].ConfigID {
		t.Error("deleted record id should not be reused")
	}
	if second[1].Dependencies[0].DependsOn != first[1].ConfigID {
		t.Errorf("dependency = %d, want %d", second[1].Dependencies[0].DependsOn, first[1].ConfigID)
	}
}

func TestMemoryStore_Save_update_of_unknown_id_creates(t *testing.T) {
	s := NewMemoryStore()

	saved, err := s.SaveOrUpdateConfig(context.Background(), "inst-1", 7, []model.SavePayload{
		payloadEntry(1, model.OperationUpdate, 4242, 10, 101),
	})
	if err != nil {
		t.Fatalf("SaveOrUpdateConfig() error = %v", err)
	}
	if saved[0].ConfigID == 4242 {
		t.Error("unknown config id should not be kept")
	}
}

func TestMemoryStore_Save_empty_payload_clears(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Seed("inst-1", 7, []model.PersistedRecord{{Sequence: 1, StageID: 10, SubstageID: 101}})

	saved, err := s.SaveOrUpdateConfig(ctx, "inst-1", 7, nil)
	if err != nil {
		t.Fatalf("SaveOrUpdateConfig() error = %v", err)
	}
	if len(saved) != 0 {
		t.Errorf("saved = %v, want empty", saved)
	}
}

func TestMemoryStore_Save_rejects_invalid_payload(t *testing.T) {
	s := NewMemoryStore()

	tests := []struct {
		name       string
		instanceID string
		appID      int64
		payload    []model.SavePayload
	}{
		{"missing instance", "", 7, nil},
		{"missing application", "inst-1", 0, nil},
		{"bad operation", "inst-1", 7, []model.SavePayload{payloadEntry(1, "upsert", 0, 10, 101)}},
		{"zero sequence", "inst-1", 7, []model.SavePayload{payloadEntry(0, model.OperationCreate, 0, 10, 101)}},
		{"duplicate sequence", "inst-1", 7, []model.SavePayload{
			payloadEntry(1, model.OperationCreate, 0, 10, 101),
			payloadEntry(1, model.OperationCreate, 0, 10, 102),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SaveOrUpdateConfig(context.Background(), tt.instanceID, tt.appID, tt.payload)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if model.CodeOf(err) != model.ErrValidationError {
				t.Errorf("code = %q, want %q", model.CodeOf(err), model.ErrValidationError)
			}
		})
	}
}

func TestMemoryStore_scoped_by_instance_and_application(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Seed("inst-1", 7, []model.PersistedRecord{{Sequence: 1, StageID: 10, SubstageID: 101}})

	other, _ := s.GetInstanceConfig(ctx, "inst-1", 8)
	if len(other) != 0 {
		t.Errorf("other application sees %d records, want 0", len(other))
	}
	other, _ = s.GetInstanceConfig(ctx, "inst-2", 7)
	if len(other) != 0 {
		t.Errorf("other instance sees %d records, want 0", len(other))
	}
}

func TestMemoryStore_returns_copies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Seed("inst-1", 7, []model.PersistedRecord{{
		Sequence: 1, StageID: 10, SubstageID: 101,
		Parameters: []model.ParameterValue{{Name: "region", Value: "eu"}},
	}})

	records, _ := s.GetInstanceConfig(ctx, "inst-1", 7)
	records[0].Parameters[0].Value = "us"

	again, _ := s.GetInstanceConfig(ctx, "inst-1", 7)
	if again[0].Parameters[0].Value != "eu" {
		t.Error("mutating a returned record should not affect the store")
	}
}

func TestMemoryStore_Seed_keeps_ids_and_sorts(t *testing.T) {
	s := NewMemoryStore()
	s.Seed("inst-1", 7, []model.PersistedRecord{
		{ConfigID: 50, Sequence: 2, StageID: 10, SubstageID: 102},
		{ConfigID: 40, Sequence: 1, StageID: 10, SubstageID: 101},
	})

	records, _ := s.GetInstanceConfig(context.Background(), "inst-1", 7)
	if records[0].ConfigID != 40 || records[1].ConfigID != 50 {
		t.Errorf("records = %+v, want ids 40, 50 in sequence order", records)
	}

	saved, _ := s.SaveOrUpdateConfig(context.Background(), "inst-1", 7, []model.SavePayload{
		payloadEntry(1, model.OperationCreate, 0, 20, 201),
	})
	if saved[0].ConfigID <= 50 {
		t.Errorf("new id = %d, want > 50", saved[0].ConfigID)
	}
}

func TestResolveDependencies_drops_self_and_duplicates(t *testing.T) {
	payload := []model.SavePayload{
		payloadEntry(1, model.OperationCreate, 0, 10, 101),
		payloadEntry(2, model.OperationCreate, 0, 10, 102, 2, 1, 1),
	}
	deps := resolveDependencies(payload, []int64{11, 12})

	if len(deps[0]) != 0 {
		t.Errorf("deps[0] = %v, want none", deps[0])
	}
	if len(deps[1]) != 1 || deps[1][0].DependsOn != 11 {
		t.Errorf("deps[1] = %v, want [11]", deps[1])
	}
}
