package configstore

import (
	"context"
	"sync"

	"github.com/pitabwire/composer/model"
)

type instanceKey struct {
	instanceID string
	appID      int64
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	instances map[instanceKey][]model.PersistedRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[instanceKey][]model.PersistedRecord),
	}
}

// Seed stores records for an instance verbatim, bypassing payload
// resolution. Records with a zero config id get a fresh one.
func (s *MemoryStore) Seed(instanceID string, appID int64, records []model.PersistedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]model.PersistedRecord, 0, len(records))
	for _, r := range records {
		c := cloneRecord(r)
		if c.ConfigID == 0 {
			s.nextID++
			c.ConfigID = s.nextID
		} else if c.ConfigID > s.nextID {
			s.nextID = c.ConfigID
		}
		c.InstanceID = instanceID
		c.ApplicationID = appID
		stored = append(stored, c)
	}
	sortBySequence(stored)
	s.instances[instanceKey{instanceID, appID}] = stored
}

// GetInstanceConfig returns the saved records of an instance.
func (s *MemoryStore) GetInstanceConfig(_ context.Context, instanceID string, appID int64) ([]model.PersistedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.instances[instanceKey{instanceID, appID}]
	out := make([]model.PersistedRecord, 0, len(stored))
	for _, r := range stored {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

// SaveOrUpdateConfig replaces the configuration of an instance.
func (s *MemoryStore) SaveOrUpdateConfig(_ context.Context, instanceID string, appID int64, payload []model.SavePayload) ([]model.PersistedRecord, error) {
	if err := validatePayload(instanceID, appID, payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := instanceKey{instanceID, appID}
	existing := make(map[int64]bool)
	for _, r := range s.instances[key] {
		existing[r.ConfigID] = true
	}

	ids := make([]int64, len(payload))
	for i, p := range payload {
		if p.Operation == model.OperationUpdate && existing[p.ConfigID] {
			ids[i] = p.ConfigID
			continue
		}
		s.nextID++
		ids[i] = s.nextID
	}

	deps := resolveDependencies(payload, ids)
	stored := make([]model.PersistedRecord, len(payload))
	for i, p := range payload {
		stored[i] = recordFromPayload(instanceID, appID, ids[i], p, deps[i])
	}
	sortBySequence(stored)
	s.instances[key] = stored

	out := make([]model.PersistedRecord, 0, len(stored))
	for _, r := range stored {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}
