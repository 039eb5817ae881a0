package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a Store kept in process memory, used by tests and by
// runs with persistence disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	fetches map[string][]FetchLogEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		fetches: make(map[string][]FetchLogEntry),
	}
}

func (m *MemoryStore) Load(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id].clone(0), nil
}

func (m *MemoryStore) Save(_ context.Context, id string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = rec.clone(0)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	delete(m.fetches, id)
	return nil
}

func (m *MemoryStore) IDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id, rec := range m.records {
		if len(rec) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) LogFetch(_ context.Context, e FetchLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[e.JobID] = append(m.fetches[e.JobID], e)
	return nil
}

func (m *MemoryStore) FetchLog(_ context.Context, id string, limit int) ([]FetchLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.fetches[id]
	out := make([]FetchLogEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
