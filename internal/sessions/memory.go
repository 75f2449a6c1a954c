package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/warden/pkg/models"
)

// MemoryStore keeps snapshots in process. Snapshots are stored encoded so
// callers never share history slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	data    []byte
	summary Summary
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]memoryEntry{}}
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeSnapshot(entry.data)
}

func (m *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	data, err := encodeSnapshot(session)
	if err != nil {
		return err
	}
	summary := summarize(session)
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = memoryEntry{data: data, summary: summary}
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for _, entry := range m.sessions {
		out = append(out, entry.summary)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	start, end := pageBounds(len(out), opts)
	return out[start:end], nil
}

func (m *MemoryStore) Close() error { return nil }
