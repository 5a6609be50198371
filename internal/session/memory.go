package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use and is the
// default backend for a single gateway process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func memoryKey(origin, genesisID string) string {
	o, g := Key(origin, genesisID)
	return o + "|" + g
}

func (m *MemoryStore) Get(_ context.Context, origin, genesisID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[memoryKey(origin, genesisID)]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(s.Origin, s.GenesisID)
	if prev, ok := m.sessions[key]; ok && s.CreatedAt.IsZero() {
		s.CreatedAt = prev.CreatedAt
	}
	m.sessions[key] = stamp(s, time.Now().UTC())
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, origin, genesisID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(origin, genesisID)
	if _, ok := m.sessions[key]; !ok {
		return false, nil
	}
	delete(m.sessions, key)
	return true, nil
}

func (m *MemoryStore) DeleteByAddress(_ context.Context, address string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, s := range m.sessions {
		if strings.EqualFold(s.Address, address) {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

func sortSessions(list []Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Origin != list[j].Origin {
			return list[i].Origin < list[j].Origin
		}
		return list[i].GenesisID < list[j].GenesisID
	})
}
