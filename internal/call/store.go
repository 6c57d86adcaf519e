package call

import (
	"fmt"
	"sync"

	"go-counsel/internal/domain"
)

// Store holds call sessions. Update applies fn atomically against the current record,
// so check-and-set transitions cannot interleave.
type Store interface {
	Get(id string) (*Session, error)
	Put(s *Session)
	Update(id string, fn func(s *Session) error) (*Session, error)
	Delete(id string)
}

type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]*Session)}
}

func (m *MemoryStore) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: call %s", domain.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.calls[s.ID] = &cp
}

func (m *MemoryStore) Update(id string, fn func(s *Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: call %s", domain.ErrNotFound, id)
	}
	cp := *s
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.calls[id] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, id)
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
