package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryBackend struct {
	mu    sync.RWMutex
	data  map[string][]byte
	forks map[string]*MemoryStore
}

// MemoryStore keeps values in process memory. Forks share the same data and
// see each other's writes through Watch, which makes two forks behave like
// two tabs of one browser.
type MemoryStore struct {
	backend  *memoryBackend
	origin   string
	watchers watchers
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	backend := &memoryBackend{
		data:  make(map[string][]byte),
		forks: make(map[string]*MemoryStore),
	}
	return backend.attach()
}

func (b *memoryBackend) attach() *MemoryStore {
	s := &MemoryStore{backend: b, origin: uuid.NewString()}
	b.mu.Lock()
	b.forks[s.origin] = s
	b.mu.Unlock()
	return s
}

// Fork returns another store over the same data with its own origin
func (s *MemoryStore) Fork() *MemoryStore {
	return s.backend.attach()
}

// Origin returns the id this store stamps on its changes
func (s *MemoryStore) Origin() string {
	return s.origin
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	v, ok := s.backend.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.backend.mu.Lock()
	s.backend.data[key] = stored
	s.backend.mu.Unlock()

	s.broadcast(Change{Key: key, Origin: s.origin})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	var removed []string
	s.backend.mu.Lock()
	for _, key := range keys {
		if _, ok := s.backend.data[key]; ok {
			delete(s.backend.data, key)
			removed = append(removed, key)
		}
	}
	s.backend.mu.Unlock()

	for _, key := range removed {
		s.broadcast(Change{Key: key, Origin: s.origin, Deleted: true})
	}
	return nil
}

func (s *MemoryStore) Watch(fn func(Change)) func() {
	return s.watchers.add(fn)
}

// Close detaches the store from its siblings and drops its watchers
func (s *MemoryStore) Close() error {
	s.backend.mu.Lock()
	delete(s.backend.forks, s.origin)
	s.backend.mu.Unlock()
	s.watchers.clear()
	return nil
}

func (s *MemoryStore) broadcast(c Change) {
	s.backend.mu.RLock()
	peers := make([]*MemoryStore, 0, len(s.backend.forks))
	for origin, peer := range s.backend.forks {
		if origin != s.origin {
			peers = append(peers, peer)
		}
	}
	s.backend.mu.RUnlock()

	for _, peer := range peers {
		peer.watchers.notify(c)
	}
}
