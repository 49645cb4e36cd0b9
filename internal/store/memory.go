package store

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("store is closed")

// MemoryStore is a process-local KV. It copies values in and out so callers
// cannot alias the stored bytes.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	closed  bool
	failErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) PutAll(entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.failErr != nil {
		return s.failErr
	}
	for k, v := range entries {
		s.data[k] = append([]byte(nil), v...)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FailWrites makes every later PutAll return err until it is called with nil.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}
