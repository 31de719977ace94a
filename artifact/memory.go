package artifact

import (
	"context"
	"sync"
)

// MemoryStore keeps artifacts in process, evicting the oldest entry once
// maxEntries is reached.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[string][]byte
	order      []string
	maxEntries int
}

// NewMemoryStore 创建内存存储，maxEntries <= 0 时默认 256
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &MemoryStore{data: make(map[string][]byte), maxEntries: maxEntries}
}

func (s *MemoryStore) Put(_ context.Context, data []byte, mime string) (string, error) {
	ref := Ref(data, mime)
	key, _, _ := parseRef(ref)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return ref, nil
	}
	for len(s.order) >= s.maxEntries {
		delete(s.data, s.order[0])
		s.order = s.order[1:]
	}
	s.data[key] = append([]byte(nil), data...)
	s.order = append(s.order, key)
	return ref, nil
}

func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, string, error) {
	key, ext, err := parseRef(ref)
	if err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), data...), MIMEFromExtension(ext), nil
}

// Len returns the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
