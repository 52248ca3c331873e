// Package blob holds raw object content keyed by MD5.
package blob

import (
	"context"
	"sync"
)

// Memory is an in-process blob store. It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

// Put stores a copy of data under md5, replacing any previous content.
func (s *Memory) Put(_ context.Context, md5 string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[md5] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the content stored under md5.
func (s *Memory) Get(_ context.Context, md5 string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.m[md5]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), d...), true, nil
}
