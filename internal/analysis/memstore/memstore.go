// Package memstore provides an in-memory implementation of analysis.Store.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/object"
)

type key struct {
	typ object.Type
	id  string
}

// Store holds objects in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	objects map[key]*object.Object
	byMD5   map[key][]string // (type, md5) -> object IDs in insertion order
}

var _ analysis.Store = (*Store)(nil)

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		objects: make(map[key]*object.Object),
		byMD5:   make(map[key][]string),
	}
}

// Get retrieves an object visible through sources. Returns a copy.
func (s *Store) Get(_ context.Context, typ object.Type, id string, sources []string) (*object.Object, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key{typ, id}]
	if !ok || !o.VisibleTo(sources) {
		return nil, false, nil
	}
	return o.Clone(), true, nil
}

// GetByMD5 retrieves the oldest checksum-identified object visible through
// sources. Returns a copy.
func (s *Store) GetByMD5(_ context.Context, typ object.Type, md5 string, sources []string) (*object.Object, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *object.Object
	for _, id := range s.byMD5[key{typ, md5}] {
		o := s.objects[key{typ, id}]
		if !o.VisibleTo(sources) {
			continue
		}
		if found == nil || o.Created.Before(found.Created) {
			found = o
		}
	}
	if found == nil {
		return nil, false, nil
	}
	return found.Clone(), true, nil
}

// List returns copies of the objects matching q, newest first.
func (s *Store) List(_ context.Context, q analysis.ListQuery) ([]*object.Object, error) {
	s.mu.RLock()
	var out []*object.Object
	for _, o := range s.objects {
		if q.Matches(o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *object.Object) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if q.Offset >= len(out) {
		return []*object.Object{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// Put stores a copy of the object, replacing any previous version.
func (s *Store) Put(_ context.Context, o *object.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{o.Type, o.ID}
	if prev, ok := s.objects[k]; ok {
		s.unindex(prev)
	}
	s.objects[k] = o.Clone()
	if o.MD5 != "" {
		mk := key{o.Type, o.MD5}
		s.byMD5[mk] = append(s.byMD5[mk], o.ID)
	}
	return nil
}

// UpdateObject applies u to an object visible through sources.
func (s *Store) UpdateObject(_ context.Context, typ object.Type, id string, sources []string, u analysis.ObjectUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key{typ, id}]
	if !ok || !o.VisibleTo(sources) {
		return false, nil
	}
	u.Apply(o)
	return true, nil
}

// Delete removes an object visible through sources.
func (s *Store) Delete(_ context.Context, typ object.Type, id string, sources []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{typ, id}
	o, ok := s.objects[k]
	if !ok || !o.VisibleTo(sources) {
		return false, nil
	}
	s.unindex(o)
	delete(s.objects, k)
	return true, nil
}

// unindex drops o from the checksum index. Callers hold the write lock.
func (s *Store) unindex(o *object.Object) {
	if o.MD5 == "" {
		return
	}
	mk := key{o.Type, o.MD5}
	ids := slices.DeleteFunc(s.byMD5[mk], func(id string) bool { return id == o.ID })
	if len(ids) == 0 {
		delete(s.byMD5, mk)
		return
	}
	s.byMD5[mk] = ids
}

// AppendTask adds a task to the end of the object's analysis list.
func (s *Store) AppendTask(_ context.Context, typ object.Type, id string, task *object.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key{typ, id}]
	if !ok {
		return false, nil
	}
	o.Analysis = append(o.Analysis, task.Clone())
	return true, nil
}

// UpdateTask applies u to the task matching analysisID under the write lock.
func (s *Store) UpdateTask(_ context.Context, typ object.Type, id, analysisID string, u analysis.TaskUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key{typ, id}]
	if !ok {
		return false, nil
	}
	return u.ApplyTo(o, analysisID), nil
}
