package analysis

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/object"
)

// fakeStore implements Store for testing.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]*object.Object
	calls   int
	getErr  error
	updErr  error
}

func newFakeStore(objs ...*object.Object) *fakeStore {
	s := &fakeStore{objects: make(map[string]*object.Object)}
	for _, o := range objs {
		s.objects[string(o.Type)+"/"+o.ID] = o.Clone()
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, typ object.Type, id string, sources []string) (*object.Object, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	o, ok := s.objects[string(typ)+"/"+id]
	if !ok || !o.VisibleTo(sources) {
		return nil, false, nil
	}
	return o.Clone(), true, nil
}

func (s *fakeStore) GetByMD5(_ context.Context, typ object.Type, md5 string, sources []string) (*object.Object, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for _, o := range s.objects {
		if o.Type == typ && o.MD5 == md5 && o.VisibleTo(sources) {
			return o.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (s *fakeStore) Put(_ context.Context, o *object.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.objects[string(o.Type)+"/"+o.ID] = o.Clone()
	return nil
}

func (s *fakeStore) List(_ context.Context, q ListQuery) ([]*object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var out []*object.Object
	for _, o := range s.objects {
		if q.Matches(o) {
			out = append(out, o.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *object.Object) int { return cmp.Compare(a.ID, b.ID) })
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *fakeStore) UpdateObject(_ context.Context, typ object.Type, id string, sources []string, u ObjectUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.updErr != nil {
		return false, s.updErr
	}
	o, ok := s.objects[string(typ)+"/"+id]
	if !ok || !o.VisibleTo(sources) {
		return false, nil
	}
	u.Apply(o)
	return true, nil
}

func (s *fakeStore) Delete(_ context.Context, typ object.Type, id string, sources []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	k := string(typ) + "/" + id
	o, ok := s.objects[k]
	if !ok || !o.VisibleTo(sources) {
		return false, nil
	}
	delete(s.objects, k)
	return true, nil
}

func (s *fakeStore) AppendTask(_ context.Context, typ object.Type, id string, task *object.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	o, ok := s.objects[string(typ)+"/"+id]
	if !ok {
		return false, nil
	}
	o.Analysis = append(o.Analysis, task.Clone())
	return true, nil
}

func (s *fakeStore) UpdateTask(_ context.Context, typ object.Type, id, analysisID string, u TaskUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.updErr != nil {
		return false, s.updErr
	}
	o, ok := s.objects[string(typ)+"/"+id]
	if !ok {
		return false, nil
	}
	return u.ApplyTo(o, analysisID), nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) object(typ object.Type, id string) *object.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[string(typ)+"/"+id].Clone()
}

// staticAuthz maps analysts to sources.
type staticAuthz map[string][]string

func (a staticAuthz) Sources(_ context.Context, analyst string) ([]string, error) {
	if analyst == "broken" {
		return nil, errors.New("directory unavailable")
	}
	return a[analyst], nil
}

// adminAuthz adds an administrator list to staticAuthz.
type adminAuthz struct {
	staticAuthz
	admins []string
}

func (a adminAuthz) IsAdmin(_ context.Context, analyst string) (bool, error) {
	return slices.Contains(a.admins, analyst), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func sampleObject() *object.Object {
	return &object.Object{
		Type:     object.TypeSample,
		ID:       "O",
		MD5:      "0cc175b9c0f1b6a831c399e269772661",
		Sources:  []string{"TeamA"},
		Filename: "a.exe",
		Analysis: []object.Task{
			{AnalysisID: "T1", ServiceName: "yara", Status: object.StatusPending},
			{AnalysisID: "T2", ServiceName: "strings", Status: object.StatusPending},
		},
	}
}

var testAuthz = staticAuthz{
	"alice": {"TeamA"},
	"bob":   {"TeamB"},
}
