package litestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/object"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample() *object.Object {
	return &object.Object{
		Type:    object.TypeSample,
		ID:      "O",
		MD5:     "0cc175b9c0f1b6a831c399e269772661",
		Sources: []string{"TeamA", "TeamC"},
		Created: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Analysis: []object.Task{
			{AnalysisID: "T1", ServiceName: "yara", Status: object.StatusPending},
			{AnalysisID: "T2", ServiceName: "strings", Status: object.StatusPending},
		},
	}
}

func TestGet_SourceFiltering(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, sample()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tests := []struct {
		name    string
		typ     object.Type
		id      string
		sources []string
		want    bool
	}{
		{"matching source", object.TypeSample, "O", []string{"TeamA"}, true},
		{"second label", object.TypeSample, "O", []string{"TeamX", "TeamC"}, true},
		{"foreign source", object.TypeSample, "O", []string{"TeamB"}, false},
		{"no sources", object.TypeSample, "O", nil, false},
		{"wrong type", object.TypePCAP, "O", []string{"TeamA"}, false},
		{"missing id", object.TypeSample, "X", []string{"TeamA"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, tt.typ, tt.id, tt.sources)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if ok != tt.want {
				t.Errorf("found = %v, want %v", ok, tt.want)
			}
		})
	}

	got, ok, err := s.GetByMD5(ctx, object.TypeSample, "0cc175b9c0f1b6a831c399e269772661", []string{"TeamC"})
	if err != nil || !ok || got.ID != "O" {
		t.Errorf("GetByMD5 = %+v, %v, %v", got, ok, err)
	}
}

func TestPut_ReplacesSources(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	obj := sample()
	if err := s.Put(ctx, obj); err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj.Sources = []string{"TeamB"}
	if err := s.Put(ctx, obj); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok, _ := s.Get(ctx, obj.Type, obj.ID, []string{"TeamA"}); ok {
		t.Error("old source label still matches")
	}
	if _, ok, _ := s.Get(ctx, obj.Type, obj.ID, []string{"TeamB"}); !ok {
		t.Error("new source label does not match")
	}
}

func TestUpdateAndAppendTask(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, sample()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.UpdateTask(ctx, object.TypeSample, "O", "T2", analysis.TaskUpdate{
		PushLog: &object.LogEntry{Message: "m", Level: "info", Timestamp: time.Now().UTC()},
		Status:  object.StatusError,
	})
	if err != nil || !ok {
		t.Fatalf("UpdateTask = %v, %v", ok, err)
	}
	if ok, err := s.UpdateTask(ctx, object.TypeSample, "O", "T9", analysis.TaskUpdate{Status: object.StatusError}); err != nil || ok {
		t.Errorf("UpdateTask missing task = %v, %v", ok, err)
	}
	if ok, err := s.AppendTask(ctx, object.TypeSample, "O", &object.Task{AnalysisID: "T3"}); err != nil || !ok {
		t.Fatalf("AppendTask = %v, %v", ok, err)
	}
	if ok, err := s.AppendTask(ctx, object.TypeSample, "nope", &object.Task{AnalysisID: "T3"}); err != nil || ok {
		t.Errorf("AppendTask missing object = %v, %v", ok, err)
	}

	got, _, _ := s.Get(ctx, object.TypeSample, "O", []string{"TeamA"})
	if len(got.Analysis) != 3 {
		t.Fatalf("tasks = %d, want 3", len(got.Analysis))
	}
	if got.Analysis[0].Status != object.StatusPending || len(got.Analysis[0].Log) != 0 {
		t.Errorf("T1 changed: %+v", got.Analysis[0])
	}
	if got.Analysis[1].Status != object.StatusError || len(got.Analysis[1].Log) != 1 {
		t.Errorf("T2 = %+v", got.Analysis[1])
	}
}

func TestUpdateTask_ConcurrentNoLostWrites(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, sample()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			if _, err := s.UpdateTask(ctx, object.TypeSample, "O", "T1", analysis.TaskUpdate{
				PushResult: &object.Result{Result: fmt.Sprint(i), Type: "t", Subtype: "s"},
			}); err != nil {
				t.Errorf("UpdateTask %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	got, _, _ := s.Get(ctx, object.TypeSample, "O", []string{"TeamA"})
	if len(got.Analysis[0].Results) != n {
		t.Errorf("results = %d, want %d", len(got.Analysis[0].Results), n)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: try again"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := isSQLiteBusy(tt.err); got != tt.want {
			t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryOnBusy_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("retryOnBusy = %v after %d calls", err, calls)
	}
}

func TestGetByMD5_SharedChecksumAcrossSources(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, o := range []*object.Object{
		// sub-second offsets check that created_at sorts as time, not text
		{Type: object.TypeSample, ID: "b", MD5: "abc", Sources: []string{"TeamB"}, Created: base.Add(500 * time.Millisecond)},
		{Type: object.TypeSample, ID: "a", MD5: "abc", Sources: []string{"TeamA"}, Created: base},
	} {
		if err := s.Put(ctx, o); err != nil {
			t.Fatalf("Put %s: %v", o.ID, err)
		}
	}

	tests := []struct {
		name    string
		sources []string
		want    string
	}{
		{"first uploader keeps its own", []string{"TeamA"}, "a"},
		{"second uploader sees its own", []string{"TeamB"}, "b"},
		{"oldest visible wins", []string{"TeamB", "TeamA"}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := s.GetByMD5(ctx, object.TypeSample, "abc", tt.sources)
			if err != nil || !ok {
				t.Fatalf("GetByMD5 = %v, %v", ok, err)
			}
			if got.ID != tt.want {
				t.Errorf("ID = %q, want %q", got.ID, tt.want)
			}
		})
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, o := range []*object.Object{
		{Type: object.TypeEvent, ID: "e1", Title: "Phishing 100%", Sources: []string{"TeamA"}},
		{Type: object.TypeEvent, ID: "e2", Title: "Intrusion", Description: "phishing follow-up", Sources: []string{"TeamA"}},
		{Type: object.TypeEvent, ID: "e3", Title: "Hidden phishing", Sources: []string{"TeamB"}},
		{Type: object.TypeDomain, ID: "d1", Value: "phish.example", Sources: []string{"TeamA"}},
	} {
		o.Created = base.Add(time.Duration(i) * time.Second)
		if err := s.Put(ctx, o); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	tests := []struct {
		name string
		q    analysis.ListQuery
		want string
	}{
		{"newest first", analysis.ListQuery{Type: object.TypeEvent, Sources: []string{"TeamA"}}, "[e2 e1]"},
		{"search ignores case", analysis.ListQuery{Type: object.TypeEvent, Sources: []string{"TeamA"}, Search: "PHISHING"}, "[e2 e1]"},
		{"percent is literal", analysis.ListQuery{Type: object.TypeEvent, Sources: []string{"TeamA"}, Search: "0%"}, "[e1]"},
		{"underscore is literal", analysis.ListQuery{Type: object.TypeEvent, Sources: []string{"TeamA"}, Search: "_"}, "[]"},
		{"page", analysis.ListQuery{Type: object.TypeEvent, Sources: []string{"TeamA"}, Limit: 1, Offset: 1}, "[e1]"},
		{"other sources", analysis.ListQuery{Type: object.TypeEvent, Sources: []string{"TeamB"}}, "[e3]"},
		{"no sources", analysis.ListQuery{Type: object.TypeEvent}, "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, o := range got {
				ids = append(ids, o.ID)
			}
			if fmt.Sprint(ids) != tt.want {
				t.Errorf("ids = %v, want %s", ids, tt.want)
			}
		})
	}
}

func TestUpdateObjectAndDelete(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, sample()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	desc := "dropper"
	rel := &object.Relationship{Type: object.TypeEvent, ID: "E"}

	if ok, err := s.UpdateObject(ctx, object.TypeSample, "O", []string{"TeamB"}, analysis.ObjectUpdate{Description: &desc}); err != nil || ok {
		t.Errorf("UpdateObject with foreign source = %v, %v", ok, err)
	}
	if ok, err := s.UpdateObject(ctx, object.TypeSample, "O", []string{"TeamC"}, analysis.ObjectUpdate{Description: &desc, Relate: rel}); err != nil || !ok {
		t.Fatalf("UpdateObject = %v, %v", ok, err)
	}
	got, _, _ := s.Get(ctx, object.TypeSample, "O", []string{"TeamA"})
	if got.Description != "dropper" || !got.Related(object.TypeEvent, "E") || len(got.Analysis) != 2 {
		t.Errorf("got %+v", got)
	}

	if ok, err := s.Delete(ctx, object.TypeSample, "O", []string{"TeamB"}); err != nil || ok {
		t.Errorf("Delete with foreign source = %v, %v", ok, err)
	}
	if ok, err := s.Delete(ctx, object.TypeSample, "O", []string{"TeamA"}); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if _, ok, _ := s.Get(ctx, object.TypeSample, "O", []string{"TeamA"}); ok {
		t.Error("object still present after delete")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM object_sources WHERE type = ? AND id = ?`, "Sample", "O").Scan(&n); err != nil {
		t.Fatalf("count sources: %v", err)
	}
	if n != 0 {
		t.Errorf("source rows after delete = %d, want 0", n)
	}
}
