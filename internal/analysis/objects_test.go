package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/object"
)

func eventObject(id string, sources ...string) *object.Object {
	return &object.Object{Type: object.TypeEvent, ID: id, Title: "Phish " + id, Sources: sources}
}

func TestList(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		eventObject("E1", "TeamA"),
		eventObject("E2", "TeamA"),
		eventObject("E3", "TeamB"),
		sampleObject(),
	)
	svc := newTestService(store)
	ctx := context.Background()

	tests := []struct {
		name    string
		typ     string
		search  string
		limit   int
		offset  int
		analyst string
		want    []string
	}{
		{"own events", "Event", "", 0, 0, "alice", []string{"E1", "E2"}},
		{"other team", "Event", "", 0, 0, "bob", []string{"E3"}},
		{"search", "Event", "phish e2", 0, 0, "alice", []string{"E2"}},
		{"limit", "Event", "", 1, 0, "alice", []string{"E1"}},
		{"offset", "Event", "", 0, 1, "alice", []string{"E2"}},
		{"samples", "Sample", "a.exe", 0, 0, "alice", []string{"O"}},
		{"unknown analyst", "Event", "", 0, 0, "mallory", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			objs, err := svc.List(ctx, tt.typ, tt.search, tt.limit, tt.offset, tt.analyst)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var got []string
			for _, o := range objs {
				got = append(got, o.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}

	if _, err := svc.List(ctx, "Actor", "", 0, 0, "alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("List(Actor) err = %v, want ErrValidation", err)
	}
	if _, err := svc.List(ctx, "Event", "", 0, -1, "alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("negative offset err = %v, want ErrValidation", err)
	}
}

// limitRecorder captures the query a List call reaches the store with.
type limitRecorder struct {
	*fakeStore
	last ListQuery
}

func (r *limitRecorder) List(ctx context.Context, q ListQuery) ([]*object.Object, error) {
	r.last = q
	return r.fakeStore.List(ctx, q)
}

func TestList_ClampsLimit(t *testing.T) {
	t.Parallel()

	store := &limitRecorder{fakeStore: newFakeStore()}
	svc := newTestService(store)
	ctx := context.Background()

	for _, tt := range []struct{ in, want int }{
		{0, DefaultListLimit},
		{-5, DefaultListLimit},
		{10, 10},
		{MaxListLimit + 1, MaxListLimit},
	} {
		if _, err := svc.List(ctx, "Event", "  q  ", tt.in, 0, "alice"); err != nil {
			t.Fatalf("List: %v", err)
		}
		if store.last.Limit != tt.want {
			t.Errorf("limit %d reached store as %d, want %d", tt.in, store.last.Limit, tt.want)
		}
		if store.last.Search != "q" {
			t.Errorf("search = %q, want trimmed", store.last.Search)
		}
	}
}

func TestUpdateFields(t *testing.T) {
	t.Parallel()

	str := func(s string) *string { return &s }

	tests := []struct {
		name    string
		typ, id string
		fields  Fields
		analyst string
		wantErr error
		wantMsg string
	}{
		{"title", "Event", "E1", Fields{Title: str("Spear phish")}, "alice", nil, ""},
		{"event type", "Event", "E1", Fields{EventType: str("Phishing")}, "alice", nil, ""},
		{"sample description", "Sample", "O", Fields{Description: str("packed")}, "alice", nil, ""},
		{"nothing", "Event", "E1", Fields{}, "alice", ErrValidation, msgNoFields},
		{"blank title", "Event", "E1", Fields{Title: str("  ")}, "alice", ErrValidation, msgEmptyTitle},
		{"event type on sample", "Sample", "O", Fields{EventType: str("x")}, "alice", ErrValidation, msgEventTypeOnly},
		{"blank event type", "Event", "E1", Fields{EventType: str("")}, "alice", ErrValidation, msgEmptyEventType},
		{"missing id", "Event", "", Fields{Title: str("t")}, "alice", ErrValidation, msgMissingObjectIDs},
		{"unknown type", "Actor", "E1", Fields{Title: str("t")}, "alice", ErrValidation, ""},
		{"hidden", "Event", "E1", Fields{Title: str("t")}, "bob", ErrNotFound, msgNoObjectUpdate},
		{"missing", "Event", "E9", Fields{Title: str("t")}, "alice", ErrNotFound, msgNoObjectUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeStore(eventObject("E1", "TeamA"), sampleObject())
			svc := newTestService(store)

			out := svc.UpdateFields(context.Background(), tt.typ, tt.id, tt.fields, tt.analyst)
			if tt.wantErr == nil {
				if !out.Success {
					t.Fatalf("UpdateFields: %+v", out)
				}
				return
			}
			if out.Success || !errors.Is(out.Err, tt.wantErr) {
				t.Fatalf("outcome = %+v, want %v", out, tt.wantErr)
			}
			if tt.wantMsg != "" && out.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", out.Message, tt.wantMsg)
			}
		})
	}
}

func TestUpdateFields_Persists(t *testing.T) {
	t.Parallel()

	store := newFakeStore(eventObject("E1", "TeamA"))
	svc := newTestService(store)
	title, kind := "Invoice lure", "Phishing"

	out := svc.UpdateFields(context.Background(), "Event", "E1", Fields{Title: &title, EventType: &kind}, "alice")
	if !out.Success {
		t.Fatalf("UpdateFields: %+v", out)
	}
	got := store.object(object.TypeEvent, "E1")
	if got.Title != title || got.EventType != kind || got.Description != "" {
		t.Errorf("object = %+v", got)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	authz := adminAuthz{staticAuthz: testAuthz, admins: []string{"alice"}}
	ctx := context.Background()

	t.Run("admin removes and unlinks", func(t *testing.T) {
		t.Parallel()

		ev := eventObject("E1", "TeamA")
		ev.Relationships = []object.Relationship{{Type: object.TypeSample, ID: "O"}}
		smp := sampleObject()
		smp.Relationships = []object.Relationship{{Type: object.TypeEvent, ID: "E1"}}
		store := newFakeStore(ev, smp)
		svc := NewService(store, authz, log.Nop())

		if out := svc.Remove(ctx, "Event", "E1", "alice"); !out.Success {
			t.Fatalf("Remove: %+v", out)
		}
		if _, ok, _ := store.Get(ctx, object.TypeEvent, "E1", []string{"TeamA"}); ok {
			t.Error("event still stored")
		}
		if rels := store.object(object.TypeSample, "O").Relationships; len(rels) != 0 {
			t.Errorf("sample relationships = %+v, want none", rels)
		}
	})

	tests := []struct {
		name    string
		authz   Authorizer
		typ, id string
		analyst string
		wantErr error
		wantMsg string
	}{
		{"not admin", authz, "Event", "E1", "bob", ErrForbidden, msgNotAdmin},
		{"no admin support", testAuthz, "Event", "E1", "alice", ErrForbidden, msgNotAdmin},
		{"missing", authz, "Event", "E9", "alice", ErrNotFound, msgNoObjectRemove},
		{"hidden from admin", adminAuthz{staticAuthz: testAuthz, admins: []string{"bob"}}, "Event", "E1", "bob", ErrNotFound, msgNoObjectRemove},
		{"no id", authz, "Event", "", "alice", ErrValidation, msgMissingObjectIDs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeStore(eventObject("E1", "TeamA"))
			svc := NewService(store, tt.authz, log.Nop())

			out := svc.Remove(ctx, tt.typ, tt.id, tt.analyst)
			if out.Success || !errors.Is(out.Err, tt.wantErr) || out.Message != tt.wantMsg {
				t.Fatalf("outcome = %+v, want %v %q", out, tt.wantErr, tt.wantMsg)
			}
			if _, ok, _ := store.Get(ctx, object.TypeEvent, "E1", []string{"TeamA"}); !ok {
				t.Error("event removed after failed Remove")
			}
		})
	}
}

func TestSubmit_RelatedToEvent(t *testing.T) {
	t.Parallel()

	store := newFakeStore(eventObject("E1", "TeamA"))
	svc := newTestService(store, WithBlobStore(&memBlobs{}))
	ctx := context.Background()
	rel := &object.Relationship{Type: object.TypeEvent, ID: "E1"}

	sub := &Submission{
		Object:  &object.Object{Type: object.TypeSample, Sources: []string{"TeamA"}, Filename: "invoice.doc"},
		Data:    []byte("doc"),
		Related: rel,
	}
	res, err := svc.Submit(ctx, sub, "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	smp := store.object(object.TypeSample, res.ID)
	if !smp.Related(object.TypeEvent, "E1") {
		t.Errorf("sample relationships = %+v", smp.Relationships)
	}
	if ev := store.object(object.TypeEvent, "E1"); !ev.Related(object.TypeSample, res.ID) || len(ev.Relationships) != 1 {
		t.Errorf("event relationships = %+v", ev.Relationships)
	}

	// a duplicate is linked, not stored twice
	store.objects["Event/E2"] = eventObject("E2", "TeamA")
	sub.Related = &object.Relationship{Type: object.TypeEvent, ID: "E2"}
	dup, err := svc.Submit(ctx, sub, "alice")
	if err != nil || !dup.Skipped || dup.ID != res.ID {
		t.Fatalf("duplicate = %+v, %v", dup, err)
	}
	if ev := store.object(object.TypeEvent, "E2"); !ev.Related(object.TypeSample, res.ID) {
		t.Errorf("E2 relationships = %+v", ev.Relationships)
	}
	if smp := store.object(object.TypeSample, res.ID); len(smp.Relationships) != 2 {
		t.Errorf("sample relationships = %+v, want 2", smp.Relationships)
	}

	foreign := &Submission{
		Object:  &object.Object{Type: object.TypeSample, Sources: []string{"TeamB"}},
		Data:    []byte("doc"),
		Related: &object.Relationship{Type: object.TypeEvent, ID: "E1"},
	}
	if _, err := svc.Submit(ctx, foreign, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("relating to a hidden event err = %v, want ErrNotFound", err)
	}
	sub.Related = &object.Relationship{Type: "Actor", ID: "E1"}
	if _, err := svc.Submit(ctx, sub, "alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("bad related type err = %v, want ErrValidation", err)
	}
}

func TestFinishTask_NotifiesOnce(t *testing.T) {
	t.Parallel()

	events := make(chanNotifier, 2)
	svc := newTestService(newFakeStore(sampleObject()), WithNotifier(events))
	ctx := context.Background()

	for _, status := range []string{"completed", "error"} {
		if out := svc.FinishTask(ctx, "Sample", "O", "T1", status, "alice"); !out.Success {
			t.Fatalf("FinishTask(%s): %+v", status, out)
		}
	}
	svc.Wait()

	if len(events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(events))
	}
	if ev := <-events; ev.Status != object.StatusCompleted {
		t.Errorf("event status = %q, want completed", ev.Status)
	}
}

// slowNotifier delays every send.
type slowNotifier struct {
	delay time.Duration
	sent  chan struct{}
}

func (n slowNotifier) Send(_ context.Context, _ *TaskEvent) error {
	time.Sleep(n.delay)
	close(n.sent)
	return nil
}

func TestService_WaitDrainsNotifications(t *testing.T) {
	t.Parallel()

	n := slowNotifier{delay: 50 * time.Millisecond, sent: make(chan struct{})}
	svc := newTestService(newFakeStore(sampleObject()), WithNotifier(n))

	if out := svc.FinishTask(context.Background(), "Sample", "O", "T2", "", "alice"); !out.Success {
		t.Fatalf("FinishTask: %+v", out)
	}
	svc.Wait()

	select {
	case <-n.sent:
	default:
		t.Fatal("Wait returned before the notification was sent")
	}
}
