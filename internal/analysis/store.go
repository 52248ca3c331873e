package analysis

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/warden/internal/object"
)

// Store is the persistence interface for objects and their embedded tasks.
//
// Reads that take a sources slice only match objects carrying at least one
// of those labels; an empty slice matches nothing. AppendTask and
// UpdateTask must be atomic per object: the element they touch is resolved
// and modified in one step, so concurrent calls never lose updates.
// UpdateObject and Delete apply the source filter inside that same step.
//
// GetByMD5 returns the oldest visible match when several objects of one
// type share a checksum under different sources.
type Store interface {
	Get(ctx context.Context, typ object.Type, id string, sources []string) (*object.Object, bool, error)
	GetByMD5(ctx context.Context, typ object.Type, md5 string, sources []string) (*object.Object, bool, error)
	List(ctx context.Context, q ListQuery) ([]*object.Object, error)
	Put(ctx context.Context, obj *object.Object) error
	UpdateObject(ctx context.Context, typ object.Type, id string, sources []string, u ObjectUpdate) (bool, error)
	Delete(ctx context.Context, typ object.Type, id string, sources []string) (bool, error)
	AppendTask(ctx context.Context, typ object.Type, id string, task *object.Task) (bool, error)
	UpdateTask(ctx context.Context, typ object.Type, id, analysisID string, u TaskUpdate) (bool, error)
}

// ListQuery selects objects of one type visible through Sources, newest
// first. Search is a case-insensitive substring of any of SearchFields; an
// empty Search matches everything.
type ListQuery struct {
	Type    object.Type
	Sources []string
	Search  string
	Limit   int
	Offset  int
}

// SearchFields are the document fields a ListQuery search looks at.
var SearchFields = []string{"id", "md5", "title", "description", "value", "filename", "event_type"}

// Matches reports whether o satisfies the type, source and search parts of q.
// Stores that cannot filter in their query language use it directly.
func (q ListQuery) Matches(o *object.Object) bool {
	if o.Type != q.Type || !o.VisibleTo(q.Sources) {
		return false
	}
	if q.Search == "" {
		return true
	}
	needle := strings.ToLower(q.Search)
	for _, v := range []string{o.ID, o.MD5, o.Title, o.Description, o.Value, o.Filename, o.EventType} {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// ObjectUpdate describes a change to an object's own fields. Nil fields are
// left alone.
type ObjectUpdate struct {
	Title       *string
	Description *string
	EventType   *string
	Relate      *object.Relationship
	Unrelate    *object.Relationship
}

// Apply mutates o in place. Relating an already linked object is a no-op.
func (u ObjectUpdate) Apply(o *object.Object) {
	if u.Title != nil {
		o.Title = *u.Title
	}
	if u.Description != nil {
		o.Description = *u.Description
	}
	if u.EventType != nil {
		o.EventType = *u.EventType
	}
	if r := u.Relate; r != nil && !o.Related(r.Type, r.ID) {
		o.Relationships = append(o.Relationships, *r)
	}
	if r := u.Unrelate; r != nil {
		o.Relationships = slices.DeleteFunc(o.Relationships, func(have object.Relationship) bool {
			return have == *r
		})
	}
}

// TaskUpdate describes a single change to one embedded task. Zero fields are
// left alone.
type TaskUpdate struct {
	PushResult *object.Result
	PushLog    *object.LogEntry
	Status     object.Status
	FinishDate time.Time
}

// Apply mutates t in place. Stores call it inside their atomic section.
func (u TaskUpdate) Apply(t *object.Task) {
	if u.PushResult != nil {
		t.Results = append(t.Results, *u.PushResult)
	}
	if u.PushLog != nil {
		t.Log = append(t.Log, *u.PushLog)
	}
	if u.Status != "" {
		t.Status = u.Status
	}
	if !u.FinishDate.IsZero() {
		t.FinishDate = u.FinishDate
	}
}

// ApplyTo locates analysisID in obj and applies u. It reports whether the
// task was found.
func (u TaskUpdate) ApplyTo(obj *object.Object, analysisID string) bool {
	i := obj.FindTask(analysisID)
	if i < 0 {
		return false
	}
	u.Apply(&obj.Analysis[i])
	return true
}

// Authorizer resolves the source labels an analyst may see.
type Authorizer interface {
	Sources(ctx context.Context, analyst string) ([]string, error)
}

// AdminAuthorizer is implemented by authorizers that know which analysts
// may remove objects. Without it nobody may.
type AdminAuthorizer interface {
	IsAdmin(ctx context.Context, analyst string) (bool, error)
}

// BlobStore holds raw content of checksum-identified objects keyed by MD5.
type BlobStore interface {
	Put(ctx context.Context, md5 string, data []byte) error
	Get(ctx context.Context, md5 string) ([]byte, bool, error)
}

// Clock supplies timestamps so tests can pin them.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
