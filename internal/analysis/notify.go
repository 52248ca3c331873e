package analysis

import (
	"context"
	"time"

	"github.com/linnemanlabs/warden/internal/object"
)

// TaskEvent describes a task that just reached a terminal status.
type TaskEvent struct {
	ObjectType  object.Type
	ObjectID    string
	AnalysisID  string
	ServiceName string
	Status      object.Status
	Analyst     string
	Results     int
	StartDate   time.Time
	FinishDate  time.Time
}

// Notifier is told about finished tasks. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, ev *TaskEvent) error
}
