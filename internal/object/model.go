package object

import (
	"encoding/json"
	"time"
)

// Status tracks where an analysis task is in its lifecycle.
type Status string

const (
	// StatusPending means the task was started and has not finished
	StatusPending Status = "pending"

	// StatusCompleted means the analyzer finished successfully
	StatusCompleted Status = "completed"

	// StatusError means the analyzer finished with errors
	StatusError Status = "error"
)

// Terminal reports whether s is a finished status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Result is one output record of an analysis task.
type Result struct {
	Result  string `json:"result"`
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// LogEntry is one log line of an analysis task. Timestamp is assigned by the
// server when the entry is appended.
type LogEntry struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is an analysis run embedded in exactly one Object.
type Task struct {
	AnalysisID  string     `json:"analysis_id"`
	ServiceName string     `json:"service_name"`
	Version     string     `json:"version,omitempty"`
	Analyst     string     `json:"analyst,omitempty"`
	Status      Status     `json:"status"`
	StartDate   time.Time  `json:"start_date"`
	FinishDate  time.Time  `json:"finish_date,omitzero"`
	Results     []Result   `json:"results"`
	Log         []LogEntry `json:"log"`
}

// Clone returns a copy of t that shares no slices with it.
func (t Task) Clone() Task {
	t.Results = append([]Result(nil), t.Results...)
	t.Log = append([]LogEntry(nil), t.Log...)
	return t
}

// Relationship links an object to another top-level object.
type Relationship struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

// Object is a top-level document. Fields not meaningful for a variant stay empty.
type Object struct {
	Type        Type      `json:"type"`
	ID          string    `json:"id"`
	MD5         string    `json:"md5,omitempty"`
	Sources     []string  `json:"sources"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Value       string    `json:"value,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Size        int64     `json:"size,omitempty"`
	EventType   string    `json:"event_type,omitempty"`
	Created     time.Time `json:"created"`

	Relationships []Relationship `json:"relationships,omitempty"`
	Analysis      []Task         `json:"analysis"`
}

// Related reports whether o links to typ/id.
func (o *Object) Related(typ Type, id string) bool {
	for _, r := range o.Relationships {
		if r.Type == typ && r.ID == id {
			return true
		}
	}
	return false
}

// FindTask returns the index of the task with the given analysis id, or -1.
func (o *Object) FindTask(analysisID string) int {
	for i := range o.Analysis {
		if o.Analysis[i].AnalysisID == analysisID {
			return i
		}
	}
	return -1
}

// VisibleTo reports whether any of the object's source labels is in sources.
func (o *Object) VisibleTo(sources []string) bool {
	for _, have := range o.Sources {
		for _, want := range sources {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	cp := *o
	cp.Sources = append([]string(nil), o.Sources...)
	if o.Relationships != nil {
		cp.Relationships = append([]Relationship(nil), o.Relationships...)
	}
	if o.Analysis != nil {
		cp.Analysis = make([]Task, len(o.Analysis))
		for i := range o.Analysis {
			cp.Analysis[i] = o.Analysis[i].Clone()
		}
	}
	return &cp
}

// Attributes returns a snapshot of the object as a field-name to value map.
// The map shares nothing with o.
func (o *Object) Attributes() (map[string]any, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
