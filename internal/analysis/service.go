package analysis

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 is the object identity scheme, not a security control
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/object"
)

const tracerName = "github.com/linnemanlabs/warden/internal/analysis"

// Triager runs triage analyzers for a newly ingested object.
type Triager interface {
	RunTriage(ctx context.Context, data []byte, obj *object.Object, user string)
}

// Submission is an object to ingest plus its raw content, which is required
// for checksum-identified types. When Related is set both objects are linked
// to each other.
type Submission struct {
	Object  *object.Object
	Data    []byte
	Related *object.Relationship
}

// SubmitResult is the outcome of submitting an object.
type SubmitResult struct {
	ID      string `json:"id"`
	MD5     string `json:"md5,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Service is the business boundary for objects and their analysis tasks.
type Service struct {
	store    Store
	authz    Authorizer
	logger   log.Logger
	blobs    BlobStore
	triage   Triager
	metrics  *Metrics
	notifier Notifier
	clock    Clock
	tracer   trace.Tracer

	notifying sync.WaitGroup
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithBlobStore stores submitted content and serves it back for samples.
func WithBlobStore(b BlobStore) Option { return func(s *Service) { s.blobs = b } }

// WithTriage runs t for every successfully submitted object.
func WithTriage(t Triager) Option { return func(s *Service) { s.triage = t } }

// WithMetrics records submissions and mutations on m.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithNotifier reports finished tasks to n.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// NewService creates a new analysis service.
func NewService(store Store, authz Authorizer, logger log.Logger, opts ...Option) *Service {
	if store == nil {
		panic(xerrors.New("analysis store is required"))
	}
	if authz == nil {
		panic(xerrors.New("authorizer is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:  store,
		authz:  authz,
		logger: logger,
		clock:  systemClock{},
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and persists a new object, then hands it to triage.
// Checksum-identified objects already visible to the analyst are not
// stored twice.
func (s *Service) Submit(ctx context.Context, sub *Submission, analyst string) (*SubmitResult, error) {
	if sub == nil || sub.Object == nil {
		return nil, validationError("Must supply an object to submit.")
	}
	obj := sub.Object.Clone()
	obj.Relationships = nil

	ctx, span := s.tracer.Start(ctx, "analysis.Submit", trace.WithAttributes(
		attribute.String("warden.object.type", string(obj.Type)),
	))
	defer span.End()

	if !obj.Type.Valid() {
		s.metrics.submit("unknown", "invalid")
		return nil, validationError(fmt.Sprintf("Unsupported object type: %s", obj.Type))
	}
	if len(obj.Sources) == 0 {
		s.metrics.submit(string(obj.Type), "invalid")
		return nil, validationError("Must supply at least one source.")
	}

	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, internalError(msgSourcesFailed, err)
	}
	if !obj.VisibleTo(sources) {
		s.metrics.submit(string(obj.Type), "invalid")
		return nil, validationError("Analyst may not submit to any of the given sources.")
	}
	if rel := sub.Related; rel != nil {
		if !rel.Type.Valid() || rel.ID == "" {
			s.metrics.submit(string(obj.Type), "invalid")
			return nil, validationError(msgNoRelated)
		}
		if _, ok, err := s.store.Get(ctx, rel.Type, rel.ID, sources); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		} else if !ok {
			s.metrics.submit(string(obj.Type), "invalid")
			return nil, notFoundError(msgNoRelated)
		}
	}

	if obj.Type.Checksummed() {
		if len(sub.Data) == 0 {
			s.metrics.submit(string(obj.Type), "invalid")
			return nil, validationError(fmt.Sprintf("%s submissions require content.", obj.Type))
		}
		sum := md5.Sum(sub.Data) //nolint:gosec // identity, see import
		obj.MD5 = hex.EncodeToString(sum[:])
		obj.Size = int64(len(sub.Data))

		if existing, ok, err := s.store.GetByMD5(ctx, obj.Type, obj.MD5, sources); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		} else if ok {
			s.metrics.submit(string(obj.Type), "duplicate")
			if sub.Related != nil {
				if err := s.link(ctx, existing.Type, existing.ID, *sub.Related, sources); err != nil {
					return nil, err
				}
			}
			return &SubmitResult{ID: existing.ID, MD5: existing.MD5, Skipped: true, Reason: "duplicate"}, nil
		}

		if s.blobs != nil {
			if err := s.blobs.Put(ctx, obj.MD5, sub.Data); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("store content %s: %w", obj.MD5, err)
			}
		}
	}

	obj.ID = uuid.NewString()
	obj.Created = s.clock.Now()
	obj.Analysis = nil
	if sub.Related != nil {
		obj.Relationships = []object.Relationship{*sub.Related}
	}

	if err := s.store.Put(ctx, obj); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if sub.Related != nil {
		if err := s.link(ctx, obj.Type, obj.ID, *sub.Related, sources); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	s.metrics.submit(string(obj.Type), "accepted")
	span.SetAttributes(attribute.String("warden.object.id", obj.ID))

	L := s.logger.With("object_type", string(obj.Type), "object_id", obj.ID)
	L.Info(ctx, "object submitted", "analyst", analyst, "md5", obj.MD5)

	if s.triage != nil {
		s.triage.RunTriage(ctx, sub.Data, obj.Clone(), analyst)
	}

	return &SubmitResult{ID: obj.ID, MD5: obj.MD5}, nil
}

// link records rel on typ/id and the reverse link on rel. Both objects must
// be visible through sources.
func (s *Service) link(ctx context.Context, typ object.Type, id string, rel object.Relationship, sources []string) error {
	if _, err := s.store.UpdateObject(ctx, typ, id, sources, ObjectUpdate{Relate: &rel}); err != nil {
		return fmt.Errorf("relate %s/%s: %w", typ, id, err)
	}
	back := object.Relationship{Type: typ, ID: id}
	if _, err := s.store.UpdateObject(ctx, rel.Type, rel.ID, sources, ObjectUpdate{Relate: &back}); err != nil {
		return fmt.Errorf("relate %s/%s: %w", rel.Type, rel.ID, err)
	}
	return nil
}

// Get retrieves an object the analyst can see.
func (s *Service) Get(ctx context.Context, objectType, id, analyst string) (*object.Object, bool, error) {
	typ, err := object.ParseType(objectType)
	if err != nil {
		return nil, false, &Error{Kind: ErrValidation, Message: fmt.Sprintf("Unsupported object type: %s", objectType), Cause: err}
	}
	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		return nil, false, internalError(msgSourcesFailed, err)
	}
	return s.store.Get(ctx, typ, id, sources)
}

const (
	// DefaultListLimit applies when a listing asks for no limit
	DefaultListLimit = 50

	// MaxListLimit caps one page of a listing
	MaxListLimit = 500
)

// List returns objects of objectType the analyst can see, newest first.
// search is matched case-insensitively against SearchFields.
func (s *Service) List(ctx context.Context, objectType, search string, limit, offset int, analyst string) ([]*object.Object, error) {
	typ, err := object.ParseType(objectType)
	if err != nil {
		return nil, &Error{Kind: ErrValidation, Message: fmt.Sprintf("Unsupported object type: %s", objectType), Cause: err}
	}
	if offset < 0 {
		return nil, validationError("Offset cannot be negative.")
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	ctx, span := s.tracer.Start(ctx, "analysis.List", trace.WithAttributes(
		attribute.String("warden.object.type", objectType),
	))
	defer span.End()

	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		return nil, internalError(msgSourcesFailed, err)
	}
	objs, err := s.store.List(ctx, ListQuery{
		Type:    typ,
		Sources: sources,
		Search:  strings.TrimSpace(search),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("warden.list.count", len(objs)))
	return objs, nil
}

// Fields are the editable attributes of an object. Nil fields are left
// alone.
type Fields struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	EventType   *string `json:"event_type,omitempty"`
}

// UpdateFields changes the title, description or (for events) event type of
// an object the analyst can see.
func (s *Service) UpdateFields(ctx context.Context, objectType, objectID string, f Fields, analyst string) Outcome {
	ctx, span := s.startSpan(ctx, "analysis.UpdateFields", objectType, objectID, "")
	defer span.End()

	out := s.updateFields(ctx, objectType, objectID, f, analyst)
	s.finishSpan(span, out)
	s.metrics.mutation("update", out)
	return out
}

func (s *Service) updateFields(ctx context.Context, objectType, objectID string, f Fields, analyst string) Outcome {
	if objectType == "" || objectID == "" {
		return failed(validationError(msgMissingObjectIDs))
	}
	typ, err := object.ParseType(objectType)
	if err != nil {
		return failed(validationError(fmt.Sprintf("Unsupported object type: %s", objectType)))
	}
	if f.Title == nil && f.Description == nil && f.EventType == nil {
		return failed(validationError(msgNoFields))
	}
	if f.Title != nil && strings.TrimSpace(*f.Title) == "" {
		return failed(validationError(msgEmptyTitle))
	}
	if f.EventType != nil {
		if typ != object.TypeEvent {
			return failed(validationError(msgEventTypeOnly))
		}
		if strings.TrimSpace(*f.EventType) == "" {
			return failed(validationError(msgEmptyEventType))
		}
	}

	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		return failed(internalError(msgSourcesFailed, err))
	}
	ok, err := s.store.UpdateObject(ctx, typ, objectID, sources, ObjectUpdate{
		Title:       f.Title,
		Description: f.Description,
		EventType:   f.EventType,
	})
	if err != nil {
		s.logger.Error(ctx, err, "object update failed", "object_type", objectType, "object_id", objectID)
		return failed(internalError(msgObjectFailed, err))
	}
	if !ok {
		return failed(notFoundError(msgNoObjectUpdate))
	}
	return succeeded()
}

// Remove deletes an object the analyst can see and drops the links other
// visible objects hold to it. Only administrators may remove objects.
// Content in the blob store is kept, since other objects may share it.
func (s *Service) Remove(ctx context.Context, objectType, objectID, analyst string) Outcome {
	ctx, span := s.startSpan(ctx, "analysis.Remove", objectType, objectID, "")
	defer span.End()

	out := s.remove(ctx, objectType, objectID, analyst)
	s.finishSpan(span, out)
	s.metrics.mutation("remove", out)
	return out
}

func (s *Service) remove(ctx context.Context, objectType, objectID, analyst string) Outcome {
	if objectType == "" || objectID == "" {
		return failed(validationError(msgMissingObjectIDs))
	}
	typ, err := object.ParseType(objectType)
	if err != nil {
		return failed(validationError(fmt.Sprintf("Unsupported object type: %s", objectType)))
	}

	admins, ok := s.authz.(AdminAuthorizer)
	if !ok {
		return failed(forbiddenError(msgNotAdmin))
	}
	isAdmin, err := admins.IsAdmin(ctx, analyst)
	if err != nil {
		return failed(internalError(msgSourcesFailed, err))
	}
	if !isAdmin {
		return failed(forbiddenError(msgNotAdmin))
	}

	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		return failed(internalError(msgSourcesFailed, err))
	}
	obj, found, err := s.store.Get(ctx, typ, objectID, sources)
	if err != nil {
		s.logger.Error(ctx, err, "object lookup failed", "object_type", objectType, "object_id", objectID)
		return failed(internalError(msgObjectFailed, err))
	}
	if !found {
		return failed(notFoundError(msgNoObjectRemove))
	}
	deleted, err := s.store.Delete(ctx, typ, objectID, sources)
	if err != nil {
		s.logger.Error(ctx, err, "object delete failed", "object_type", objectType, "object_id", objectID)
		return failed(internalError(msgObjectFailed, err))
	}
	if !deleted {
		return failed(notFoundError(msgNoObjectRemove))
	}

	self := object.Relationship{Type: typ, ID: objectID}
	for _, rel := range obj.Relationships {
		if _, err := s.store.UpdateObject(ctx, rel.Type, rel.ID, sources, ObjectUpdate{Unrelate: &self}); err != nil {
			s.logger.Warn(ctx, "could not drop relationship",
				"object_id", objectID,
				"related_type", string(rel.Type),
				"related_id", rel.ID,
				"error", err,
			)
		}
	}

	s.logger.Info(ctx, "object removed", "object_type", objectType, "object_id", objectID, "analyst", analyst)
	return succeeded()
}

// SampleContent returns the stored bytes of the Sample with the given MD5,
// if the analyst can see it.
func (s *Service) SampleContent(ctx context.Context, md5sum, analyst string) ([]byte, bool, error) {
	if s.blobs == nil {
		return nil, false, nil
	}
	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		return nil, false, internalError(msgSourcesFailed, err)
	}
	if _, ok, err := s.store.GetByMD5(ctx, object.TypeSample, strings.ToLower(md5sum), sources); err != nil || !ok {
		return nil, false, err
	}
	return s.blobs.Get(ctx, strings.ToLower(md5sum))
}

// StartTask creates a pending analysis task for serviceName on an object the
// analyst can see. The new analysis id is returned in Outcome.AnalysisID.
func (s *Service) StartTask(ctx context.Context, objectType, objectID, serviceName, version, analyst string) Outcome {
	ctx, span := s.startSpan(ctx, "analysis.StartTask", objectType, objectID, "")
	defer span.End()

	out := s.startTask(ctx, objectType, objectID, serviceName, version, analyst)
	s.finishSpan(span, out)
	s.metrics.mutation("start", out)
	return out
}

func (s *Service) startTask(ctx context.Context, objectType, objectID, serviceName, version, analyst string) Outcome {
	if objectType == "" || objectID == "" || serviceName == "" {
		return failed(validationError("Must supply object id/type and service name."))
	}
	typ, err := object.ParseType(objectType)
	if err != nil {
		return failed(validationError(fmt.Sprintf("Unsupported object type: %s", objectType)))
	}
	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		return failed(internalError(msgSourcesFailed, err))
	}
	if _, ok, err := s.store.Get(ctx, typ, objectID, sources); err != nil {
		return s.storeFailed(ctx, err, "start")
	} else if !ok {
		return failed(notFoundError("Could not find object to add analysis to."))
	}

	task := &object.Task{
		AnalysisID:  ulid.Make().String(),
		ServiceName: serviceName,
		Version:     version,
		Analyst:     analyst,
		Status:      object.StatusPending,
		StartDate:   s.clock.Now(),
		Results:     []object.Result{},
		Log:         []object.LogEntry{},
	}
	ok, err := s.store.AppendTask(ctx, typ, objectID, task)
	if err != nil {
		return s.storeFailed(ctx, err, "start")
	}
	if !ok {
		return failed(notFoundError("Could not find object to add analysis to."))
	}
	return Outcome{Success: true, AnalysisID: task.AnalysisID}
}

// AddResult appends one result record to an analysis task. result, type and
// subtype must all be non-empty.
func (s *Service) AddResult(ctx context.Context, objectType, objectID, analysisID, result, resultType, subtype, analyst string) Outcome {
	ctx, span := s.startSpan(ctx, "analysis.AddResult", objectType, objectID, analysisID)
	defer span.End()

	out := s.addResult(ctx, objectType, objectID, analysisID, result, resultType, subtype, analyst)
	s.finishSpan(span, out)
	s.metrics.mutation("result", out)
	return out
}

func (s *Service) addResult(ctx context.Context, objectType, objectID, analysisID, result, resultType, subtype, analyst string) Outcome {
	if objectType == "" || objectID == "" || analysisID == "" {
		return failed(validationError(msgMissingIDs))
	}
	if result == "" || resultType == "" || subtype == "" {
		return failed(validationError(msgNeedResult))
	}
	typ, _, _, e := s.locate(ctx, objectType, objectID, analysisID, analyst, msgNoObjectResults)
	if e != nil {
		return failed(e)
	}
	return s.update(ctx, "result", typ, objectID, analysisID, TaskUpdate{
		PushResult: &object.Result{Result: result, Type: resultType, Subtype: subtype},
	})
}

// AddLog appends one log entry, stamped with the current time, to an
// analysis task.
func (s *Service) AddLog(ctx context.Context, objectType, objectID, analysisID, message, level, analyst string) Outcome {
	ctx, span := s.startSpan(ctx, "analysis.AddLog", objectType, objectID, analysisID)
	defer span.End()

	out := s.addLog(ctx, objectType, objectID, analysisID, message, level, analyst)
	s.finishSpan(span, out)
	s.metrics.mutation("log", out)
	return out
}

func (s *Service) addLog(ctx context.Context, objectType, objectID, analysisID, message, level, analyst string) Outcome {
	if objectType == "" || objectID == "" || analysisID == "" {
		return failed(validationError(msgMissingIDs))
	}
	typ, _, _, e := s.locate(ctx, objectType, objectID, analysisID, analyst, msgNoObjectLog)
	if e != nil {
		return failed(e)
	}
	return s.update(ctx, "log", typ, objectID, analysisID, TaskUpdate{
		PushLog: &object.LogEntry{Message: message, Level: level, Timestamp: s.clock.Now()},
	})
}

// NormalizeStatus coerces anything other than "error" or "completed",
// including the empty string, to completed.
func NormalizeStatus(status string) object.Status {
	if object.Status(status) == object.StatusError {
		return object.StatusError
	}
	return object.StatusCompleted
}

// FinishTask sets a task's terminal status and finish date in one update.
// Repeating the call overwrites both.
func (s *Service) FinishTask(ctx context.Context, objectType, objectID, analysisID, status, analyst string) Outcome {
	ctx, span := s.startSpan(ctx, "analysis.FinishTask", objectType, objectID, analysisID)
	defer span.End()

	out := s.finishTask(ctx, objectType, objectID, analysisID, status, analyst)
	s.finishSpan(span, out)
	s.metrics.mutation("finish", out)
	return out
}

func (s *Service) finishTask(ctx context.Context, objectType, objectID, analysisID, status, analyst string) Outcome {
	st := NormalizeStatus(status)
	if objectType == "" || objectID == "" || analysisID == "" {
		return failed(validationError(msgMissingIDs))
	}
	typ, obj, idx, e := s.locate(ctx, objectType, objectID, analysisID, analyst, msgNoObjectLog)
	if e != nil {
		return failed(e)
	}

	now := s.clock.Now()
	out := s.update(ctx, "finish", typ, objectID, analysisID, TaskUpdate{Status: st, FinishDate: now})
	task := obj.Analysis[idx]
	// only the first finish is announced; repeats just overwrite
	if !out.Success || s.notifier == nil || task.Status.Terminal() {
		return out
	}

	ev := &TaskEvent{
		ObjectType:  typ,
		ObjectID:    objectID,
		AnalysisID:  analysisID,
		ServiceName: task.ServiceName,
		Status:      st,
		Analyst:     analyst,
		Results:     len(task.Results),
		StartDate:   task.StartDate,
		FinishDate:  now,
	}
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		s.notify(context.WithoutCancel(ctx), ev)
	}()
	return out
}

// Wait blocks until every notification in flight has been sent.
func (s *Service) Wait() {
	s.notifying.Wait()
}

// locate resolves the object (filtered by the analyst's sources) and the
// task inside it. A missing object and an invisible one produce the same
// error.
func (s *Service) locate(ctx context.Context, objectType, objectID, analysisID, analyst, notFoundMsg string) (object.Type, *object.Object, int, *Error) {
	typ, err := object.ParseType(objectType)
	if err != nil {
		return "", nil, -1, validationError(fmt.Sprintf("Unsupported object type: %s", objectType))
	}
	sources, err := s.authz.Sources(ctx, analyst)
	if err != nil {
		return "", nil, -1, internalError(msgSourcesFailed, err)
	}
	obj, ok, err := s.store.Get(ctx, typ, objectID, sources)
	if err != nil {
		s.logger.Error(ctx, err, "object lookup failed", "object_type", objectType, "object_id", objectID)
		return "", nil, -1, internalError(msgStoreFailed, err)
	}
	if !ok {
		return "", nil, -1, notFoundError(notFoundMsg)
	}
	idx := obj.FindTask(analysisID)
	if idx < 0 {
		return "", nil, -1, notFoundError(msgNoTask)
	}
	return typ, obj, idx, nil
}

func (s *Service) update(ctx context.Context, op string, typ object.Type, objectID, analysisID string, u TaskUpdate) Outcome {
	ok, err := s.store.UpdateTask(ctx, typ, objectID, analysisID, u)
	if err != nil {
		return s.storeFailed(ctx, err, op)
	}
	if !ok {
		return failed(notFoundError(msgNoTask))
	}
	return succeeded()
}

func (s *Service) storeFailed(ctx context.Context, err error, op string) Outcome {
	s.logger.Error(ctx, err, "analysis task update failed", "op", op)
	return failed(internalError(msgStoreFailed, err))
}

func (s *Service) notify(ctx context.Context, ev *TaskEvent) {
	if err := s.notifier.Send(ctx, ev); err != nil {
		s.metrics.notifyFailed()
		s.logger.Warn(ctx, "task notification failed",
			"object_id", ev.ObjectID,
			"analysis_id", ev.AnalysisID,
			"error", err,
		)
	}
}

func (s *Service) startSpan(ctx context.Context, name, objectType, objectID, analysisID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("warden.object.type", objectType),
		attribute.String("warden.object.id", objectID),
	}
	if analysisID != "" {
		attrs = append(attrs, attribute.String("warden.analysis.id", analysisID))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) finishSpan(span trace.Span, out Outcome) {
	span.SetAttributes(attribute.Bool("warden.outcome.success", out.Success))
	if !out.Success {
		span.SetStatus(codes.Error, out.Message)
	}
}
