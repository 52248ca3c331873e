package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const (
	modulePrefix = "github.com/linnemanlabs/warden/internal/"
	storePkg     = modulePrefix + "analysis/pgstore."
	selfPkg      = modulePrefix + "postgres."
)

var (
	queryObserver  atomic.Pointer[queryObserverHolder]
	slowQueryNanos atomic.Int64
)

type queryStateKey struct{}

type dbStatsKey struct{}

type httpMethodKey struct{}

type queryObserverHolder struct{ QueryObserver }

// queryState carries per-query data from TraceQueryStart to TraceQueryEnd.
type queryState struct {
	sql     string
	args    []string
	start   time.Time
	caller  string
	handler string
}

// ReqDBStats accumulates per-request database query statistics.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// loggingTracer wraps another pgx.QueryTracer (e.g. otelpgx) and adds a
// structured log line for failed and slow queries.
type loggingTracer struct {
	inner pgx.QueryTracer
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// SetSlowQueryThreshold sets the duration at which successful queries are
// logged. Zero logs every query.
func SetSlowQueryThreshold(d time.Duration) {
	slowQueryNanos.Store(int64(max(d, 0)))
}

func slowQueryThreshold() time.Duration {
	return time.Duration(slowQueryNanos.Load())
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*ReqDBStats)
	return s, ok
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// wrapQueryTracer wraps an inner tracer with structured logging.
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	if inner == nil {
		return loggingTracer{}
	}
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	st := &queryState{
		sql:   data.SQL,
		args:  summarizeArgs(data.Args),
		start: time.Now(),
	}
	st.caller, st.handler = findDBCallerAndHandler()

	// Let inner tracer (otelpgx) create its span first.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, 2)
		if st.caller != "" {
			attrs = append(attrs, attribute.String("db.caller", st.caller))
		}
		if st.handler != "" {
			attrs = append(attrs, attribute.String("db.handler", st.handler))
		}
		span.SetAttributes(attrs...)
	}

	return context.WithValue(ctx, queryStateKey{}, st)
}

func (t loggingTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	// Always call inner tracer first so spans are finished correctly.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	st, _ := ctx.Value(queryStateKey{}).(*queryState)
	if st == nil {
		st = &queryState{}
	}

	var dur time.Duration
	if !st.start.IsZero() {
		dur = time.Since(st.start)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	// Metrics hook runs for every query, not just the ones we log.
	if obs := getQueryObserver(); obs != nil && dur > 0 {
		method := httpMethodFromContext(ctx)
		if method == "" {
			// analyzer runs are detached from any request
			method = "BACKGROUND"
		}
		route := routePatternFromContext(ctx)
		if route == "" {
			route = "none"
		}
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, method, route, outcome, dur)
	}

	threshold := slowQueryThreshold()
	if data.Err == nil && dur < threshold {
		return
	}

	fields := []any{
		"db.statement", compactSQL(st.sql),
		"db.args", st.args,
		"db.duration", dur.Seconds(),
	}

	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if op, _, _ := strings.Cut(tag, " "); op != "" {
			fields = append(fields, "db.operation.name", strings.ToUpper(op))
		}
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}
	if st.caller != "" {
		fields = append(fields, "db.caller", st.caller)
	}
	if st.handler != "" {
		fields = append(fields, "db.handler", st.handler)
	}

	L := log.FromContext(ctx)
	switch {
	case data.Err != nil:
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
	case threshold > 0:
		L.Warn(ctx, "slow db query", fields...)
	default:
		L.Info(ctx, "db query", fields...)
	}
}

// summarizeArgs describes query arguments by type and size. Object documents
// and sample-derived results travel as arguments, so values are never logged.
func summarizeArgs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil:
			out[i] = "null"
		case string:
			out[i] = fmt.Sprintf("string(%d)", len(v))
		case []byte:
			out[i] = fmt.Sprintf("bytes(%d)", len(v))
		case []string:
			out[i] = fmt.Sprintf("[]string(%d)", len(v))
		default:
			out[i] = fmt.Sprintf("%T", v)
		}
	}
	return out
}

// compactSQL collapses whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// findDBCallerAndHandler walks the stack to find:
//   - caller: the store method issuing the query
//   - handler: the first frame outside the storage layer (usually an analysis.Service method)
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	return attributeFrames(func(yield func(string) bool) {
		for {
			fr, more := frames.Next()
			if !yield(fr.Function) || !more {
				return
			}
		}
	})
}

// attributeFrames picks the caller and handler out of function names
// ordered innermost first.
func attributeFrames(fns iter.Seq[string]) (caller, handler string) {
	for fn := range fns {
		switch {
		case strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.HasPrefix(fn, selfPkg):
		case caller == "":
			caller = shortenFuncName(fn)
		case strings.HasPrefix(fn, storePkg):
			// modify and transaction closures sit between the public store method and its caller
		default:
			return caller, shortenFuncName(fn)
		}
	}
	return caller, handler
}

func shortenFuncName(fn string) string {
	// Trim package path.
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	// Trim package name, keep receiver + method.
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
