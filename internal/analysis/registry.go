package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Mode selects how analyzers are executed.
type Mode string

const (
	// ModeSync runs the analyzer inline and returns its error
	ModeSync Mode = "sync"

	// ModeAsync schedules the analyzer on its own goroutine and returns immediately
	ModeAsync Mode = "async"
)

// ParseMode validates a configured execution mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSync, ModeAsync:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown execution mode %q (want sync or async)", s)
}

// Analyzer is a pluggable analysis service run against a Context.
type Analyzer interface {
	Name() string
	Run(ctx context.Context, c Context) error
}

// InvokeHooks receives one call per finished analyzer run.
type InvokeHooks struct {
	OnInvoke func(service, outcome string, duration float64)
}

// Registry holds available analyzers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
	logger    log.Logger
	hooks     InvokeHooks
	timeout   time.Duration
	inflight  sync.WaitGroup
}

// NewRegistry creates an empty registry. timeout bounds each asynchronous
// run; zero means unbounded.
func NewRegistry(logger log.Logger, hooks InvokeHooks, timeout time.Duration) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	return &Registry{
		analyzers: make(map[string]Analyzer),
		logger:    logger,
		hooks:     hooks,
		timeout:   timeout,
	}
}

// Register adds an analyzer, keyed by its Name.
func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[a.Name()] = a
}

// Get retrieves an analyzer by name.
func (r *Registry) Get(name string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	return a, ok
}

// Names returns the registered analyzer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.analyzers))
	for n := range r.analyzers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named analyzer against c. In ModeSync the analyzer's error
// (or recovered panic) is returned. In ModeAsync the run is detached from
// ctx cancellation and its outcome is only logged and reported to hooks.
func (r *Registry) Invoke(ctx context.Context, name string, c Context, mode Mode) error {
	a, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	if mode != ModeAsync {
		return r.run(ctx, a, c)
	}

	runCtx := context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if r.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, r.timeout)
			defer cancel()
		}
		if err := r.run(runCtx, a, c); err != nil {
			r.logger.Warn(runCtx, "async analyzer run failed", "service", name, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every asynchronous run has returned.
func (r *Registry) Wait() {
	r.inflight.Wait()
}

func (r *Registry) run(ctx context.Context, a Analyzer, c Context) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("analyzer %s panicked: %v", a.Name(), p)
		}
		if r.hooks.OnInvoke != nil {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			r.hooks.OnInvoke(a.Name(), outcome, time.Since(start).Seconds())
		}
	}()
	return a.Run(ctx, c)
}

// TaskRecorder is the subset of Service an analyzer uses to record its work.
type TaskRecorder interface {
	StartTask(ctx context.Context, objectType, objectID, serviceName, version, analyst string) Outcome
	AddResult(ctx context.Context, objectType, objectID, analysisID, result, resultType, subtype, analyst string) Outcome
	AddLog(ctx context.Context, objectType, objectID, analysisID, message, level, analyst string) Outcome
	FinishTask(ctx context.Context, objectType, objectID, analysisID, status, analyst string) Outcome
}

var _ TaskRecorder = (*Service)(nil)
