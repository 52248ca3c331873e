package analysis

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/object"
)

// Invoker runs a named analyzer. Registry is the production implementation.
type Invoker interface {
	Invoke(ctx context.Context, name string, c Context, mode Mode) error
}

// DispatchHooks receives dispatcher-level events.
type DispatchHooks struct {
	OnContextFailed func(objectType string)
	OnDiscarded     func(service string)
}

// Dispatcher runs the configured triage analyzers against newly ingested
// objects. Triage is best effort: nothing it does can fail the caller.
type Dispatcher struct {
	invoker Invoker
	triage  []string
	mode    Mode
	logger  log.Logger
	hooks   DispatchHooks
}

// NewDispatcher creates a dispatcher that runs the services named in triage,
// in order, with the given execution mode.
func NewDispatcher(invoker Invoker, triage []string, mode Mode, logger log.Logger, hooks DispatchHooks) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		invoker: invoker,
		triage:  append([]string(nil), triage...),
		mode:    mode,
		logger:  logger,
		hooks:   hooks,
	}
}

// Services returns the configured triage service names in run order.
func (d *Dispatcher) Services() []string {
	return append([]string(nil), d.triage...)
}

// RunTriage builds a context for obj and invokes each triage service with it.
// A context that cannot be built means there is nothing to do.
func (d *Dispatcher) RunTriage(ctx context.Context, data []byte, obj *object.Object, user string) {
	c, err := BuildContext(user, data, obj)
	if err != nil {
		typ := ""
		if obj != nil {
			typ = string(obj.Type)
		}
		d.logger.Warn(ctx, "triage skipped: no context", "object_type", typ, "error", err)
		if d.hooks.OnContextFailed != nil {
			d.hooks.OnContextFailed(typ)
		}
		return
	}

	for _, name := range d.triage {
		if err := d.invokeIsolated(ctx, name, c); err != nil {
			d.logger.Warn(ctx, "triage service failed, discarding",
				"service", name,
				"object_type", string(obj.Type),
				"object_id", obj.ID,
				"error", err,
			)
			if d.hooks.OnDiscarded != nil {
				d.hooks.OnDiscarded(name)
			}
		}
	}
}

// invokeIsolated is the per-service error boundary. Whatever the invoker
// does, including panicking, comes back as an error for the caller to drop.
func (d *Dispatcher) invokeIsolated(ctx context.Context, name string, c Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("invoke %s panicked: %v", name, p)
		}
	}()
	return d.invoker.Invoke(ctx, name, c, d.mode)
}
