// Package strscan is a built-in analyzer that records the printable strings
// found in file content as analysis results.
package strscan

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/extract"
)

const (
	// Name is the registered service name.
	Name = "strings"

	// Version is recorded on every task this analyzer starts.
	Version = "1.0.0"

	defaultLimit = 200
)

// Analyzer extracts ASCII and UTF-16LE strings.
type Analyzer struct {
	rec    analysis.TaskRecorder
	logger log.Logger
	limit  int
}

// New returns an Analyzer recording through rec. limit caps the number of
// results per run; zero or less uses the default.
func New(rec analysis.TaskRecorder, logger log.Logger, limit int) *Analyzer {
	if logger == nil {
		logger = log.Nop()
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Analyzer{rec: rec, logger: logger, limit: limit}
}

// Name implements analysis.Analyzer.
func (a *Analyzer) Name() string { return Name }

// Run implements analysis.Analyzer. Contexts without content are ignored.
func (a *Analyzer) Run(ctx context.Context, c analysis.Context) error {
	fc, ok := c.(*analysis.FileContext)
	if !ok || len(fc.Data) == 0 {
		return nil
	}

	task := taskRef{
		rec:     a.rec,
		typ:     string(fc.Type),
		id:      fc.ID,
		analyst: fc.User(),
	}
	if err := task.start(ctx); err != nil {
		return err
	}

	ascii := extract.ASCII(fc.Data)
	unicode := extract.Unicode(fc.Data)
	task.log(ctx, fmt.Sprintf("found %d ascii and %d unicode strings", len(ascii), len(unicode)), "info")

	recorded := 0
	for _, set := range []struct {
		subtype string
		values  []string
	}{{"ascii", ascii}, {"unicode", unicode}} {
		for _, s := range set.values {
			if recorded >= a.limit {
				break
			}
			if err := task.result(ctx, s, "strings", set.subtype); err != nil {
				task.finish(ctx, "error")
				return err
			}
			recorded++
		}
	}
	if total := len(ascii) + len(unicode); total > recorded {
		task.log(ctx, fmt.Sprintf("recorded %d of %d strings", recorded, total), "warning")
	}

	a.logger.Info(ctx, "strings extracted",
		"object_id", fc.ID,
		"analysis_id", task.analysisID,
		"recorded", recorded,
	)
	return task.finish(ctx, "completed")
}

// taskRef binds the identifiers of one running task.
type taskRef struct {
	rec        analysis.TaskRecorder
	typ, id    string
	analyst    string
	analysisID string
}

func (t *taskRef) start(ctx context.Context) error {
	out := t.rec.StartTask(ctx, t.typ, t.id, Name, Version, t.analyst)
	if !out.Success {
		return fmt.Errorf("start task: %s: %w", out.Message, out.Err)
	}
	t.analysisID = out.AnalysisID
	return nil
}

func (t *taskRef) result(ctx context.Context, result, typ, subtype string) error {
	out := t.rec.AddResult(ctx, t.typ, t.id, t.analysisID, result, typ, subtype, t.analyst)
	if !out.Success {
		return fmt.Errorf("add result: %s: %w", out.Message, out.Err)
	}
	return nil
}

func (t *taskRef) log(ctx context.Context, message, level string) {
	t.rec.AddLog(ctx, t.typ, t.id, t.analysisID, message, level, t.analyst)
}

func (t *taskRef) finish(ctx context.Context, status string) error {
	out := t.rec.FinishTask(ctx, t.typ, t.id, t.analysisID, status, t.analyst)
	if !out.Success {
		return fmt.Errorf("finish task: %s: %w", out.Message, out.Err)
	}
	return nil
}
