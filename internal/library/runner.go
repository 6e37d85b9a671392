package library

import (
	"context"

	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/pkg/schema"
)

// RecordSource looks up stored routine records. Satisfied by the Store.
type RecordSource interface {
	GetRecord(ctx context.Context, name string) (*store.Record, error)
}

// Runner resolves routine names against the catalogue first and stored
// records second, and runs them on a controller.
type Runner struct {
	catalogue *Catalogue
	ctl       *engine.Controller
	records   RecordSource
}

// NewRunner creates a Runner. records may be nil.
func NewRunner(cat *Catalogue, ctl *engine.Controller, records RecordSource) *Runner {
	return &Runner{catalogue: cat, ctl: ctl, records: records}
}

// Build creates the unregistered routine for name.
func (r *Runner) Build(ctx context.Context, name string, categories ...string) (*engine.Routine, error) {
	if r.catalogue != nil && r.catalogue.Has(name) {
		return r.catalogue.Create(r.ctl, name, categories...)
	}
	if r.records == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown routine %q", name)
	}
	rec, err := r.records.GetRecord(ctx, name)
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown routine %q", name).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load record %q: %s", name, err.Error()).WithCause(err)
	}
	return r.ctl.RoutineFromRecord(rec.RoutineRecord(), categories...)
}

// Run builds name and runs it in the foreground.
func (r *Runner) Run(ctx context.Context, name string, categories ...string) (*engine.RunResult, error) {
	routine, err := r.Build(ctx, name, categories...)
	if err != nil {
		return nil, err
	}
	return routine.Run(ctx)
}

// Start builds name and runs it on the controller's background pool.
func (r *Runner) Start(ctx context.Context, name string, categories ...string) (*engine.Handle, error) {
	routine, err := r.Build(ctx, name, categories...)
	if err != nil {
		return nil, err
	}
	return r.ctl.Start(ctx, routine)
}

// RunNamed runs name and reports only its outcome.
func (r *Runner) RunNamed(ctx context.Context, name string, categories []string) (schema.Outcome, error) {
	res, err := r.Run(ctx, name, categories...)
	if res == nil {
		return schema.OutcomeFailed, err
	}
	return res.Outcome, err
}
