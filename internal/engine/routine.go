package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/dsmacro/internal/actions"
	"github.com/rendis/dsmacro/internal/logging"
	"github.com/rendis/dsmacro/pkg/schema"
)

// RunResult describes one finished run.
type RunResult struct {
	RunID             string         `json:"run_id"`
	RoutineID         int64          `json:"routine_id"`
	Name              string         `json:"name,omitempty"`
	Categories        []string       `json:"categories,omitempty"`
	Outcome           schema.Outcome `json:"outcome"`
	SequencesTotal    int            `json:"sequences_total"`
	SequencesExecuted int            `json:"sequences_executed"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       time.Time      `json:"completed_at"`
	Error             string         `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Routine is an ordered list of action sequences with an identity and a
// cancellation flag. It is built by its creator, then run once.
type Routine struct {
	id         int64
	name       string
	categories []string
	ctl        *Controller

	cancelled atomic.Bool

	mu        sync.Mutex
	sequences []schema.ActionSequence
	status    schema.RoutineStatus
	runID     string
	interrupt context.CancelFunc
}

func newRoutine(ctl *Controller, id int64, name string, categories []string) *Routine {
	return &Routine{
		id:         id,
		name:       name,
		categories: normalizeCategories(categories),
		ctl:        ctl,
		status:     schema.RoutineStatusUnregistered,
	}
}

func normalizeCategories(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ID returns the routine's unique id.
func (r *Routine) ID() int64 { return r.id }

// Name returns the routine's name, possibly empty.
func (r *Routine) Name() string { return r.name }

// Categories returns the routine's categories, sorted.
func (r *Routine) Categories() []string { return slices.Clone(r.categories) }

// HasCategory reports whether the routine is in category c.
func (r *Routine) HasCategory(c string) bool {
	_, found := slices.BinarySearch(r.categories, c)
	return found
}

// Cancelled reports whether Cancel has been called.
func (r *Routine) Cancelled() bool { return r.cancelled.Load() }

// Status returns the lifecycle state.
func (r *Routine) Status() schema.RoutineStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// RunID returns the current or last run's ID, "" before Run.
func (r *Routine) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Sequences returns a copy of the sequence list.
func (r *Routine) Sequences() []schema.ActionSequence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sequences)
}

func (r *Routine) String() string {
	if r.name != "" {
		return r.name
	}
	return fmt.Sprintf("id=%d", r.id)
}

// Parallel appends a parallel sequence built by fn.
func (r *Routine) Parallel(fn func(g *actions.Group)) error {
	return r.AddSequence(actions.Parallel(fn))
}

// Sequential appends a sequential sequence built by fn.
func (r *Routine) Sequential(fn func(g *actions.Group)) error {
	return r.AddSequence(actions.Sequential(fn))
}

// AddActions appends a predefined list of actions as one sequence.
func (r *Routine) AddActions(parallel bool, acts ...schema.Action) error {
	return r.AddSequence(schema.NewSequence(parallel, acts...))
}

// AddSequence appends seq. Sequences are frozen once Run starts.
func (r *Routine) AddSequence(seq schema.ActionSequence) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != schema.RoutineStatusUnregistered {
		return schema.NewErrorf(schema.ErrCodeConflict, "routine %s is %s, sequences are frozen", r, r.status).WithRoutine(r.id)
	}
	r.sequences = append(r.sequences, seq)
	return nil
}

// Cancel sets the cancellation flag and interrupts the in-flight sequence,
// if any. It does not wait for the routine to stop.
func (r *Routine) Cancel() {
	r.cancelled.Store(true)

	r.mu.Lock()
	interrupt := r.interrupt
	if r.status == schema.RoutineStatusRunning {
		r.setStatusLocked(context.Background(), schema.RoutineStatusCancelling, "")
	}
	r.mu.Unlock()

	if interrupt != nil {
		r.ctl.logger.Info("cancelling routine", "routine_id", r.id, "routine_name", r.name)
		interrupt()
	}
}

func (r *Routine) refLocked() RoutineRef {
	return RoutineRef{RunID: r.runID, RoutineID: r.id, Name: r.name}
}

// setStatusLocked moves the routine through the FSM. Event sink failures
// are logged; the transition still happens.
func (r *Routine) setStatusLocked(ctx context.Context, to schema.RoutineStatus, outcome schema.Outcome) bool {
	err := r.ctl.fsm.Transition(ctx, r.refLocked(), r.status, to, outcome)
	if err != nil && schema.HasCode(err, schema.ErrCodeInvalidTransition) {
		r.ctl.logger.ErrorContext(ctx, "routine transition rejected", "error", err)
		return false
	}
	if err != nil {
		r.ctl.logger.WarnContext(ctx, "routine event not recorded", "error", err)
	}
	r.status = to
	return true
}

// Run registers the routine, executes its sequences in order and
// unregisters it on every exit path. The cancellation flag is checked
// before each sequence. Cancellation yields outcome cancelled and a nil
// error; a failing sequence yields outcome failed and a ROUTINE_ERROR
// wrapping the action error. A routine runs at most once.
func (r *Routine) Run(ctx context.Context) (*RunResult, error) {
	run, err := r.register(ctx)
	if err != nil {
		return nil, err
	}
	return run.execute()
}

// activeRun is a registered routine that has not finished yet.
type activeRun struct {
	r         *Routine
	ctx       context.Context
	interrupt context.CancelFunc
	seqs      []schema.ActionSequence
	result    *RunResult
}

// register moves the routine to running and adds it to the registry, so
// cancellation reaches it even before its first sequence starts.
func (r *Routine) register(ctx context.Context) (*activeRun, error) {
	r.mu.Lock()
	if r.status != schema.RoutineStatusUnregistered {
		r.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "routine %s has already run", r).WithRoutine(r.id)
	}
	runCtx, interrupt := context.WithCancel(ctx)
	r.runID = uuid.NewString()
	runCtx = logging.WithRoutine(runCtx, r.id, r.name, r.runID)
	r.interrupt = interrupt
	seqs := slices.Clone(r.sequences)
	r.setStatusLocked(runCtx, schema.RoutineStatusRunning, "")
	runID := r.runID
	r.mu.Unlock()

	if regErr := r.ctl.registry.Register(r); regErr != nil {
		r.mu.Lock()
		r.setStatusLocked(runCtx, schema.RoutineStatusDone, schema.OutcomeFailed)
		r.interrupt = nil
		r.mu.Unlock()
		interrupt()
		return nil, regErr
	}

	result := &RunResult{
		RunID:          runID,
		RoutineID:      r.id,
		Name:           r.name,
		Categories:     slices.Clone(r.categories),
		SequencesTotal: len(seqs),
		StartedAt:      time.Now().UTC(),
	}
	r.ctl.recordRunStart(runCtx, result)
	r.ctl.logger.InfoContext(runCtx, "routine started", "sequences", len(seqs), "categories", r.categories)

	return &activeRun{r: r, ctx: runCtx, interrupt: interrupt, seqs: seqs, result: result}, nil
}

func (a *activeRun) execute() (result *RunResult, err error) {
	r := a.r
	result = a.result
	defer a.interrupt()
	defer func() {
		if p := recover(); p != nil {
			result.Outcome = schema.OutcomeFailed
			err = schema.NewErrorf(schema.ErrCodeRoutine, "routine %s panicked: %v", r, p).WithRoutine(r.id)
		}
		r.ctl.registry.Unregister(r)
		r.complete(context.WithoutCancel(a.ctx), result, err)
	}()

	err = r.execute(a.ctx, a.seqs, result)
	return result, err
}

// abandon finishes a registered run that never executed.
func (a *activeRun) abandon(cause error) {
	defer a.interrupt()
	a.r.ctl.registry.Unregister(a.r)
	a.result.Outcome = schema.OutcomeFailed
	a.r.complete(context.WithoutCancel(a.ctx), a.result, cause)
}

func (r *Routine) execute(ctx context.Context, seqs []schema.ActionSequence, result *RunResult) error {
	ref := RoutineRef{RunID: result.RunID, RoutineID: r.id, Name: r.name}
	result.Outcome = schema.OutcomeCompleted

	for i, seq := range seqs {
		if r.cancelled.Load() || ctx.Err() != nil {
			result.Outcome = schema.OutcomeCancelled
			return nil
		}
		r.ctl.logger.DebugContext(ctx, "executing sequence", "index", i, "mode", seq.Mode(), "actions", seq.Len())
		r.emit(ctx, ref, schema.EventSequenceStarted, i, map[string]any{"mode": seq.Mode(), "actions": seq.Len()})

		if err := r.ctl.sequencer.ExecuteSequence(ctx, seq); err != nil {
			if IsCancelled(err) && (r.cancelled.Load() || ctx.Err() != nil) {
				result.Outcome = schema.OutcomeCancelled
				return nil
			}
			result.Outcome = schema.OutcomeFailed
			return schema.NewErrorf(schema.ErrCodeRoutine, "sequence %d failed: %s", i, err.Error()).
				WithRoutine(r.id).
				WithCause(err).
				WithDetails(map[string]any{"sequence": i, "run_id": result.RunID})
		}
		result.SequencesExecuted++
		r.emit(ctx, ref, schema.EventSequenceCompleted, i, nil)
	}
	return nil
}

func (r *Routine) emit(ctx context.Context, ref RoutineRef, eventType string, seq int, payload map[string]any) {
	if err := r.ctl.fsm.Emit(ctx, ref, eventType, seq, payload); err != nil {
		r.ctl.logger.WarnContext(ctx, "routine event not recorded", "event", eventType, "error", err)
	}
}

func (r *Routine) complete(ctx context.Context, result *RunResult, err error) {
	result.CompletedAt = time.Now().UTC()
	if err != nil {
		result.Error = err.Error()
		if result.Outcome == "" || result.Outcome == schema.OutcomeCompleted {
			result.Outcome = schema.OutcomeFailed
		}
	}

	r.mu.Lock()
	r.setStatusLocked(ctx, schema.RoutineStatusDone, result.Outcome)
	r.interrupt = nil
	r.mu.Unlock()

	r.ctl.recordRunEnd(ctx, result)

	switch result.Outcome {
	case schema.OutcomeFailed:
		r.ctl.logger.ErrorContext(ctx, "routine failed", "error", err, "sequences_executed", result.SequencesExecuted)
	case schema.OutcomeCancelled:
		r.ctl.logger.InfoContext(ctx, "routine cancelled", "sequences_executed", result.SequencesExecuted)
	default:
		r.ctl.logger.InfoContext(ctx, "routine completed", "duration", result.Duration())
	}
}
