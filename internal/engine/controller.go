package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rendis/dsmacro/internal/device"
	"github.com/rendis/dsmacro/internal/expressions"
	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/internal/streaming"
	"github.com/rendis/dsmacro/pkg/schema"
)

// Mouse defaults.
const (
	DefaultPixelsPerDegree = 32.5
	DefaultStepsPerSecond  = 60.0
	DefaultPoolSize        = 4
)

// DefaultKeys is the logical-to-physical key mapping used when none is configured.
func DefaultKeys() map[string]string {
	return map[string]string{
		"forward":    "w",
		"backward":   "s",
		"left":       "a",
		"right":      "d",
		"up":         "Up",
		"down":       "Down",
		"sprint":     "shift",
		"crouch":     "c",
		"jump":       "space",
		"walk":       "ctrl",
		"attack":     "v",
		"action":     "f",
		"reload":     "r",
		"ammo":       "z",
		"breath":     "alt",
		"carry":      "e",
		"cargo":      "i",
		"cuff":       "Tab",
		"tool":       "1",
		"function":   "2",
		"item":       "3",
		"equipment":  "4",
		"compass":    "g",
		"scan":       "q",
		"like":       "5",
		"photo":      "F8",
		"photo_mode": "p",
		"esc":        "escape",
	}
}

// DefaultButtons maps mouse buttons to X11 button numbers.
func DefaultButtons() map[schema.MouseButton]int {
	return map[schema.MouseButton]int{
		schema.MouseLeft:   1,
		schema.MouseMiddle: 2,
		schema.MouseRight:  3,
	}
}

// RunRecorder persists run history. Satisfied by the Store.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
}

// Config configures a Controller. Only Driver is commonly set; every
// other field has a default and the sinks are optional.
type Config struct {
	Driver          device.Driver
	Keys            map[string]string
	Buttons         map[schema.MouseButton]int
	PixelsPerDegree float64
	StepsPerSecond  float64
	// PoolSize bounds concurrent background runs started with Start.
	PoolSize int
	Events   EventAppender
	Runs     RunRecorder
	Hub      streaming.EventHub
	Logger   *slog.Logger
}

// Controller is the long-lived orchestrator. It owns the held-input state,
// the registry and the device driver, and creates every routine. Construct
// one per process and pass it explicitly.
type Controller struct {
	logger    *slog.Logger
	driver    device.Driver
	held      *HeldState
	pointer   *Pointer
	sequencer *Sequencer
	registry  *Registry
	fsm       *RoutineFSM
	runs      RunRecorder
	pool      *WorkerPool
	cel       *expressions.CELEngine
	expr      *expressions.ExprEngine

	nextID atomic.Int64
}

// NewController creates a Controller and reads the initial pointer
// position from the driver. A failed read is logged and leaves (0, 0).
func NewController(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Driver == nil {
		cfg.Driver = device.NewSimulated()
	}
	if cfg.Keys == nil {
		cfg.Keys = DefaultKeys()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "selector engine: %s", err.Error()).WithCause(err)
	}

	c := &Controller{
		logger:   cfg.Logger,
		driver:   cfg.Driver,
		held:     NewHeldState(),
		pointer:  &Pointer{},
		registry: NewRegistry(),
		fsm:      NewRoutineFSM(cfg.Events, cfg.Hub),
		runs:     cfg.Runs,
		pool:     NewWorkerPool(cfg.PoolSize),
		cel:      cel,
		expr:     expressions.NewExprEngine(),
	}
	c.sequencer = NewSequencer(SequencerConfig{
		Driver:          cfg.Driver,
		Held:            c.held,
		Keys:            cfg.Keys,
		Buttons:         cfg.Buttons,
		PixelsPerDegree: cfg.PixelsPerDegree,
		StepsPerSecond:  cfg.StepsPerSecond,
		Pointer:         c.pointer,
		Logger:          cfg.Logger,
	})

	if x, y, err := cfg.Driver.PointerPosition(ctx); err != nil {
		c.logger.WarnContext(ctx, "could not read initial pointer position", "error", err)
	} else {
		c.pointer.Set(x, y)
	}
	x, y := c.pointer.Position()
	c.logger.InfoContext(ctx, "controller initialized", "x", x, "y", y)
	return c, nil
}

// CreateRoutine allocates the next id and returns an unregistered routine.
func (c *Controller) CreateRoutine(name string, categories ...string) *Routine {
	id := c.nextID.Add(1)
	r := newRoutine(c, id, name, categories)
	c.logger.Debug("routine created", "routine_id", id, "routine_name", name, "categories", r.categories)
	return r
}

func (c *Controller) Registry() *Registry   { return c.registry }
func (c *Controller) Held() *HeldState      { return c.held }
func (c *Controller) Sequencer() *Sequencer { return c.sequencer }
func (c *Controller) FSM() *RoutineFSM      { return c.fsm }
func (c *Controller) Position() (x, y int)  { return c.pointer.Position() }
func (c *Controller) Metrics() PoolMetrics  { return c.pool.Metrics() }
func (c *Controller) Logger() *slog.Logger  { return c.logger }

// CancelByID cancels one routine. See Registry.CancelByID.
func (c *Controller) CancelByID(id int64) bool { return c.registry.CancelByID(id) }

// CancelByName cancels every routine named name.
func (c *Controller) CancelByName(name string) bool { return c.registry.CancelByName(name) }

// CancelCategory cancels every routine in category.
func (c *Controller) CancelCategory(category string) bool {
	return c.registry.CancelCategory(category)
}

// CancelAllExcept cancels every routine outside the exempt categories.
func (c *Controller) CancelAllExcept(exempt ...string) int {
	return c.registry.CancelAllExcept(exempt...)
}

// CancelMatching cancels every live routine for which the CEL selector is
// true and returns how many were cancelled.
func (c *Controller) CancelMatching(ctx context.Context, expression string) (int, error) {
	return c.CancelMatchingWith(ctx, "cel", expression)
}

// CancelMatchingWith is CancelMatching with an explicit selector engine,
// "cel" or "expr". Evaluation failures for one routine skip it.
func (c *Controller) CancelMatchingWith(ctx context.Context, engine, expression string) (int, error) {
	eng, err := expressions.ByName(engine, c.cel, c.expr)
	if err != nil {
		return 0, err
	}
	if err := eng.Compile(expression); err != nil {
		return 0, err
	}

	var firstErr error
	n := c.registry.CancelWhere(func(r *Routine) bool {
		ok, err := expressions.Match(ctx, eng, expression, map[string]any{"routine": r.selectorData()})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.WarnContext(ctx, "selector failed", "routine_id", r.id, "error", err)
			return false
		}
		return ok
	})
	if n == 0 && firstErr != nil && schema.HasCode(firstErr, schema.ErrCodeValidation) {
		return 0, firstErr
	}
	return n, nil
}

func (r *Routine) selectorData() map[string]any {
	return map[string]any{
		"id":         r.id,
		"name":       r.name,
		"categories": r.Categories(),
		"status":     string(r.Status()),
	}
}

// Handle tracks a routine started in the background.
type Handle struct {
	routine *Routine
	done    chan struct{}
	result  *RunResult
	err     error
}

// Routine returns the running routine.
func (h *Handle) Routine() *Routine { return h.routine }

// Done is closed when the run finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*RunResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start registers r and runs it on the background pool. It blocks while
// the pool is full. Once Start returns, r is visible to the registry and
// to EmergencyStop. The run is detached from ctx's cancellation but keeps
// its values; stop it with Cancel, the registry or EmergencyStop.
func (c *Controller) Start(ctx context.Context, r *Routine) (*Handle, error) {
	run, err := r.register(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	h := &Handle{routine: r, done: make(chan struct{})}
	err = c.pool.Submit(ctx, func(_ context.Context) error {
		defer close(h.done)
		h.result, h.err = run.execute()
		if h.err == nil && h.result != nil && h.result.Outcome == schema.OutcomeCancelled {
			return schema.NewError(schema.ErrCodeCancelled, "routine cancelled")
		}
		return h.err
	})
	if err != nil {
		startErr := schema.NewErrorf(schema.ErrCodeRoutine, "start routine %s: %s", r, err.Error()).
			WithRoutine(r.id).WithCause(err)
		run.abandon(startErr)
		return nil, startErr
	}
	return h, nil
}

// Shutdown cancels every live routine, stops accepting background work
// and waits for background runs to finish.
func (c *Controller) Shutdown() {
	c.registry.CancelAll()
	c.pool.Shutdown()
}

// RoutineInfo is the inspection view of a live routine.
type RoutineInfo struct {
	ID         int64                `json:"id"`
	Name       string               `json:"name,omitempty"`
	Categories []string             `json:"categories,omitempty"`
	Status     schema.RoutineStatus `json:"status"`
	Cancelled  bool                 `json:"cancelled"`
	RunID      string               `json:"run_id,omitempty"`
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Routines    []RoutineInfo        `json:"routines"`
	HeldKeys    []string             `json:"held_keys"`
	HeldButtons []schema.MouseButton `json:"held_buttons"`
	PointerX    int                  `json:"pointer_x"`
	PointerY    int                  `json:"pointer_y"`
	Pool        PoolMetrics          `json:"pool"`
}

// Snapshot returns live routines, held inputs and the tracked pointer.
func (c *Controller) Snapshot() Snapshot {
	live := c.registry.Routines()
	infos := make([]RoutineInfo, 0, len(live))
	for _, r := range live {
		infos = append(infos, RoutineInfo{
			ID:         r.id,
			Name:       r.name,
			Categories: r.Categories(),
			Status:     r.Status(),
			Cancelled:  r.Cancelled(),
			RunID:      r.RunID(),
		})
	}
	x, y := c.pointer.Position()
	return Snapshot{
		Routines:    infos,
		HeldKeys:    c.held.Keys(),
		HeldButtons: c.held.Buttons(),
		PointerX:    x,
		PointerY:    y,
		Pool:        c.pool.Metrics(),
	}
}

func (c *Controller) recordRunStart(ctx context.Context, res *RunResult) {
	if c.runs == nil {
		return
	}
	run := &store.Run{
		ID:             res.RunID,
		RoutineID:      res.RoutineID,
		RoutineName:    res.Name,
		Categories:     res.Categories,
		Status:         string(schema.RoutineStatusRunning),
		SequencesTotal: res.SequencesTotal,
		StartedAt:      res.StartedAt,
	}
	if err := c.runs.CreateRun(ctx, run); err != nil {
		c.logger.WarnContext(ctx, "run history not recorded", "error", err)
	}
}

func (c *Controller) recordRunEnd(ctx context.Context, res *RunResult) {
	if c.runs == nil {
		return
	}
	executed := res.SequencesExecuted
	completed := res.CompletedAt
	update := store.RunUpdate{
		Status:            string(schema.RoutineStatusDone),
		Outcome:           res.Outcome,
		SequencesExecuted: &executed,
		CompletedAt:       &completed,
	}
	if res.Error != "" {
		update.Error, _ = json.Marshal(map[string]string{"message": res.Error})
	}
	if err := c.runs.UpdateRun(ctx, res.RunID, update); err != nil {
		c.logger.WarnContext(ctx, "run history not updated", "error", err)
	}
}

// Pointer is the tracked pointer position, accumulated from relative moves.
type Pointer struct {
	mu   sync.Mutex
	x, y int
}

func (p *Pointer) Set(x, y int) {
	p.mu.Lock()
	p.x, p.y = x, y
	p.mu.Unlock()
}

func (p *Pointer) Move(dx, dy int) {
	p.mu.Lock()
	p.x += dx
	p.y += dy
	p.mu.Unlock()
}

func (p *Pointer) Position() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x, p.y
}
