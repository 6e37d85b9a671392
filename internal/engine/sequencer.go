package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rendis/dsmacro/internal/device"
	"github.com/rendis/dsmacro/pkg/schema"
)

// SequencerConfig configures a Sequencer.
type SequencerConfig struct {
	Driver device.Driver
	Held   *HeldState
	// Keys maps logical key names to physical keys. Unmapped names pass through.
	Keys map[string]string
	// Buttons maps mouse buttons to driver button IDs.
	Buttons         map[schema.MouseButton]int
	PixelsPerDegree float64
	StepsPerSecond  float64
	Pointer         *Pointer
	Logger          *slog.Logger
}

// Sequencer executes action sequences against the device driver.
type Sequencer struct {
	driver  device.Driver
	held    *HeldState
	keys    map[string]string
	buttons map[schema.MouseButton]int
	ppd     float64
	sps     float64
	pointer *Pointer
	logger  *slog.Logger
}

// NewSequencer creates a Sequencer. Missing mouse settings fall back to
// 32.5 pixels per degree and 60 steps per second.
func NewSequencer(cfg SequencerConfig) *Sequencer {
	if cfg.Driver == nil {
		cfg.Driver = device.NewSimulated()
	}
	if cfg.Held == nil {
		cfg.Held = NewHeldState()
	}
	if cfg.Buttons == nil {
		cfg.Buttons = DefaultButtons()
	}
	if cfg.PixelsPerDegree <= 0 {
		cfg.PixelsPerDegree = DefaultPixelsPerDegree
	}
	if cfg.StepsPerSecond <= 0 {
		cfg.StepsPerSecond = DefaultStepsPerSecond
	}
	if cfg.Pointer == nil {
		cfg.Pointer = &Pointer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sequencer{
		driver:  cfg.Driver,
		held:    cfg.Held,
		keys:    cfg.Keys,
		buttons: cfg.Buttons,
		ppd:     cfg.PixelsPerDegree,
		sps:     cfg.StepsPerSecond,
		pointer: cfg.Pointer,
		logger:  cfg.Logger,
	}
}

// ExecuteSequence runs seq. Sequential members run one at a time, each
// fully finishing (trailing hold included) before the next; the first
// failure aborts the rest. Parallel members have their first device call
// issued in list order before any member's timed remainder begins, then
// every member is awaited. The first failure in list order is returned as
// PARALLEL_EXECUTION_ERROR.
func (s *Sequencer) ExecuteSequence(ctx context.Context, seq schema.ActionSequence) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	if !seq.Parallel() {
		for i := 0; i < seq.Len(); i++ {
			if err := s.ExecuteAction(ctx, seq.At(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return s.executeParallel(ctx, seq)
}

func (s *Sequencer) executeParallel(ctx context.Context, seq schema.ActionSequence) error {
	n := seq.Len()
	errs := make([]error, n)
	rests := make([]func(context.Context) error, n)

	for i := 0; i < n; i++ {
		rests[i], errs[i] = s.begin(ctx, seq.At(i))
	}

	var wg sync.WaitGroup
	for i, rest := range rests {
		if errs[i] != nil || rest == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = rest(ctx)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	var first error
	var failed []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		s.logger.ErrorContext(ctx, "parallel member failed", "index", i, "type", string(seq.At(i).Type()), "error", err)
		if first == nil {
			first = err
		}
		failed = append(failed, string(seq.At(i).Type())+": "+err.Error())
	}
	if first == nil {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeParallel, "parallel sequence failed: %s", first.Error()).
		WithCause(first).
		WithDetails(map[string]any{"failures": failed})
}

// ExecuteAction runs one action to completion, trailing hold included.
func (s *Sequencer) ExecuteAction(ctx context.Context, a schema.Action) error {
	rest, err := s.begin(ctx, a)
	if err != nil {
		return err
	}
	if rest == nil {
		return nil
	}
	return rest(ctx)
}

// begin issues the action's first device call and returns the timed
// remainder, nil when there is none. Every action except wait ends with an
// extra hold of its own duration.
func (s *Sequencer) begin(ctx context.Context, a schema.Action) (func(context.Context) error, error) {
	if a == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "nil action")
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}
	s.logger.DebugContext(ctx, "action", "type", string(a.Type()), "duration", a.Hold())

	hold := func(ctx context.Context) error { return sleep(ctx, a.Hold()) }

	switch act := a.(type) {
	case schema.KeyPress:
		if err := s.keyDown(ctx, act.Key); err != nil {
			return nil, err
		}
		return s.holdOrNil(act.Duration, hold), nil

	case schema.KeyRelease:
		if err := s.keyUp(ctx, act.Key); err != nil {
			return nil, err
		}
		return s.holdOrNil(act.Duration, hold), nil

	case schema.KeyTap:
		if err := s.keyDown(ctx, act.Key); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			waitErr := sleep(ctx, act.Duration)
			if err := s.keyUp(context.WithoutCancel(ctx), act.Key); err != nil {
				return err
			}
			if waitErr != nil {
				return waitErr
			}
			return hold(ctx)
		}, nil

	case schema.Wait:
		return func(ctx context.Context) error { return sleep(ctx, act.Duration) }, nil

	case schema.Turn:
		return s.beginTurn(ctx, act, hold)

	case schema.MouseMove:
		if err := s.moveRelative(ctx, int(math.Round(act.DX)), int(math.Round(act.DY))); err != nil {
			return nil, err
		}
		return s.holdOrNil(act.Duration, hold), nil

	case schema.MousePress:
		if err := s.buttonDown(ctx, act.Button); err != nil {
			return nil, err
		}
		return s.holdOrNil(act.Duration, hold), nil

	case schema.MouseRelease:
		if err := s.buttonUp(ctx, act.Button); err != nil {
			return nil, err
		}
		return s.holdOrNil(act.Duration, hold), nil

	case schema.MouseClick:
		if err := s.buttonDown(ctx, act.Button); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			waitErr := sleep(ctx, act.Duration)
			if err := s.buttonUp(context.WithoutCancel(ctx), act.Button); err != nil {
				return err
			}
			if waitErr != nil {
				return waitErr
			}
			return hold(ctx)
		}, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported action type %q", a.Type())
}

func (s *Sequencer) holdOrNil(d time.Duration, hold func(context.Context) error) func(context.Context) error {
	if d <= 0 {
		return nil
	}
	return hold
}

func (s *Sequencer) beginTurn(ctx context.Context, act schema.Turn, hold func(context.Context) error) (func(context.Context) error, error) {
	plan, err := PlanTurn(act.Degrees, act.Duration, s.ppd, s.sps)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "turn", "degrees", act.Degrees, "steps", plan.Steps(), "pixels", plan.Total)

	if err := s.moveRelative(ctx, plan.Moves[0], 0); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := sleep(ctx, plan.Interval); err != nil {
			return err
		}
		for _, dx := range plan.Moves[1:] {
			if err := s.moveRelative(ctx, dx, 0); err != nil {
				return err
			}
			if err := sleep(ctx, plan.Interval); err != nil {
				return err
			}
		}
		return hold(ctx)
	}, nil
}

// PhysicalKey applies the key mapping.
func (s *Sequencer) PhysicalKey(key string) string {
	if phys, ok := s.keys[key]; ok && phys != "" {
		return phys
	}
	return key
}

func (s *Sequencer) buttonID(b schema.MouseButton) (int, error) {
	id, ok := s.buttons[b]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeConfiguration, "no driver button mapped for %q", b)
	}
	return id, nil
}

// Device calls never observe routine cancellation: a call already issued
// completes, and cancellation is seen at the next suspension point.
//
// Presses read the hold generation before checking cancellation. An
// emergency stop cancels routines and then clears held state, so a press
// either sees the cancellation or lands in a generation the stop has
// already swept; one that finishes after the sweep is undone on the device.

func (s *Sequencer) keyDown(ctx context.Context, key string) error {
	gen := s.held.Generation()
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	phys := s.PhysicalKey(key)
	if err := s.deliver(ctx, "key_down", phys, s.driver.KeyDown(context.WithoutCancel(ctx), phys)); err != nil {
		return classify(schema.ErrCodeKeyboard, "key_down", key, err)
	}
	if !s.held.PressKeyIn(gen, key) {
		s.logger.WarnContext(ctx, "press overtaken by emergency stop, releasing", "key", key)
		if err := s.deliver(ctx, "key_up", phys, s.driver.KeyUp(context.WithoutCancel(ctx), phys)); err != nil {
			s.logger.ErrorContext(ctx, "release after emergency stop failed", "key", key, "error", err)
		}
		return cancelled(ctx)
	}
	return nil
}

func (s *Sequencer) keyUp(ctx context.Context, key string) error {
	phys := s.PhysicalKey(key)
	if err := s.deliver(ctx, "key_up", phys, s.driver.KeyUp(context.WithoutCancel(ctx), phys)); err != nil {
		return classify(schema.ErrCodeKeyboard, "key_up", key, err)
	}
	s.held.ReleaseKey(key)
	return nil
}

func (s *Sequencer) buttonDown(ctx context.Context, b schema.MouseButton) error {
	id, err := s.buttonID(b)
	if err != nil {
		return err
	}
	gen := s.held.Generation()
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	if err := s.deliver(ctx, "mouse_down", string(b), s.driver.MouseButtonDown(context.WithoutCancel(ctx), id)); err != nil {
		return classify(schema.ErrCodeMouse, "mouse_down", string(b), err)
	}
	if !s.held.PressButtonIn(gen, b) {
		s.logger.WarnContext(ctx, "press overtaken by emergency stop, releasing", "button", string(b))
		if err := s.deliver(ctx, "mouse_up", string(b), s.driver.MouseButtonUp(context.WithoutCancel(ctx), id)); err != nil {
			s.logger.ErrorContext(ctx, "release after emergency stop failed", "button", string(b), "error", err)
		}
		return cancelled(ctx)
	}
	return nil
}

func (s *Sequencer) buttonUp(ctx context.Context, b schema.MouseButton) error {
	id, err := s.buttonID(b)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, "mouse_up", string(b), s.driver.MouseButtonUp(context.WithoutCancel(ctx), id)); err != nil {
		return classify(schema.ErrCodeMouse, "mouse_up", string(b), err)
	}
	s.held.ReleaseButton(b)
	return nil
}

func (s *Sequencer) moveRelative(ctx context.Context, dx, dy int) error {
	if err := s.deliver(ctx, "mouse_move", "", s.driver.MouseMoveRelative(context.WithoutCancel(ctx), dx, dy)); err != nil {
		return classify(schema.ErrCodeMouse, "mouse_move", "", err)
	}
	s.pointer.Move(dx, dy)
	return nil
}

// deliver turns an unavailable driver into a simulated success.
func (s *Sequencer) deliver(ctx context.Context, op, target string, err error) error {
	if err == nil {
		return nil
	}
	if device.IsUnavailable(err) {
		if _, sim := s.driver.(*device.Simulated); sim {
			s.logger.DebugContext(ctx, "simulated", "op", op, "target", target)
		} else {
			s.logger.WarnContext(ctx, "driver unavailable, simulating", "op", op, "target", target)
		}
		return nil
	}
	return err
}

// classify maps a driver error to the action error taxonomy: rejections
// carry the keyboard or mouse code, anything else is a transport failure.
func classify(code, op, target string, err error) error {
	if !device.IsRejected(err) {
		code = schema.ErrCodeDriver
	}
	msg := op
	if target != "" {
		msg += " " + target
	}
	return schema.NewErrorf(code, "%s: %s", msg, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"op": op, "target": target})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

func cancelled(ctx context.Context) error {
	return schema.NewError(schema.ErrCodeCancelled, "interrupted").WithCause(context.Cause(ctx))
}

// IsCancelled reports whether err is a cancellation interrupt.
func IsCancelled(err error) bool {
	return schema.HasCode(err, schema.ErrCodeCancelled) || errors.Is(err, context.Canceled)
}
