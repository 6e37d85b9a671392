package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/internal/streaming"
	"github.com/rendis/dsmacro/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store; used by the FSM to log events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// RoutineRef identifies one run of a routine in emitted events.
type RoutineRef struct {
	RunID     string
	RoutineID int64
	Name      string
}

type routineHookKey struct {
	from, to schema.RoutineStatus
}

// RoutineFSM validates routine lifecycle transitions and emits the matching
// events to the event log and the live hub. Both sinks are optional.
type RoutineFSM struct {
	mu       sync.Mutex
	appender EventAppender
	hub      streaming.EventHub
	before   map[routineHookKey][]TransitionHook
	after    map[routineHookKey][]TransitionHook
}

// NewRoutineFSM creates a RoutineFSM. Either sink may be nil.
func NewRoutineFSM(appender EventAppender, hub streaming.EventHub) *RoutineFSM {
	return &RoutineFSM{
		appender: appender,
		hub:      hub,
		before:   make(map[routineHookKey][]TransitionHook),
		after:    make(map[routineHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a routine transition.
func (f *RoutineFSM) OnBefore(from, to schema.RoutineStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := routineHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a routine transition.
func (f *RoutineFSM) OnAfter(from, to schema.RoutineStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := routineHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a routine state transition and emits its event.
// outcome selects the event for the Done edge. An INVALID_TRANSITION
// error means nothing happened; a STORE_ERROR means the transition is
// valid but its event was not persisted.
func (f *RoutineFSM) Transition(ctx context.Context, ref RoutineRef, from, to schema.RoutineStatus, outcome schema.Outcome) error {
	if !IsValidRoutineTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid routine transition: %s -> %s", from, to).
			WithRoutine(ref.RoutineID).
			WithDetails(map[string]any{"run_id": ref.RunID, "from": string(from), "to": string(to)})
	}

	key := routineHookKey{from, to}
	f.mu.Lock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	var emitErr error
	if eventType := routineEventType(to, outcome); eventType != "" {
		emitErr = f.Emit(ctx, ref, eventType, -1, map[string]any{"from": string(from), "to": string(to)})
	}

	for _, hook := range after {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return emitErr
}

// Emit publishes an event outside any transition. sequence is the index
// of the related sequence, -1 for none.
func (f *RoutineFSM) Emit(ctx context.Context, ref RoutineRef, eventType string, sequence int, payload map[string]any) error {
	if f.hub != nil {
		_ = f.hub.Publish(ctx, streaming.StreamEvent{
			RunID:       ref.RunID,
			RoutineID:   ref.RoutineID,
			RoutineName: ref.Name,
			EventType:   eventType,
			Payload:     payload,
		})
	}
	if f.appender == nil {
		return nil
	}

	event := &store.Event{
		RunID:     ref.RunID,
		RoutineID: ref.RoutineID,
		Type:      eventType,
	}
	if sequence >= 0 {
		event.SequenceIndex = &sequence
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			event.Payload = raw
		}
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", eventType, err.Error()).
			WithRoutine(ref.RoutineID).WithCause(err)
	}
	return nil
}

// IsValidRoutineTransition reports whether from -> to is allowed.
func IsValidRoutineTransition(from, to schema.RoutineStatus) bool {
	return slices.Contains(ValidRoutineTransitions[from], to)
}

func routineEventType(to schema.RoutineStatus, outcome schema.Outcome) string {
	switch to {
	case schema.RoutineStatusRunning:
		return schema.EventRoutineStarted
	case schema.RoutineStatusCancelling:
		return schema.EventRoutineCancelling
	case schema.RoutineStatusDone:
		switch outcome {
		case schema.OutcomeCancelled:
			return schema.EventRoutineCancelled
		case schema.OutcomeFailed:
			return schema.EventRoutineFailed
		default:
			return schema.EventRoutineCompleted
		}
	default:
		return ""
	}
}

// ValidRoutineTransitions defines the allowed state transitions for routines.
var ValidRoutineTransitions = map[schema.RoutineStatus][]schema.RoutineStatus{
	schema.RoutineStatusUnregistered: {schema.RoutineStatusRunning},
	schema.RoutineStatusRunning:      {schema.RoutineStatusCancelling, schema.RoutineStatusDone},
	schema.RoutineStatusCancelling:   {schema.RoutineStatusDone},
	schema.RoutineStatusDone:         {},
}
