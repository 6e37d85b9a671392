package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/pkg/schema"
)

// failAppender always returns an error.
type failAppender struct{}

func (failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

func TestRoutineFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRoutineFSM(app, nil)
	ctx := context.Background()
	ref := RoutineRef{RunID: "run-1", RoutineID: 1, Name: "r"}

	require.NoError(t, fsm.Transition(ctx, ref, schema.RoutineStatusUnregistered, schema.RoutineStatusRunning, ""))
	require.NoError(t, fsm.Transition(ctx, ref, schema.RoutineStatusRunning, schema.RoutineStatusCancelling, ""))
	require.NoError(t, fsm.Transition(ctx, ref, schema.RoutineStatusCancelling, schema.RoutineStatusDone, schema.OutcomeCancelled))

	assert.Equal(t, []string{
		schema.EventRoutineStarted,
		schema.EventRoutineCancelling,
		schema.EventRoutineCancelled,
	}, app.Types())
	assert.Equal(t, "run-1", app.events[0].RunID)
	assert.Nil(t, app.events[0].SequenceIndex)
}

func TestRoutineFSM_InvalidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRoutineFSM(app, nil)
	ctx := context.Background()

	cases := [][2]schema.RoutineStatus{
		{schema.RoutineStatusUnregistered, schema.RoutineStatusDone},
		{schema.RoutineStatusDone, schema.RoutineStatusRunning},
		{schema.RoutineStatusCancelling, schema.RoutineStatusRunning},
		{schema.RoutineStatusRunning, schema.RoutineStatusUnregistered},
	}
	for _, c := range cases {
		err := fsm.Transition(ctx, RoutineRef{RoutineID: 7}, c[0], c[1], "")
		assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err), "%s -> %s", c[0], c[1])
	}
	assert.Empty(t, app.Types())
}

func TestRoutineFSM_DoneEventFollowsOutcome(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRoutineFSM(app, nil)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, RoutineRef{}, schema.RoutineStatusRunning, schema.RoutineStatusDone, schema.OutcomeFailed))
	require.NoError(t, fsm.Transition(ctx, RoutineRef{}, schema.RoutineStatusRunning, schema.RoutineStatusDone, schema.OutcomeCompleted))
	assert.Equal(t, []string{schema.EventRoutineFailed, schema.EventRoutineCompleted}, app.Types())
}

func TestRoutineFSM_EventEmitFailure(t *testing.T) {
	fsm := NewRoutineFSM(failAppender{}, nil)

	err := fsm.Transition(context.Background(), RoutineRef{RoutineID: 3}, schema.RoutineStatusUnregistered, schema.RoutineStatusRunning, "")
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

func TestRoutineFSM_Hooks(t *testing.T) {
	fsm := NewRoutineFSM(nil, nil)
	var seen []string
	fsm.OnBefore(schema.RoutineStatusUnregistered, schema.RoutineStatusRunning, func(from, to string) error {
		seen = append(seen, "before "+from+"->"+to)
		return nil
	})
	fsm.OnAfter(schema.RoutineStatusUnregistered, schema.RoutineStatusRunning, func(from, to string) error {
		seen = append(seen, "after "+from+"->"+to)
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), RoutineRef{}, schema.RoutineStatusUnregistered, schema.RoutineStatusRunning, ""))
	assert.Equal(t, []string{"before unregistered->running", "after unregistered->running"}, seen)

	fsm.OnBefore(schema.RoutineStatusRunning, schema.RoutineStatusDone, func(string, string) error {
		return errors.New("veto")
	})
	assert.EqualError(t, fsm.Transition(context.Background(), RoutineRef{}, schema.RoutineStatusRunning, schema.RoutineStatusDone, ""), "veto")
}

func TestRoutineFSM_EmitSequenceIndex(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRoutineFSM(app, nil)

	require.NoError(t, fsm.Emit(context.Background(), RoutineRef{RunID: "r"}, schema.EventSequenceStarted, 2, map[string]any{"mode": "parallel"}))
	require.Len(t, app.events, 1)
	require.NotNil(t, app.events[0].SequenceIndex)
	assert.Equal(t, 2, *app.events[0].SequenceIndex)
	assert.JSONEq(t, `{"mode":"parallel"}`, string(app.events[0].Payload))
}

func TestRoutineTransitionTable_AllStatusesPresent(t *testing.T) {
	for _, s := range []schema.RoutineStatus{
		schema.RoutineStatusUnregistered,
		schema.RoutineStatusRunning,
		schema.RoutineStatusCancelling,
		schema.RoutineStatusDone,
	} {
		_, ok := ValidRoutineTransitions[s]
		assert.True(t, ok, "status %s missing from transition table", s)
	}
}
