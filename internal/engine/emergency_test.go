package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dsmacro/internal/device"
	"github.com/rendis/dsmacro/internal/streaming"
	"github.com/rendis/dsmacro/pkg/schema"
)

func TestEmergencyStop_RejectedReleaseStillClearsState(t *testing.T) {
	drv := newRecordingDriver()
	c := newTestController(t, drv)
	c.Held().PressKey("w")
	c.Held().PressKey("shift")
	drv.failOn("key_up w", rejected("keyup"))

	var report EmergencyReport
	require.NotPanics(t, func() { report = c.EmergencyStop(context.Background()) })

	assert.True(t, c.Held().Empty())
	assert.ElementsMatch(t, []string{"w", "shift"}, report.ReleasedKeys)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "key w")
	assert.Contains(t, drv.Ops(), "key_up shift")
}

func TestEmergencyStop_CancelsEveryRoutine(t *testing.T) {
	drv := newRecordingDriver()
	c := newTestController(t, drv)

	a, ha := startLong(t, c, "a", "scan")
	b, hb := startLong(t, c, "b", "move")
	waitRegistered(t, c, 2)

	report := c.EmergencyStop(context.Background())
	assert.Equal(t, 2, report.Cancelled)
	assert.True(t, a.Cancelled())
	assert.True(t, b.Cancelled())

	<-ha.Done()
	<-hb.Done()
	assert.Equal(t, 0, c.Registry().Len())
}

func TestEmergencyStop_TotalDeviceFailure(t *testing.T) {
	drv := newRecordingDriver()
	drv.failOn("key_up", errors.New("transport down"))
	drv.failOn("mouse_up", errors.New("transport down"))
	c := newTestController(t, drv, func(cfg *Config) {
		cfg.Buttons = map[schema.MouseButton]int{schema.MouseLeft: 1}
	})

	c.Held().PressKey("a")
	c.Held().PressButton(schema.MouseLeft)
	// unmapped button: release cannot even be attempted
	c.Held().PressButton(schema.MouseMiddle)

	report := c.EmergencyStop(context.Background())
	assert.True(t, c.Held().Empty())
	assert.Len(t, report.Failures, 3)
	assert.ElementsMatch(t, []schema.MouseButton{schema.MouseLeft, schema.MouseMiddle}, report.ReleasedButtons)
}

func TestEmergencyStop_SimulatedDriverIsQuiet(t *testing.T) {
	c := newTestController(t, device.NewSimulated())
	c.Held().PressKey("w")

	report := c.EmergencyStop(context.Background())
	assert.Empty(t, report.Failures)
	assert.True(t, c.Held().Empty())
}

func TestEmergencyStop_PublishesEvent(t *testing.T) {
	hub := streaming.NewMemoryHub()
	app := &mockAppender{}
	c := newTestController(t, newRecordingDriver(), func(cfg *Config) {
		cfg.Hub = hub
		cfg.Events = app
	})

	ch, unsubscribe, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventEmergencyStop},
	})
	require.NoError(t, err)
	defer unsubscribe()

	c.EmergencyStop(context.Background())

	ev := <-ch
	assert.Equal(t, schema.EventEmergencyStop, ev.EventType)
	assert.Contains(t, app.Types(), schema.EventEmergencyStop)
}

func TestEmergencyStop_EmptyStateIsNoop(t *testing.T) {
	drv := newRecordingDriver()
	c := newTestController(t, drv)

	report := c.EmergencyStop(context.Background())
	assert.Zero(t, report.Cancelled)
	assert.Empty(t, report.ReleasedKeys)
	assert.Empty(t, drv.Ops())
}

func TestEmergencyStop_ReleasesKeyPressedDuringStop(t *testing.T) {
	drv := newGatedDriver()
	c := newTestController(t, drv)

	r := c.CreateRoutine("walk")
	require.NoError(t, r.AddActions(false, schema.KeyPress{Key: "w"}))
	require.NoError(t, r.AddActions(false, schema.KeyRelease{Key: "w"}))
	h, err := c.Start(context.Background(), r)
	require.NoError(t, err)
	<-drv.entered

	c.EmergencyStop(context.Background())
	close(drv.gate)

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCancelled, res.Outcome)
	assert.True(t, c.Held().Empty())
	assert.Equal(t, []string{"key_down w", "key_up w"}, drv.Ops())
}

func TestEmergencyStop_ReleasesButtonPressedDuringStop(t *testing.T) {
	drv := newGatedDriver()
	c := newTestController(t, drv, func(cfg *Config) {
		cfg.Buttons = map[schema.MouseButton]int{schema.MouseLeft: 1}
	})

	r := c.CreateRoutine("fire")
	require.NoError(t, r.AddActions(false, schema.MousePress{Button: schema.MouseLeft}))
	require.NoError(t, r.AddActions(false, schema.MouseRelease{Button: schema.MouseLeft}))
	h, err := c.Start(context.Background(), r)
	require.NoError(t, err)
	<-drv.entered

	c.EmergencyStop(context.Background())
	close(drv.gate)

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCancelled, res.Outcome)
	assert.True(t, c.Held().Empty())
	assert.Equal(t, []string{"mouse_down 1", "mouse_up 1"}, drv.Ops())
}

func TestEmergencyStop_CancelsJustStartedRoutines(t *testing.T) {
	drv := newRecordingDriver()
	c := newTestController(t, drv)

	for i := 0; i < 50; i++ {
		r := c.CreateRoutine("tap")
		require.NoError(t, r.AddActions(false, schema.KeyTap{Key: "x", Duration: 20 * time.Millisecond}))
		h, err := c.Start(context.Background(), r)
		require.NoError(t, err)

		report := c.EmergencyStop(context.Background())
		assert.Equal(t, 1, report.Cancelled)

		res, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, schema.OutcomeCancelled, res.Outcome, "run %d", i)
	}
	assert.True(t, c.Held().Empty())
	assert.Equal(t, 0, c.Registry().Len())
}

func TestHeldState_ClearRefusesStalePress(t *testing.T) {
	h := NewHeldState()
	h.PressKey("a")
	gen := h.Generation()

	keys, buttons := h.Clear()
	assert.Equal(t, []string{"a"}, keys)
	assert.Empty(t, buttons)
	assert.NotEqual(t, gen, h.Generation())

	assert.False(t, h.PressKeyIn(gen, "w"))
	assert.False(t, h.PressButtonIn(gen, schema.MouseLeft))
	assert.True(t, h.Empty())

	assert.True(t, h.PressKeyIn(h.Generation(), "w"))
	assert.True(t, h.KeyHeld("w"))
}
