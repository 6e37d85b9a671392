package engine

import (
	"context"
	"fmt"

	"github.com/rendis/dsmacro/internal/device"
	"github.com/rendis/dsmacro/pkg/schema"
)

// EmergencyReport summarizes one emergency stop.
type EmergencyReport struct {
	Cancelled       int                  `json:"cancelled"`
	ReleasedKeys    []string             `json:"released_keys"`
	ReleasedButtons []schema.MouseButton `json:"released_buttons"`
	// Failures lists device releases that did not confirm. The input is
	// dropped from held state regardless.
	Failures []string `json:"failures,omitempty"`
}

// EmergencyStop cancels every registered routine without waiting for it to
// stop, then clears held state and releases every key and mouse button it
// held. Held state is empty afterwards no matter what the device reports. It never panics and never
// returns an error.
func (c *Controller) EmergencyStop(ctx context.Context) (report EmergencyReport) {
	ctx = context.WithoutCancel(ctx)
	c.logger.WarnContext(ctx, "emergency stop")

	report.Cancelled = c.guard(ctx, &report, "cancel routines", func() int {
		return c.registry.CancelAll()
	})

	keys, buttons := c.held.Clear()
	for _, key := range keys {
		phys := c.sequencer.PhysicalKey(key)
		c.guard(ctx, &report, "release key "+key, func() int {
			if err := c.driver.KeyUp(ctx, phys); err != nil && !device.IsUnavailable(err) {
				c.releaseFailed(ctx, &report, "key "+key, err)
			}
			return 0
		})
		report.ReleasedKeys = append(report.ReleasedKeys, key)
	}

	for _, b := range buttons {
		c.guard(ctx, &report, "release button "+string(b), func() int {
			id, err := c.sequencer.buttonID(b)
			if err == nil {
				err = c.driver.MouseButtonUp(ctx, id)
			}
			if err != nil && !device.IsUnavailable(err) {
				c.releaseFailed(ctx, &report, "button "+string(b), err)
			}
			return 0
		})
		report.ReleasedButtons = append(report.ReleasedButtons, b)
	}

	c.guard(ctx, &report, "emit event", func() int {
		err := c.fsm.Emit(ctx, RoutineRef{}, schema.EventEmergencyStop, -1, map[string]any{
			"cancelled":        report.Cancelled,
			"released_keys":    report.ReleasedKeys,
			"released_buttons": report.ReleasedButtons,
			"failures":         len(report.Failures),
		})
		if err != nil {
			c.logger.WarnContext(ctx, "emergency stop event not recorded", "error", err)
		}
		return 0
	})

	c.logger.WarnContext(ctx, "emergency stop complete",
		"cancelled", report.Cancelled,
		"released_keys", len(report.ReleasedKeys),
		"released_buttons", len(report.ReleasedButtons),
		"failures", len(report.Failures))
	return report
}

func (c *Controller) releaseFailed(ctx context.Context, report *EmergencyReport, what string, err error) {
	c.logger.ErrorContext(ctx, "emergency release failed", "input", what, "error", err)
	report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", what, err))
}

// guard runs fn, turning a panic into a recorded failure.
func (c *Controller) guard(ctx context.Context, report *EmergencyReport, step string, fn func() int) (n int) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.ErrorContext(ctx, "emergency stop step panicked", "step", step, "panic", p)
			report.Failures = append(report.Failures, fmt.Sprintf("%s: panic: %v", step, p))
		}
	}()
	return fn()
}
