package actions

import (
	"time"

	"github.com/rendis/dsmacro/pkg/schema"
)

// Logical key names used by the patterns. The controller maps them to
// physical keys.
const (
	KeySprint = "sprint"
	KeyScan   = "scan"
	KeyCrouch = "crouch"
	KeyJump   = "jump"
	KeyReload = "reload"
	KeyAction = "action"
	KeyCargo  = "cargo"
	KeyEsc    = "esc"
)

const defaultShotDelay = 200 * time.Millisecond

func dir(d schema.MovementDirection) string { return string(d) }

// SprintForward runs forward with sprint held for d.
func SprintForward(d time.Duration) []schema.Action {
	return []schema.Action{
		schema.KeyPress{Key: dir(schema.DirectionForward)},
		schema.KeyPress{Key: KeySprint},
		schema.Wait{Duration: d},
		schema.KeyRelease{Key: KeySprint},
		schema.KeyRelease{Key: dir(schema.DirectionForward)},
	}
}

// ScanEnvironment pulses the scan key.
func ScanEnvironment() []schema.Action {
	return []schema.Action{
		schema.KeyPress{Key: KeyScan},
		schema.KeyRelease{Key: KeyScan},
	}
}

// StrafeLeft holds left for d.
func StrafeLeft(d time.Duration) []schema.Action {
	return holdDirection(schema.DirectionLeft, d)
}

// StrafeRight holds right for d.
func StrafeRight(d time.Duration) []schema.Action {
	return holdDirection(schema.DirectionRight, d)
}

// Backstep holds backward for d.
func Backstep(d time.Duration) []schema.Action {
	return holdDirection(schema.DirectionBackward, d)
}

func holdDirection(md schema.MovementDirection, d time.Duration) []schema.Action {
	return []schema.Action{
		schema.KeyPress{Key: dir(md)},
		schema.Wait{Duration: d},
		schema.KeyRelease{Key: dir(md)},
	}
}

// AimAndFire aims with the right button and fires shots left clicks,
// waiting delay between shots. A non-positive delay uses 200ms; fewer
// than one shot fires once.
func AimAndFire(shots int, delay time.Duration) []schema.Action {
	if shots < 1 {
		shots = 1
	}
	if delay <= 0 {
		delay = defaultShotDelay
	}
	out := []schema.Action{schema.MousePress{Button: schema.MouseRight}}
	for i := 0; i < shots; i++ {
		out = append(out, schema.MouseClick{Button: schema.MouseLeft, Duration: schema.DefaultClickDuration})
		if i < shots-1 {
			out = append(out, schema.Wait{Duration: delay})
		}
	}
	return append(out, schema.MouseRelease{Button: schema.MouseRight})
}

// CrouchToggle taps crouch.
func CrouchToggle() []schema.Action { return tap(KeyCrouch, schema.DefaultTapDuration) }

// Jump taps jump.
func Jump() []schema.Action { return tap(KeyJump, schema.DefaultTapDuration) }

// Reload taps reload.
func Reload() []schema.Action { return tap(KeyReload, schema.DefaultTapDuration) }

// Interact holds the action key for half a second.
func Interact() []schema.Action { return tap(KeyAction, 500*time.Millisecond) }

// OpenInventory taps the cargo key.
func OpenInventory() []schema.Action { return tap(KeyCargo, schema.DefaultTapDuration) }

// CloseMenu taps escape.
func CloseMenu() []schema.Action { return tap(KeyEsc, schema.DefaultTapDuration) }

func tap(key string, d time.Duration) []schema.Action {
	return []schema.Action{schema.KeyTap{Key: key, Duration: d}}
}
