package schema

import (
	"math"
	"time"
)

// ActionType enumerates the primitive input operations.
type ActionType string

const (
	ActionPress        ActionType = "press"
	ActionRelease      ActionType = "release"
	ActionTap          ActionType = "tap"
	ActionWait         ActionType = "wait"
	ActionTurn         ActionType = "turn"
	ActionMouseMove    ActionType = "mouse_move"
	ActionMousePress   ActionType = "mouse_press"
	ActionMouseRelease ActionType = "mouse_release"
	ActionMouseClick   ActionType = "mouse_click"
)

// Default durations applied by the builders when none is given.
const (
	DefaultTapDuration   = 100 * time.Millisecond
	DefaultTurnDuration  = time.Second
	DefaultMoveDuration  = 100 * time.Millisecond
	DefaultClickDuration = 100 * time.Millisecond
)

// Valid reports whether t is one of the known action kinds.
func (t ActionType) Valid() bool {
	switch t {
	case ActionPress, ActionRelease, ActionTap, ActionWait, ActionTurn,
		ActionMouseMove, ActionMousePress, ActionMouseRelease, ActionMouseClick:
		return true
	}
	return false
}

// MouseButton names a physical mouse button.
type MouseButton string

const (
	MouseLeft   MouseButton = "left"
	MouseRight  MouseButton = "right"
	MouseMiddle MouseButton = "middle"
)

// Valid reports whether b is a recognized button.
func (b MouseButton) Valid() bool {
	return b == MouseLeft || b == MouseRight || b == MouseMiddle
}

// Action is one primitive input operation. The set of implementations is
// closed: only the types in this file satisfy it.
type Action interface {
	Type() ActionType
	// Hold returns the duration carried by the action, zero if none.
	Hold() time.Duration
	Validate() error
	sealed()
}

// KeyPress presses and holds a key.
type KeyPress struct {
	Key      string
	Duration time.Duration
}

// KeyRelease releases a held key.
type KeyRelease struct {
	Key      string
	Duration time.Duration
}

// KeyTap presses a key, holds it for Duration and releases it.
type KeyTap struct {
	Key      string
	Duration time.Duration
}

// Wait suspends for Duration without touching the device.
type Wait struct {
	Duration time.Duration
}

// Turn rotates the view by Degrees over Duration. Positive turns right.
type Turn struct {
	Degrees  float64
	Duration time.Duration
}

// MouseMove moves the pointer by a relative pixel delta.
type MouseMove struct {
	DX       float64
	DY       float64
	Duration time.Duration
}

// MousePress presses and holds a mouse button.
type MousePress struct {
	Button   MouseButton
	Duration time.Duration
}

// MouseRelease releases a held mouse button.
type MouseRelease struct {
	Button   MouseButton
	Duration time.Duration
}

// MouseClick presses a button, holds it for Duration and releases it.
type MouseClick struct {
	Button   MouseButton
	Duration time.Duration
}

func (KeyPress) Type() ActionType     { return ActionPress }
func (KeyRelease) Type() ActionType   { return ActionRelease }
func (KeyTap) Type() ActionType       { return ActionTap }
func (Wait) Type() ActionType         { return ActionWait }
func (Turn) Type() ActionType         { return ActionTurn }
func (MouseMove) Type() ActionType    { return ActionMouseMove }
func (MousePress) Type() ActionType   { return ActionMousePress }
func (MouseRelease) Type() ActionType { return ActionMouseRelease }
func (MouseClick) Type() ActionType   { return ActionMouseClick }

func (a KeyPress) Hold() time.Duration     { return a.Duration }
func (a KeyRelease) Hold() time.Duration   { return a.Duration }
func (a KeyTap) Hold() time.Duration       { return a.Duration }
func (a Wait) Hold() time.Duration         { return a.Duration }
func (a Turn) Hold() time.Duration         { return a.Duration }
func (a MouseMove) Hold() time.Duration    { return a.Duration }
func (a MousePress) Hold() time.Duration   { return a.Duration }
func (a MouseRelease) Hold() time.Duration { return a.Duration }
func (a MouseClick) Hold() time.Duration   { return a.Duration }

func (KeyPress) sealed()     {}
func (KeyRelease) sealed()   {}
func (KeyTap) sealed()       {}
func (Wait) sealed()         {}
func (Turn) sealed()         {}
func (MouseMove) sealed()    {}
func (MousePress) sealed()   {}
func (MouseRelease) sealed() {}
func (MouseClick) sealed()   {}

func (a KeyPress) Validate() error {
	if err := validateKey(a.Type(), a.Key); err != nil {
		return err
	}
	return validateDuration(a.Type(), a.Duration)
}

func (a KeyRelease) Validate() error {
	if err := validateKey(a.Type(), a.Key); err != nil {
		return err
	}
	return validateDuration(a.Type(), a.Duration)
}

func (a KeyTap) Validate() error {
	if err := validateKey(a.Type(), a.Key); err != nil {
		return err
	}
	return validateDuration(a.Type(), a.Duration)
}

func (a Wait) Validate() error {
	return validateDuration(a.Type(), a.Duration)
}

func (a Turn) Validate() error {
	if math.IsNaN(a.Degrees) || math.IsInf(a.Degrees, 0) {
		return NewErrorf(ErrCodeValidation, "turn: degrees must be a real number, got %v", a.Degrees)
	}
	if a.Duration <= 0 {
		return NewErrorf(ErrCodeValidation, "turn: duration must be positive, got %s", a.Duration)
	}
	return nil
}

func (a MouseMove) Validate() error {
	if math.IsNaN(a.DX) || math.IsInf(a.DX, 0) || math.IsNaN(a.DY) || math.IsInf(a.DY, 0) {
		return NewErrorf(ErrCodeValidation, "mouse_move: delta must be real, got (%v, %v)", a.DX, a.DY)
	}
	return validateDuration(a.Type(), a.Duration)
}

func (a MousePress) Validate() error {
	if err := validateButton(a.Type(), a.Button); err != nil {
		return err
	}
	return validateDuration(a.Type(), a.Duration)
}

func (a MouseRelease) Validate() error {
	if err := validateButton(a.Type(), a.Button); err != nil {
		return err
	}
	return validateDuration(a.Type(), a.Duration)
}

func (a MouseClick) Validate() error {
	if err := validateButton(a.Type(), a.Button); err != nil {
		return err
	}
	return validateDuration(a.Type(), a.Duration)
}

func validateKey(t ActionType, key string) error {
	if key == "" {
		return NewErrorf(ErrCodeValidation, "%s: key is empty", t)
	}
	return nil
}

func validateButton(t ActionType, b MouseButton) error {
	if !b.Valid() {
		return NewErrorf(ErrCodeValidation, "%s: unknown mouse button %q", t, b)
	}
	return nil
}

func validateDuration(t ActionType, d time.Duration) error {
	if d < 0 {
		return NewErrorf(ErrCodeValidation, "%s: duration must not be negative, got %s", t, d)
	}
	return nil
}

// Seconds converts a float number of seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
