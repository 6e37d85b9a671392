package device

import "context"

// Simulated is a Driver with no device behind it. Every call reports
// ErrUnavailable so routines run against held-input state only.
type Simulated struct{}

// NewSimulated returns a Simulated driver.
func NewSimulated() *Simulated { return &Simulated{} }

func (Simulated) KeyDown(context.Context, string) error             { return ErrUnavailable }
func (Simulated) KeyUp(context.Context, string) error               { return ErrUnavailable }
func (Simulated) MouseMoveRelative(context.Context, int, int) error { return ErrUnavailable }
func (Simulated) MouseButtonDown(context.Context, int) error        { return ErrUnavailable }
func (Simulated) MouseButtonUp(context.Context, int) error          { return ErrUnavailable }
func (Simulated) PointerPosition(context.Context) (int, int, error) { return 0, 0, ErrUnavailable }
