package device

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable reports that no input device is reachable. Callers treat
// it as soft: the input is considered delivered.
var ErrUnavailable = errors.New("input driver unavailable")

// RejectedError reports that the driver received the command and refused
// or failed it.
type RejectedError struct {
	Op     string
	Args   []string
	Stderr string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s %v rejected: %s", e.Op, e.Args, e.Stderr)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %v rejected: %v", e.Op, e.Args, e.Err)
	}
	return fmt.Sprintf("%s %v rejected", e.Op, e.Args)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the driver is not reachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRejected reports whether err is a driver rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Driver injects input at the OS level. Keys are physical key names;
// buttons are numeric button IDs.
type Driver interface {
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	MouseMoveRelative(ctx context.Context, dx, dy int) error
	MouseButtonDown(ctx context.Context, button int) error
	MouseButtonUp(ctx context.Context, button int) error
	PointerPosition(ctx context.Context) (x, y int, err error)
}
