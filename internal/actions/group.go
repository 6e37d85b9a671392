package actions

import (
	"time"

	"github.com/rendis/dsmacro/pkg/schema"
)

// Group accumulates actions through a fluent builder. It is not safe for
// concurrent use; a group belongs to the scope that builds it.
type Group struct {
	actions []schema.Action
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{}
}

// Press holds a key down until a matching Release.
func (g *Group) Press(key string) *Group {
	return g.Add(schema.KeyPress{Key: key})
}

// Release lets go of a held key.
func (g *Group) Release(key string) *Group {
	return g.Add(schema.KeyRelease{Key: key})
}

// Tap presses and releases key, holding it for d.
func (g *Group) Tap(key string, d time.Duration) *Group {
	return g.Add(schema.KeyTap{Key: key, Duration: d})
}

// Wait pauses for d.
func (g *Group) Wait(d time.Duration) *Group {
	return g.Add(schema.Wait{Duration: d})
}

// Turn rotates the view by degrees over d. Positive turns right.
func (g *Group) Turn(degrees float64, d time.Duration) *Group {
	return g.Add(schema.Turn{Degrees: degrees, Duration: d})
}

// MouseMove moves the pointer by a relative delta.
func (g *Group) MouseMove(dx, dy float64, d time.Duration) *Group {
	return g.Add(schema.MouseMove{DX: dx, DY: dy, Duration: d})
}

// MousePress holds a mouse button down.
func (g *Group) MousePress(b schema.MouseButton) *Group {
	return g.Add(schema.MousePress{Button: b})
}

// MouseRelease lets go of a held mouse button.
func (g *Group) MouseRelease(b schema.MouseButton) *Group {
	return g.Add(schema.MouseRelease{Button: b})
}

// MouseClick presses and releases b, holding it for d.
func (g *Group) MouseClick(b schema.MouseButton, d time.Duration) *Group {
	return g.Add(schema.MouseClick{Button: b, Duration: d})
}

// Add appends predefined actions in order.
func (g *Group) Add(acts ...schema.Action) *Group {
	g.actions = append(g.actions, acts...)
	return g
}

// Len returns the number of accumulated actions.
func (g *Group) Len() int { return len(g.actions) }

// Freeze snapshots the accumulated actions into an immutable sequence.
// Later calls on the group do not affect the returned sequence.
func (g *Group) Freeze(parallel bool) schema.ActionSequence {
	return schema.NewSequence(parallel, g.actions...)
}

// Parallel builds a parallel sequence from the actions fn adds.
func Parallel(fn func(g *Group)) schema.ActionSequence {
	g := NewGroup()
	fn(g)
	return g.Freeze(true)
}

// Sequential builds a sequential sequence from the actions fn adds.
func Sequential(fn func(g *Group)) schema.ActionSequence {
	g := NewGroup()
	fn(g)
	return g.Freeze(false)
}
