package library

import (
	"time"

	"github.com/rendis/dsmacro/internal/actions"
	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/pkg/schema"
)

const (
	forward  = string(schema.DirectionForward)
	right    = string(schema.DirectionRight)
	balance  = 2 * time.Second
	balanceM = 5 * time.Second
)

// Builtin returns a catalogue holding every built-in routine and the
// legacy flat records.
func Builtin() *Catalogue {
	c := NewCatalogue()
	for _, e := range builtinEntries() {
		if err := c.Register(e); err != nil {
			panic(err)
		}
	}
	for key, rec := range LegacyRecords() {
		if err := c.RegisterRecord(key, rec); err != nil {
			panic(err)
		}
	}
	return c
}

func builtinEntries() []Entry {
	return []Entry{
		{
			Key: "360_scan", Name: "360_degree_scan",
			Description: "Pulse the scanner while standing still",
			Categories:  []string{"scanning"},
			Build:       scan360,
		},
		{
			Key: "patrol", Name: "patrol_square",
			Description: "Walk a square, scanning at each corner",
			Categories:  []string{"movement", "patrol"},
			Build:       patrol,
		},
		{
			Key: "deliver", Name: "deliver_cargo",
			Description: "Approach, hold action to deliver, step back",
			Categories:  []string{"interaction"},
			Build:       deliver,
		},
		{
			Key: "combat", Name: "combat_sequence",
			Description: "Crouch, fire, reposition, fire again",
			Categories:  []string{"combat"},
			Build:       combat,
		},
		balanceEntry("balance_left", "Hold left mouse to lean balance left", false, schema.MouseLeft),
		balanceEntry("balance_right", "Hold right mouse to lean balance right", false, schema.MouseRight),
		balanceEntry("balance_both", "Hold both mouse buttons to centre balance", false, schema.MouseLeft, schema.MouseRight),
		balanceEntry("balance_left_moving", "Walk forward holding left mouse", true, schema.MouseLeft),
		balanceEntry("balance_right_moving", "Walk forward holding right mouse", true, schema.MouseRight),
		balanceEntry("balance_both_moving", "Walk forward holding both mouse buttons", true, schema.MouseLeft, schema.MouseRight),
	}
}

func scan360(r *engine.Routine) error {
	return r.AddActions(false, actions.ScanEnvironment()...)
}

func patrol(r *engine.Routine) error {
	if err := r.AddActions(false, actions.ScanEnvironment()...); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := r.Sequential(func(g *actions.Group) {
			g.Press(forward).Wait(3 * time.Second).Release(forward)
		}); err != nil {
			return err
		}
		if err := r.Sequential(func(g *actions.Group) { g.Turn(90, time.Second) }); err != nil {
			return err
		}
		if err := r.AddActions(false, actions.ScanEnvironment()...); err != nil {
			return err
		}
	}
	return nil
}

func deliver(r *engine.Routine) error {
	steps := []func(g *actions.Group){
		func(g *actions.Group) { g.Press(forward).Wait(2 * time.Second).Release(forward) },
		func(g *actions.Group) { g.Press(actions.KeyAction).Wait(time.Second).Release(actions.KeyAction) },
		func(g *actions.Group) { g.Wait(2 * time.Second) },
		func(g *actions.Group) { g.Add(actions.Backstep(time.Second)...) },
	}
	for _, fn := range steps {
		if err := r.Sequential(fn); err != nil {
			return err
		}
	}
	return nil
}

func combat(r *engine.Routine) error {
	const delay = 300 * time.Millisecond
	steps := []func(g *actions.Group){
		func(g *actions.Group) { g.Press(actions.KeyCrouch).Wait(500 * time.Millisecond) },
		func(g *actions.Group) { g.Add(actions.AimAndFire(3, delay)...) },
		func(g *actions.Group) {
			g.Release(actions.KeyCrouch).
				Press(right).Press(actions.KeySprint).
				Wait(time.Second).
				Release(actions.KeySprint).Release(right).
				Press(actions.KeyCrouch)
		},
		func(g *actions.Group) { g.Add(actions.AimAndFire(2, delay)...) },
		func(g *actions.Group) { g.Release(actions.KeyCrouch) },
	}
	for _, fn := range steps {
		if err := r.Sequential(fn); err != nil {
			return err
		}
	}
	return nil
}

// balanceEntry holds buttons, optionally while walking forward. A single
// stationary button is one sequential press-wait-release; anything else
// starts in parallel, waits, then releases in order.
func balanceEntry(key, desc string, moving bool, buttons ...schema.MouseButton) Entry {
	build := func(r *engine.Routine) error {
		if !moving && len(buttons) == 1 {
			return r.Sequential(func(g *actions.Group) {
				g.MousePress(buttons[0]).Wait(balance).MouseRelease(buttons[0])
			})
		}
		hold := balance
		if moving {
			hold = balanceM
		}
		if err := r.Parallel(func(g *actions.Group) {
			if moving {
				g.Press(forward)
			}
			for _, b := range buttons {
				g.MousePress(b)
			}
		}); err != nil {
			return err
		}
		if err := r.Sequential(func(g *actions.Group) { g.Wait(hold) }); err != nil {
			return err
		}
		return r.Sequential(func(g *actions.Group) {
			if moving {
				g.Release(forward)
			}
			for _, b := range buttons {
				g.MouseRelease(b)
			}
		})
	}
	return Entry{
		Key:         key,
		Name:        key,
		Description: desc,
		Categories:  []string{"movement", "balance"},
		Build:       build,
	}
}

func dur(s float64) *float64 { return &s }

// LegacyRecords returns the flat records replayed through the legacy
// converter, keyed like their catalogue counterparts.
func LegacyRecords() map[string]*schema.RoutineRecord {
	return map[string]*schema.RoutineRecord{
		"360_scan": {
			Name:        "360_degree_scan",
			Description: "Perform a full 360° environmental scan while standing still",
			Actions: []schema.RecordAction{
				{Type: string(schema.LegacyScan), Duration: dur(4), Params: map[string]any{"degrees": 360.0}},
			},
		},
		"patrol": {
			Name:        "patrol_square",
			Description: "Walk in a square pattern, scanning at each corner",
			Actions: []schema.RecordAction{
				{Type: string(schema.LegacyMoveAndTurn), Duration: dur(3), Params: map[string]any{"degrees": 90.0}},
				{Type: string(schema.LegacyScan), Duration: dur(2), Params: map[string]any{"degrees": 180.0}},
				{Type: string(schema.LegacyMoveAndTurn), Duration: dur(3), Params: map[string]any{"degrees": 90.0}},
				{Type: string(schema.LegacyMoveAndTurn), Duration: dur(3), Params: map[string]any{"degrees": 90.0}},
				{Type: string(schema.LegacyMoveAndTurn), Duration: dur(3), Params: map[string]any{"degrees": 90.0}},
			},
		},
		"deliver": {
			Name:        "deliver_cargo",
			Description: "Standard cargo delivery sequence",
			Actions: []schema.RecordAction{
				{Type: string(schema.LegacyMove), Duration: dur(2), Params: map[string]any{"direction": forward}},
				{Type: string(schema.LegacyHoldKey), Duration: dur(1), Params: map[string]any{"key": actions.KeyAction}},
				{Type: string(schema.LegacyWait), Duration: dur(2)},
				{Type: string(schema.LegacyMove), Duration: dur(1), Params: map[string]any{"direction": string(schema.DirectionBackward)}},
			},
		},
	}
}
