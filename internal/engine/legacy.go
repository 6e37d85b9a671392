package engine

import (
	"context"
	"time"

	"github.com/rendis/dsmacro/internal/actions"
	"github.com/rendis/dsmacro/pkg/schema"
)

// Defaults applied to flat records whose fields are null.
const (
	DefaultRecordDuration = time.Second
	DefaultRecordTurn     = 90.0
	DefaultRecordScan     = 360.0
)

// RecordSequences converts a flat record into sequences. Each record entry
// becomes one sequence; combined kinds expand into a parallel start
// followed by a sequential release.
func RecordSequences(rec *schema.RoutineRecord) ([]schema.ActionSequence, error) {
	if rec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "nil routine record")
	}
	var out []schema.ActionSequence
	for i, ra := range rec.Actions {
		seqs, err := recordAction(ra)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "actions[%d]: %s", i, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"index": i, "type": ra.Type})
		}
		for _, seq := range seqs {
			if err := seq.Validate(); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "actions[%d]: %s", i, err.Error()).WithCause(err)
			}
		}
		out = append(out, seqs...)
	}
	return out, nil
}

func recordAction(ra schema.RecordAction) ([]schema.ActionSequence, error) {
	d := ra.DurationOr(DefaultRecordDuration)
	direction := ra.StringParam("direction", string(schema.DirectionForward))
	forward := string(schema.DirectionForward)

	one := func(fn func(g *actions.Group)) []schema.ActionSequence {
		return []schema.ActionSequence{actions.Sequential(fn)}
	}

	switch schema.LegacyKind(ra.Type) {
	case schema.LegacyMove:
		return one(func(g *actions.Group) { g.Press(direction).Wait(d).Release(direction) }), nil

	case schema.LegacyTurn:
		degrees := ra.FloatParam("degrees", DefaultRecordTurn)
		return one(func(g *actions.Group) { g.Turn(degrees, d) }), nil

	case schema.LegacyMoveAndTurn:
		degrees := ra.FloatParam("degrees", DefaultRecordTurn)
		return []schema.ActionSequence{
			actions.Parallel(func(g *actions.Group) { g.Press(forward).Turn(degrees, d) }),
			actions.Sequential(func(g *actions.Group) { g.Release(forward) }),
		}, nil

	case schema.LegacySprint:
		return one(func(g *actions.Group) {
			g.Press(actions.KeySprint).Press(direction).Wait(d).Release(direction).Release(actions.KeySprint)
		}), nil

	case schema.LegacySprintAndTurn:
		degrees := ra.FloatParam("degrees", DefaultRecordTurn)
		return []schema.ActionSequence{
			actions.Parallel(func(g *actions.Group) { g.Press(forward).Press(actions.KeySprint).Turn(degrees, d) }),
			actions.Sequential(func(g *actions.Group) { g.Release(actions.KeySprint).Release(forward) }),
		}, nil

	case schema.LegacyHoldKey:
		key := ra.StringParam("key", "")
		if key == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "hold_key requires params.key")
		}
		return one(func(g *actions.Group) { g.Press(key).Wait(d).Release(key) }), nil

	case schema.LegacyHoldMouse:
		b := schema.MouseButton(ra.StringParam("button", string(schema.MouseLeft)))
		return one(func(g *actions.Group) { g.MousePress(b).Wait(d).MouseRelease(b) }), nil

	case schema.LegacyWait:
		return one(func(g *actions.Group) { g.Wait(d) }), nil

	case schema.LegacyScan:
		degrees := ra.FloatParam("degrees", DefaultRecordScan)
		return []schema.ActionSequence{
			actions.Parallel(func(g *actions.Group) { g.Press(actions.KeyScan).Turn(degrees, d) }),
			actions.Sequential(func(g *actions.Group) { g.Release(actions.KeyScan) }),
		}, nil
	}

	return primitiveAction(ra)
}

// primitiveAction handles entries that already name a primitive action.
// Their duration is taken literally, zero when null.
func primitiveAction(ra schema.RecordAction) ([]schema.ActionSequence, error) {
	d := ra.DurationOr(0)
	key := ra.StringParam("key", "")
	button := schema.MouseButton(ra.StringParam("button", string(schema.MouseLeft)))

	var a schema.Action
	switch schema.ActionType(ra.Type) {
	case schema.ActionPress:
		a = schema.KeyPress{Key: key, Duration: d}
	case schema.ActionRelease:
		a = schema.KeyRelease{Key: key, Duration: d}
	case schema.ActionTap:
		if ra.Duration == nil {
			d = schema.DefaultTapDuration
		}
		a = schema.KeyTap{Key: key, Duration: d}
	case schema.ActionWait:
		a = schema.Wait{Duration: d}
	case schema.ActionMouseMove:
		a = schema.MouseMove{DX: ra.FloatParam("dx", 0), DY: ra.FloatParam("dy", 0), Duration: d}
	case schema.ActionMousePress:
		a = schema.MousePress{Button: button, Duration: d}
	case schema.ActionMouseRelease:
		a = schema.MouseRelease{Button: button, Duration: d}
	case schema.ActionMouseClick:
		if ra.Duration == nil {
			d = schema.DefaultClickDuration
		}
		a = schema.MouseClick{Button: button, Duration: d}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown action type %q", ra.Type)
	}
	return []schema.ActionSequence{schema.NewSequence(false, a)}, nil
}

// RoutineFromRecord builds an unregistered routine named after rec.
func (c *Controller) RoutineFromRecord(rec *schema.RoutineRecord, categories ...string) (*Routine, error) {
	seqs, err := RecordSequences(rec)
	if err != nil {
		return nil, err
	}
	r := c.CreateRoutine(rec.Name, categories...)
	for _, seq := range seqs {
		if err := r.AddSequence(seq); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ExecuteRecord converts rec into a routine and runs it to completion.
func (c *Controller) ExecuteRecord(ctx context.Context, rec *schema.RoutineRecord, categories ...string) (*RunResult, error) {
	r, err := c.RoutineFromRecord(rec, categories...)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "executing routine record", "record", rec.Name, "description", rec.Description, "entries", len(rec.Actions))
	return r.Run(ctx)
}
