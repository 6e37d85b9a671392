package schema

import (
	"encoding/json"
	"time"
)

// RoutineRecord is the persisted flat routine format written by the
// recorder: one ordered list of actions, no parallel/sequential nesting.
type RoutineRecord struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Actions     []RecordAction `json:"actions"`
}

// RecordAction is one entry of a RoutineRecord. Type is either a legacy
// kind (move, sprint, hold_key, ...) or a primitive action type.
type RecordAction struct {
	Type     string         `json:"type"`
	Duration *float64       `json:"duration"`
	Params   map[string]any `json:"params"`
}

// LegacyKind enumerates the combined action kinds produced by the recorder.
type LegacyKind string

const (
	LegacyMove          LegacyKind = "move"
	LegacyTurn          LegacyKind = "turn"
	LegacyMoveAndTurn   LegacyKind = "move_and_turn"
	LegacySprint        LegacyKind = "sprint"
	LegacySprintAndTurn LegacyKind = "sprint_and_turn"
	LegacyHoldKey       LegacyKind = "hold_key"
	LegacyHoldMouse     LegacyKind = "hold_mouse"
	LegacyWait          LegacyKind = "wait"
	LegacyScan          LegacyKind = "scan"
)

// LegacyKinds lists every legacy kind in declaration order.
var LegacyKinds = []LegacyKind{
	LegacyMove, LegacyTurn, LegacyMoveAndTurn, LegacySprint, LegacySprintAndTurn,
	LegacyHoldKey, LegacyHoldMouse, LegacyWait, LegacyScan,
}

// IsLegacyKind reports whether s names a legacy kind.
func IsLegacyKind(s string) bool {
	for _, k := range LegacyKinds {
		if string(k) == s {
			return true
		}
	}
	return false
}

// MovementDirection names the logical movement keys.
type MovementDirection string

const (
	DirectionForward  MovementDirection = "forward"
	DirectionBackward MovementDirection = "backward"
	DirectionLeft     MovementDirection = "left"
	DirectionRight    MovementDirection = "right"
	DirectionUp       MovementDirection = "up"
	DirectionDown     MovementDirection = "down"
)

// DurationOr returns the recorded duration, or def when it is null.
func (a RecordAction) DurationOr(def time.Duration) time.Duration {
	if a.Duration == nil {
		return def
	}
	return Seconds(*a.Duration)
}

// StringParam returns params[key] as a string, or def.
func (a RecordAction) StringParam(key, def string) string {
	if s, ok := a.Params[key].(string); ok && s != "" {
		return s
	}
	return def
}

// FloatParam returns params[key] as a float64, or def. JSON numbers and
// json.Number values are both accepted.
func (a RecordAction) FloatParam(key string, def float64) float64 {
	switch v := a.Params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

// ParseRecord decodes a JSON routine record without validating it.
func ParseRecord(data []byte) (*RoutineRecord, error) {
	var rec RoutineRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "decode routine record: %s", err.Error()).WithCause(err)
	}
	return &rec, nil
}
