package streaming

import (
	"context"
	"slices"
)

// StreamEvent is one live routine event: a state transition, a sequence
// boundary or an emergency stop.
type StreamEvent struct {
	RunID       string `json:"run_id"`
	RoutineID   int64  `json:"routine_id"`
	RoutineName string `json:"routine_name,omitempty"`
	EventType   string `json:"event_type"`
	Payload     any    `json:"payload,omitempty"`
}

// EventFilter selects events for a subscriber. Zero fields match anything.
type EventFilter struct {
	RunID       string   `json:"run_id,omitempty"`
	RoutineID   int64    `json:"routine_id,omitempty"`
	RoutineName string   `json:"routine_name,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// Matches reports whether e passes every set field of f.
func (f EventFilter) Matches(e StreamEvent) bool {
	switch {
	case f.RunID != "" && f.RunID != e.RunID:
		return false
	case f.RoutineID != 0 && f.RoutineID != e.RoutineID:
		return false
	case f.RoutineName != "" && f.RoutineName != e.RoutineName:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType):
		return false
	}
	return true
}

// EventHub fans live routine events out to subscribers.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
