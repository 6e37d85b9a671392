package store

import (
	"context"
	"time"

	"github.com/rendis/dsmacro/pkg/schema"
)

// EventLog is the event-sourcing view of a LibSQLStore: serialized
// appends and run replay.
type EventLog struct {
	store *LibSQLStore
}

func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent stores event with the next sequence of its run. The write
// lock is taken before the sequence is read, so concurrent appends to one
// run never share a sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin event append", err)
	}
	defer tx.Rollback()

	// A deferred transaction only locks on its first write.
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version WHERE version < 0`); err != nil {
		return dbErr("lock event log", err)
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return dbErr("commit event", tx.Commit())
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// RunReplay is the run state reconstructed from its event log.
type RunReplay struct {
	RunID     string               `json:"run_id"`
	RoutineID int64                `json:"routine_id"`
	Status    schema.RoutineStatus `json:"status"`
	Outcome   schema.Outcome       `json:"outcome,omitempty"`
	// Started and Completed list sequence indexes in the order they were logged.
	Started     []int      `json:"started"`
	Completed   []int      `json:"completed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Events      int        `json:"events"`
}

// ReplayRun replays all events of a run and reconstructs its state.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayRun(ctx context.Context, runID string) (*RunReplay, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	return ReplayEvents(runID, events)
}

// ReplayEvents folds the ordered events of one run into its state.
func ReplayEvents(runID string, events []*Event) (*RunReplay, error) {
	replay := &RunReplay{RunID: runID, Status: schema.RoutineStatusUnregistered}
	if len(events) == 0 {
		return replay, nil
	}

	for i, e := range events {
		if e.Sequence != i+1 {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, i+1, e.Sequence)
		}
	}

	replay.RoutineID = events[0].RoutineID
	replay.Events = len(events)

	for _, e := range events {
		ts := e.Timestamp
		switch e.Type {
		case schema.EventRoutineStarted:
			replay.Status = schema.RoutineStatusRunning
			replay.StartedAt = &ts

		case schema.EventRoutineCancelling:
			replay.Status = schema.RoutineStatusCancelling

		case schema.EventRoutineCompleted, schema.EventRoutineCancelled, schema.EventRoutineFailed:
			replay.Status = schema.RoutineStatusDone
			replay.Outcome = outcomeOf(e.Type)
			replay.CompletedAt = &ts

		case schema.EventSequenceStarted:
			if e.SequenceIndex != nil {
				replay.Started = append(replay.Started, *e.SequenceIndex)
			}

		case schema.EventSequenceCompleted:
			if e.SequenceIndex != nil {
				replay.Completed = append(replay.Completed, *e.SequenceIndex)
			}
		}
	}
	return replay, nil
}

func outcomeOf(eventType string) schema.Outcome {
	switch eventType {
	case schema.EventRoutineCompleted:
		return schema.OutcomeCompleted
	case schema.EventRoutineCancelled:
		return schema.OutcomeCancelled
	default:
		return schema.OutcomeFailed
	}
}
