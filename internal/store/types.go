package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/dsmacro/pkg/schema"
)

// Record is a stored routine record, the flat persisted routine format.
type Record struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Actions     []schema.RecordAction `json:"actions"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// RoutineRecord returns the record in its persisted exchange format.
func (r *Record) RoutineRecord() *schema.RoutineRecord {
	return &schema.RoutineRecord{Name: r.Name, Description: r.Description, Actions: r.Actions}
}

// Run is the history entry of one routine execution.
type Run struct {
	ID                string          `json:"id"`
	RoutineID         int64           `json:"routine_id"`
	RoutineName       string          `json:"routine_name,omitempty"`
	Categories        []string        `json:"categories,omitempty"`
	Status            string          `json:"status"`
	Outcome           schema.Outcome  `json:"outcome,omitempty"`
	SequencesTotal    int             `json:"sequences_total"`
	SequencesExecuted int             `json:"sequences_executed"`
	Error             json.RawMessage `json:"error,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// Event is an immutable entry in the routine event log.
type Event struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	RoutineID int64  `json:"routine_id"`
	Type      string `json:"event_type"`
	// Sequence is the per-run log position, assigned on append.
	Sequence int `json:"sequence"`
	// SequenceIndex is the routine sequence the event refers to, if any.
	SequenceIndex *int            `json:"sequence_index,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ScheduledJob is a cron-triggered run of a stored record or catalogue routine.
type ScheduledJob struct {
	ID             string     `json:"id"`
	RoutineName    string     `json:"routine_name"`
	CronExpression string     `json:"cron_expression"`
	Categories     []string   `json:"categories,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	RoutineName string         `json:"routine_name,omitempty"`
	Outcome     schema.Outcome `json:"outcome,omitempty"`
	Since       *time.Time     `json:"since,omitempty"`
	Limit       int            `json:"limit,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status            string          `json:"status,omitempty"`
	Outcome           schema.Outcome  `json:"outcome,omitempty"`
	SequencesExecuted *int            `json:"sequences_executed,omitempty"`
	Error             json.RawMessage `json:"error,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID     string     `json:"run_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
