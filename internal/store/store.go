package store

import "context"

// RecordStore keeps routine records, unique by name. SaveRecord replaces a
// record of the same name.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, name string) (*Record, error)
	ListRecords(ctx context.Context) ([]*Record, error)
	DeleteRecord(ctx context.Context, name string) error
}

// RunStore keeps one row per routine run.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}

// EventStore is the append-only event log. Sequences are per run.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)
}

// JobStore keeps cron schedules.
type JobStore interface {
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error
}

// Store is everything the CLI and MCP server persist. Implementations
// must be safe for concurrent use.
type Store interface {
	RecordStore
	RunStore
	EventStore
	JobStore

	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}

var _ Store = (*LibSQLStore)(nil)
