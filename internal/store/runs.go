package store

import (
	"context"
	"database/sql"

	"github.com/rendis/dsmacro/pkg/schema"
)

const runColumns = `id, routine_id, routine_name, categories, status, outcome, sequences_total, sequences_executed, error, started_at, completed_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	run.StartedAt = nowIfZero(run.StartedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RoutineID, orNull(run.RoutineName), stringList(run.Categories), run.Status,
		orNull(string(run.Outcome)), run.SequencesTotal, run.SequencesExecuted, rawOrNull(run.Error),
		run.StartedAt, timeOrNull(run.CompletedAt),
	)
	return dbErr("create run "+run.ID, err)
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	return one(run, err, "run", id)
}

// UpdateRun writes the set fields of update. An empty update is a no-op,
// even for an unknown id.
func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var a assignments
	if update.Status != "" {
		a.set("status", update.Status)
	}
	if update.Outcome != "" {
		a.set("outcome", string(update.Outcome))
	}
	if update.SequencesExecuted != nil {
		a.set("sequences_executed", *update.SequencesExecuted)
	}
	if update.Error != nil {
		a.set("error", string(update.Error))
	}
	if update.CompletedAt != nil {
		a.set("completed_at", *update.CompletedAt)
	}
	if a.empty() {
		return nil
	}
	q, args := a.update("runs", "id", id)
	res, err := s.db.ExecContext(ctx, q, args...)
	return touched(res, err, "run", id)
}

// ListRuns returns matching runs, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var p predicates
	if filter.RoutineName != "" {
		p.add("routine_name = ?", filter.RoutineName)
	}
	if filter.Outcome != "" {
		p.add("outcome = ?", string(filter.Outcome))
	}
	if filter.Since != nil {
		p.add("started_at >= ?", *filter.Since)
	}
	q := `SELECT ` + runColumns + ` FROM runs` + p.where() + ` ORDER BY started_at DESC` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, q, p.args...)
	if err != nil {
		return nil, dbErr("list runs", err)
	}
	runs, err := collect(rows, scanRun)
	return runs, dbErr("list runs", err)
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                    Run
		name, outcome, errJSON sql.NullString
		cats                   string
		completedAt            sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.RoutineID, &name, &cats, &run.Status, &outcome,
		&run.SequencesTotal, &run.SequencesExecuted, &errJSON, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	run.RoutineName = name.String
	run.Categories = parseStringList(cats)
	run.Outcome = schema.Outcome(outcome.String)
	run.Error = nullableRaw(errJSON)
	run.CompletedAt = nullableTime(completedAt)
	return &run, nil
}
