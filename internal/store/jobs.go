package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const jobColumns = `id, routine_name, cron_expression, categories, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = nowIfZero(job.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.RoutineName, job.CronExpression, stringList(job.Categories), job.Enabled,
		timeOrNull(job.LastRunAt), timeOrNull(job.NextRunAt), orNull(job.LastRunStatus), job.CreatedAt,
	)
	return dbErr("create scheduled job", err)
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id))
	return one(job, err, "scheduled job", id)
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var a assignments
	if update.Enabled != nil {
		a.set("enabled", *update.Enabled)
	}
	if update.LastRunAt != nil {
		a.set("last_run_at", *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		a.set("next_run_at", *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		a.set("last_run_status", update.LastRunStatus)
	}
	if a.empty() {
		return nil
	}
	q, args := a.update("scheduled_jobs", "id", id)
	res, err := s.db.ExecContext(ctx, q, args...)
	return touched(res, err, "scheduled job", id)
}

// ListScheduledJobs returns jobs in creation order.
func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var p predicates
	if filter.Enabled != nil {
		p.add("enabled = ?", *filter.Enabled)
	}
	q := `SELECT ` + jobColumns + ` FROM scheduled_jobs` + p.where() + ` ORDER BY created_at` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, q, p.args...)
	if err != nil {
		return nil, dbErr("list scheduled jobs", err)
	}
	jobs, err := collect(rows, scanJob)
	return jobs, dbErr("list scheduled jobs", err)
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return touched(res, err, "scheduled job", id)
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	var (
		job              ScheduledJob
		cats             string
		lastRun, nextRun sql.NullTime
		lastStatus       sql.NullString
	)
	if err := row.Scan(&job.ID, &job.RoutineName, &job.CronExpression, &cats, &job.Enabled,
		&lastRun, &nextRun, &lastStatus, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Categories = parseStringList(cats)
	job.LastRunAt = nullableTime(lastRun)
	job.NextRunAt = nullableTime(nextRun)
	job.LastRunStatus = lastStatus.String
	return &job, nil
}
