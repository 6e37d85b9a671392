package store

import (
	"context"
	"database/sql"
)

const eventColumns = `id, run_id, routine_id, event_type, sequence, sequence_index, payload, timestamp`

// AppendEvent gives event the next sequence of its run and stores it.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin event append", err)
	}
	defer tx.Rollback()

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return dbErr("commit event", tx.Commit())
}

// insertEvent runs inside tx so the sequence read and the insert cannot
// interleave with another writer of the same run.
func insertEvent(ctx context.Context, tx *sql.Tx, event *Event) error {
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&event.Sequence); err != nil {
		return dbErr("next event sequence", err)
	}
	event.Timestamp = nowIfZero(event.Timestamp)

	var index any
	if event.SequenceIndex != nil {
		index = *event.SequenceIndex
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, routine_id, event_type, sequence, sequence_index, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.RoutineID, event.Type, event.Sequence, index, rawOrNull(event.Payload), event.Timestamp,
	)
	if err != nil {
		return dbErr("insert "+event.Type+" event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// GetEvents returns the events of runID with sequence > since in sequence
// order. runID "" selects controller-wide events.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence`,
		runID, since)
	if err != nil {
		return nil, dbErr("read events", err)
	}
	events, err := collect(rows, scanEvent)
	return events, dbErr("read events", err)
}

// GetEventsByType returns events of one type, newest first.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var p predicates
	p.add("event_type = ?", eventType)
	if filter.RunID != "" {
		p.add("run_id = ?", filter.RunID)
	}
	if filter.Since != nil {
		p.add("timestamp >= ?", *filter.Since)
	}
	q := `SELECT ` + eventColumns + ` FROM events` + p.where() + ` ORDER BY timestamp DESC, id DESC` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, q, p.args...)
	if err != nil {
		return nil, dbErr("read "+eventType+" events", err)
	}
	events, err := collect(rows, scanEvent)
	return events, dbErr("read "+eventType+" events", err)
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e       Event
		index   sql.NullInt64
		payload sql.NullString
	)
	if err := row.Scan(&e.ID, &e.RunID, &e.RoutineID, &e.Type, &e.Sequence, &index, &payload, &e.Timestamp); err != nil {
		return nil, err
	}
	if index.Valid {
		i := int(index.Int64)
		e.SequenceIndex = &i
	}
	e.Payload = nullableRaw(payload)
	return &e, nil
}
