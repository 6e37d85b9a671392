package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/dsmacro/pkg/schema"
)

const recordColumns = `id, name, description, actions, created_at, updated_at`

// SaveRecord inserts rec, or replaces the description and actions of the
// record already stored under rec.Name. rec.ID is set on first save.
func (s *LibSQLStore) SaveRecord(ctx context.Context, rec *Record) error {
	if rec.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "record name is empty")
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode actions of %q: %s", rec.Name, err.Error()).WithCause(err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = nowIfZero(rec.CreatedAt)
	rec.UpdatedAt = time.Now().UTC()

	// On conflict the stored id is kept; read it back so rec.ID matches the row.
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO routine_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET description = excluded.description, actions = excluded.actions, updated_at = excluded.updated_at
		 RETURNING id`,
		rec.ID, rec.Name, orNull(rec.Description), string(actions), rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID)
	return dbErr("save record "+rec.Name, err)
}

func (s *LibSQLStore) GetRecord(ctx context.Context, name string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM routine_records WHERE name = ?`, name)
	rec, err := scanRecord(row)
	return one(rec, err, "record", name)
}

// ListRecords returns every record ordered by name.
func (s *LibSQLStore) ListRecords(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM routine_records ORDER BY name`)
	if err != nil {
		return nil, dbErr("list records", err)
	}
	recs, err := collect(rows, scanRecord)
	return recs, dbErr("list records", err)
}

func (s *LibSQLStore) DeleteRecord(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routine_records WHERE name = ?`, name)
	return touched(res, err, "record", name)
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		desc    sql.NullString
		actions string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &desc, &actions, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Description = desc.String
	if err := json.Unmarshal([]byte(actions), &rec.Actions); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "stored actions of %q are corrupt: %s", rec.Name, err.Error()).WithCause(err)
	}
	return &rec, nil
}
