package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/dsmacro/pkg/schema"
)

// connPragmas tune the single embedded connection for an append-heavy
// event log.
var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// LibSQLStore is the Store backed by an embedded libSQL database file.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens the database at dsn, a file URI such as
// "file:/home/me/.local/share/dsmacro/dsmacro.db". Call Migrate before use.
func NewLibSQLStore(dsn string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, dbErr("open "+dsn, err)
	}
	// One writer; libSQL serializes anyway and this keeps pragmas on the
	// connection that is actually used.
	db.SetMaxOpenConns(1)
	for _, p := range connPragmas {
		// Some pragmas answer with a row, some do not.
		var ignored string
		_ = db.QueryRow(p).Scan(&ignored)
	}
	return &LibSQLStore{db: db}, nil
}

// DB exposes the handle for the event log's transactions.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Migrate(ctx context.Context) error { return runMigrations(ctx, s.db) }

func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return dbErr("vacuum", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// dbErr wraps a driver failure as STORE_ERROR. Nil and errors that
// already carry a code pass through.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *schema.MacroError
	if errors.As(err, &me) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func notFound(resource, key string) *schema.MacroError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, key)
}

// one maps a missing row to NOT_FOUND.
func one[T any](v T, err error, resource, key string) (T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, notFound(resource, key)
	}
	return v, dbErr("read "+resource, err)
}

// touched reports NOT_FOUND when an UPDATE or DELETE matched no row.
func touched(res sql.Result, err error, resource, key string) error {
	if err != nil {
		return dbErr("write "+resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("write "+resource, err)
	}
	if n == 0 {
		return notFound(resource, key)
	}
	return nil
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// orNull turns zero values into SQL NULL.
func orNull[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

func timeOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func rawOrNull(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func nullableRaw(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// stringList is a []string column stored as a JSON array.
func stringList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func parseStringList(col string) []string {
	var out []string
	if col != "" {
		_ = json.Unmarshal([]byte(col), &out)
	}
	return out
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}
