package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/aanand-mishra/persons-api/internal/storage"
	"github.com/aanand-mishra/persons-api/internal/types"
)

// session is a persistence context backed by one pooled connection.
type session struct {
	conn *sqlx.Conn
}

var _ storage.Session = (*session)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// FindAll returns every row of the persons table ordered by id.
//
// SelectContext runs the query and scans each row into a types.Person
// using the `db:"..."` struct tags, so there is no manual rows.Next()
// loop here. The slice starts non-nil so an empty table encodes as []
// rather than null.
// ─────────────────────────────────────────────────────────────────────────────
func (s *session) FindAll(ctx context.Context) ([]types.Person, error) {
	persons := make([]types.Person, 0)
	if err := s.conn.SelectContext(ctx, &persons, qSelectAll); err != nil {
		return nil, fmt.Errorf("FindAll: select: %w", err)
	}
	return persons, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Find looks one person up by primary key.
//
// GetContext returns sql.ErrNoRows when nothing matches. That is an
// expected outcome, not a failure, so it becomes found=false with a nil
// error and the caller decides what "missing" means (404 in the handlers).
//
// Rebind rewrites the ? placeholders into the driver's own style:
// SQLite keeps ?, PostgreSQL needs $1, $2, ...
// ─────────────────────────────────────────────────────────────────────────────
func (s *session) Find(ctx context.Context, id int64) (types.Person, bool, error) {
	var person types.Person
	err := s.conn.GetContext(ctx, &person, s.conn.Rebind(qSelectByID), id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Person{}, false, nil
	}
	if err != nil {
		return types.Person{}, false, fmt.Errorf("Find: get: %w", err)
	}
	return person, true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SearchByName does a case-insensitive substring match on name.
//
// The pattern is built as %<name>% after escaping the LIKE wildcards, so
// a search for "_" finds names that contain an underscore instead of
// every name with at least one character.
// ─────────────────────────────────────────────────────────────────────────────
func (s *session) SearchByName(ctx context.Context, name string) ([]types.Person, error) {
	pattern := "%" + escapeLike(strings.ToLower(name)) + "%"

	persons := make([]types.Person, 0)
	if err := s.conn.SelectContext(ctx, &persons, s.conn.Rebind(qSearchByName), pattern); err != nil {
		return nil, fmt.Errorf("SearchByName: select: %w", err)
	}
	return persons, nil
}

func (s *session) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Begin opens a write transaction on this session's connection.
//
// The transaction is pinned to the same *sqlx.Conn the reads used, so a
// request never holds more than one pooled connection at a time.
// ─────────────────────────────────────────────────────────────────────────────
func (s *session) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}
	return &transaction{tx: tx, active: true}, nil
}

// Close hands the connection back to the pool. The pool decides whether
// to keep it idle or close it; the session must not be used afterwards.
func (s *session) Close() error {
	return s.conn.Close()
}

// escapeLike makes %, _ and the escape character itself match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// transaction tracks its own state so callers can ask whether a rollback
// still makes sense. database/sql finishes a Tx on the first Commit or
// Rollback call whatever its outcome, so both clear the active flag.
type transaction struct {
	tx     *sqlx.Tx
	active bool
}

var _ storage.Tx = (*transaction)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Persist inserts p and writes the new id back into p.ID.
//
// INSERT ... RETURNING id works on both SQLite (3.35+) and PostgreSQL,
// which is why this uses QueryRowx + Scan instead of Exec + LastInsertId:
// pgx does not implement LastInsertId at all.
// ─────────────────────────────────────────────────────────────────────────────
func (t *transaction) Persist(ctx context.Context, p *types.Person) error {
	var id int64
	if err := t.tx.QueryRowxContext(ctx, t.tx.Rebind(qInsert), p.Name, p.Age).Scan(&id); err != nil {
		return fmt.Errorf("Persist: insert: %w", err)
	}
	p.ID = id
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Merge overwrites name and age on the row with p.ID.
// Exactly one row must change, see expectOneRow.
// ─────────────────────────────────────────────────────────────────────────────
func (t *transaction) Merge(ctx context.Context, p types.Person) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(qUpdate), p.Name, p.Age, p.ID)
	if err != nil {
		return fmt.Errorf("Merge: update: %w", err)
	}
	return expectOneRow("Merge", p.ID, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Remove deletes the row with the given id.
// Exactly one row must change, see expectOneRow.
// ─────────────────────────────────────────────────────────────────────────────
func (t *transaction) Remove(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(qDelete), id)
	if err != nil {
		return fmt.Errorf("Remove: delete: %w", err)
	}
	return expectOneRow("Remove", id, res)
}

// Commit and Rollback both clear the active flag before talking to the
// driver. After a failed commit the Tx is already finished, so Active()
// reports false and the caller skips the rollback.
func (t *transaction) Commit() error {
	t.active = false
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (t *transaction) Rollback() error {
	t.active = false
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("Rollback: %w", err)
	}
	return nil
}

func (t *transaction) Active() bool {
	return t.active
}

// expectOneRow reports a row that disappeared between the lookup and the
// write. The lookup runs outside the transaction, so a concurrent delete
// can land in between.
func expectOneRow(op string, id int64, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: person %d no longer exists: %w", op, id, sql.ErrNoRows)
	}
	return nil
}
