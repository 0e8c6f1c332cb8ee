package person

import (
	"context"
	"strings"

	"github.com/aanand-mishra/persons-api/internal/logger"
	"github.com/aanand-mishra/persons-api/internal/metrics"
	"github.com/aanand-mishra/persons-api/internal/storage"
	"github.com/aanand-mishra/persons-api/internal/types"
)

// Operation names, used in logs, errors and metrics labels.
const (
	OpList   = "list"
	OpGet    = "get"
	OpSearch = "search"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpHealth = "health"
)

// PersistenceError is a store failure caught at the operation boundary.
// ID is zero for operations that do not target a single person.
type PersistenceError struct {
	Op  string
	ID  int64
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence error: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Resource runs each person operation as one unit of work: acquire a
// session, do one read or one write transaction, release the session.
//
// Reads never open a transaction. Writes that target an id look the row
// up first, outside the transaction; a miss returns found=false and
// nothing is begun. Note that this leaves a window between the lookup
// and the write in which a concurrent request can delete the row. The
// store reports that case as an error and the write is rolled back.
type Resource struct {
	provider storage.Provider
	log      *logger.Logger
}

func NewResource(provider storage.Provider, log *logger.Logger) *Resource {
	return &Resource{provider: provider, log: log}
}

// ─────────────────────────────────────────────────────────────────────────────
// List returns every person.
//
// Reads run straight on the session, no transaction:
//
//	acquire session -> FindAll -> release session
// ─────────────────────────────────────────────────────────────────────────────
func (r *Resource) List(ctx context.Context) ([]types.Person, error) {
	var persons []types.Person
	err := r.withSession(ctx, OpList, 0, func(s storage.Session) (err error) {
		persons, err = s.FindAll(ctx)
		return err
	})
	return persons, err
}

// Get looks up one person. A miss is found=false with a nil error.
func (r *Resource) Get(ctx context.Context, id int64) (person types.Person, found bool, err error) {
	err = r.withSession(ctx, OpGet, id, func(s storage.Session) (err error) {
		person, found, err = s.Find(ctx, id)
		return err
	})
	return person, found, err
}

// Search matches persons by name. A blank name behaves like List.
func (r *Resource) Search(ctx context.Context, name string) ([]types.Person, error) {
	name = strings.TrimSpace(name)

	var persons []types.Person
	err := r.withSession(ctx, OpSearch, 0, func(s storage.Session) (err error) {
		if name == "" {
			persons, err = s.FindAll(ctx)
			return err
		}
		persons, err = s.SearchByName(ctx, name)
		return err
	})
	return persons, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Create stores in as a new person. Any id on in is ignored: the store
// assigns it and Persist writes it back into person.
//
//	acquire session -> begin -> Persist -> commit -> release session
//
// On failure the transaction is rolled back (if still active) and the
// error comes back as *PersistenceError.
// ─────────────────────────────────────────────────────────────────────────────
func (r *Resource) Create(ctx context.Context, in types.Person) (types.Person, error) {
	person := types.Person{Name: in.Name, Age: in.Age}
	err := r.withSession(ctx, OpCreate, 0, func(s storage.Session) error {
		return r.inTx(ctx, s, OpCreate, func(txCtx context.Context, tx storage.Tx) error {
			return tx.Persist(txCtx, &person)
		})
	})
	if err != nil {
		return types.Person{}, err
	}
	return person, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Update overwrites the name and age of person id.
//
//	acquire session -> Find -> (miss: return found=false)
//	                        -> begin -> Merge -> commit -> release session
//
// found is true as soon as the lookup hits, even if the write later
// fails, so the handler can tell 404 from 500.
// ─────────────────────────────────────────────────────────────────────────────
func (r *Resource) Update(ctx context.Context, id int64, in types.Person) (person types.Person, found bool, err error) {
	err = r.withSession(ctx, OpUpdate, id, func(s storage.Session) error {
		existing, ok, err := s.Find(ctx, id)
		if err != nil || !ok {
			return err
		}
		found = true

		existing.Name = in.Name
		existing.Age = in.Age
		if err := r.inTx(ctx, s, OpUpdate, func(txCtx context.Context, tx storage.Tx) error {
			return tx.Merge(txCtx, existing)
		}); err != nil {
			return err
		}
		person = existing
		return nil
	})
	if err != nil {
		return types.Person{}, found, err
	}
	return person, found, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete removes person id permanently. Same shape as Update: look up
// first, and only begin a transaction when the row exists.
// ─────────────────────────────────────────────────────────────────────────────
func (r *Resource) Delete(ctx context.Context, id int64) (found bool, err error) {
	err = r.withSession(ctx, OpDelete, id, func(s storage.Session) error {
		_, ok, err := s.Find(ctx, id)
		if err != nil || !ok {
			return err
		}
		found = true

		return r.inTx(ctx, s, OpDelete, func(txCtx context.Context, tx storage.Tx) error {
			return tx.Remove(txCtx, id)
		})
	})
	return found, err
}

// Health checks that a session can be acquired and its connection used.
func (r *Resource) Health(ctx context.Context) error {
	return r.withSession(ctx, OpHealth, 0, func(s storage.Session) error {
		return s.Ping(ctx)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// withSession acquires a session, runs fn and releases the session on
// every path, panics included. Errors come back as *PersistenceError.
//
// The release sits in a defer, so it runs on success, on not-found, on
// error and while a panic unwinds.
// ─────────────────────────────────────────────────────────────────────────────
func (r *Resource) withSession(ctx context.Context, op string, id int64, fn func(storage.Session) error) error {
	log := r.opLogger(ctx, op, id)

	sess, err := r.provider.Acquire(ctx)
	if err != nil {
		return r.fail(log, op, id, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("failed to release persistence context", "error", cerr)
		}
	}()

	if err := fn(sess); err != nil {
		return r.fail(log, op, id, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// inTx runs fn inside a transaction on s and commits. On failure the
// transaction is rolled back only if it still reports itself active, so
// a failed commit is never followed by a rollback.
//
// The transaction runs detached from ctx cancellation: once begun it
// always ends in a commit or a rollback. fn must use the context it is
// handed, not the request context.
//
// Outcome per exit path:
//
//	fn ok, commit ok       commit recorded
//	fn fails               rollback (tx still active)
//	commit fails           no rollback (tx already finished)
//	panic                  rollback if active, then re-panic
// ─────────────────────────────────────────────────────────────────────────────
func (r *Resource) inTx(ctx context.Context, s storage.Session, op string, fn func(context.Context, storage.Tx) error) (err error) {
	txCtx := context.WithoutCancel(ctx)
	log := logger.FromContext(ctx, r.log).With("op", op)

	tx, err := s.Begin(txCtx)
	if err != nil {
		metrics.RecordTx(op, metrics.TxFailed)
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if tx.Active() {
				r.rollback(log, tx)
				metrics.RecordTx(op, metrics.TxRollback)
			}
			panic(p)
		}
		switch {
		case err == nil:
			metrics.RecordTx(op, metrics.TxCommit)
		case tx.Active():
			r.rollback(log, tx)
			metrics.RecordTx(op, metrics.TxRollback)
		default:
			metrics.RecordTx(op, metrics.TxFailed)
		}
	}()

	if err = fn(txCtx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Resource) rollback(log *logger.Logger, tx storage.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Error("rollback failed", "error", err)
	}
}

func (r *Resource) fail(log *logger.Logger, op string, id int64, err error) error {
	log.Error("person operation failed", "error", err)
	return &PersistenceError{Op: op, ID: id, Err: err}
}

func (r *Resource) opLogger(ctx context.Context, op string, id int64) *logger.Logger {
	log := logger.FromContext(ctx, r.log).With("op", op)
	if id != 0 {
		log = log.With("id", id)
	}
	return log
}
