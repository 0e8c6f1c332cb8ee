// Package storage defines the persistence contracts the HTTP layer
// depends on. Handlers never see a concrete database: they ask a
// Provider for a short-lived Session, do one unit of work on it, and
// close it.
//
// Lifetimes:
//
//	Provider  one per process, opened at startup, closed at shutdown
//	Session   one per request, must be closed before the handler returns
//	Tx        at most one per Session, only for writes
package storage

import (
	"context"

	"github.com/aanand-mishra/persons-api/internal/types"
)

// Provider owns the long-lived database handle and hands out sessions.
type Provider interface {
	// Acquire checks out a new Session. The caller owns it and must
	// Close it on every path.
	Acquire(ctx context.Context) (Session, error)

	// Close shuts the provider down. Safe to call more than once.
	Close() error
}

// Session is a persistence context bound to a single request.
// Sessions are not safe for concurrent use.
type Session interface {
	// FindAll returns every person ordered by id. Never nil.
	FindAll(ctx context.Context) ([]types.Person, error)

	// Find looks a person up by id. found is false when no row matches;
	// that is not an error.
	Find(ctx context.Context, id int64) (p types.Person, found bool, err error)

	// SearchByName returns persons whose name contains name,
	// case-insensitively, ordered by id. Never nil.
	SearchByName(ctx context.Context, name string) ([]types.Person, error)

	// Ping checks that the session's connection is usable.
	Ping(ctx context.Context) error

	// Begin starts a transaction on this session.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the session's connection back to the provider.
	Close() error
}

// Tx is a write transaction scoped to a Session.
type Tx interface {
	// Persist inserts p and sets p.ID to the store-assigned id.
	Persist(ctx context.Context, p *types.Person) error

	// Merge writes p's name and age onto the row with p.ID.
	Merge(ctx context.Context, p types.Person) error

	// Remove deletes the row with the given id.
	Remove(ctx context.Context, id int64) error

	Commit() error
	Rollback() error

	// Active reports whether the transaction has begun and has not yet
	// been committed or rolled back.
	Active() bool
}
