// Package sqlstore implements storage.Provider on top of a database/sql
// connection pool through sqlx. It supports SQLite (mattn/go-sqlite3) and
// PostgreSQL (pgx stdlib); the blank imports below register both drivers.
//
// A Session is one *sqlx.Conn checked out of the pool. Closing the
// session returns the connection, so a leaked session is visible as a
// connection that stays "in use" in sql.DBStats.
package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aanand-mishra/persons-api/internal/config"
	"github.com/aanand-mishra/persons-api/internal/storage"
	"github.com/aanand-mishra/persons-api/internal/types"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const startupTimeout = 10 * time.Second

// Provider is the process-wide owner of the connection pool.
type Provider struct {
	db        *sqlx.DB
	closeOnce sync.Once
	closeErr  error
}

var _ storage.Provider = (*Provider)(nil)

// seedPersons are the sample rows inserted into an empty table when
// seeding is enabled.
var seedPersons = []types.Person{
	{Name: "Ahmed", Age: 21},
	{Name: "Sara", Age: 23},
}

// New opens the pool described by cfg, verifies connectivity, creates the
// persons table if needed and optionally seeds it. Any failure here is a
// startup failure: the pool is closed and the error returned.
func New(cfg config.Storage) (*Provider, error) {
	ddl, err := schemaFor(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.New: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, fmt.Errorf("sqlstore.New: %w", err)
		}
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.New: open db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore.New: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore.New: create table: %w", err)
	}

	p := NewWithDB(db)
	if cfg.Seed {
		if err := p.seed(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlstore.New: %w", err)
		}
	}

	return p, nil
}

// ensureSQLiteDir creates the parent directory of a file-backed SQLite
// DSN; the driver creates the file but not its directory.
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	return nil
}

// NewWithDB wraps an already opened pool. The schema is assumed to exist.
func NewWithDB(db *sqlx.DB) *Provider {
	return &Provider{db: db}
}

// Acquire checks out a dedicated connection from the pool.
func (p *Provider) Acquire(ctx context.Context) (storage.Session, error) {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("Acquire: %w", err)
	}
	return &session{conn: conn}, nil
}

// Close closes the pool once; later calls return the first result.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.db.Close()
	})
	return p.closeErr
}

// Stats exposes pool statistics, mainly so callers can observe that every
// session was released.
func (p *Provider) Stats() StatsSnapshot {
	s := p.db.Stats()
	return StatsSnapshot{Open: s.OpenConnections, InUse: s.InUse, Idle: s.Idle}
}

// StatsSnapshot is the subset of sql.DBStats the service reports.
type StatsSnapshot struct {
	Open  int
	InUse int
	Idle  int
}

func (p *Provider) seed(ctx context.Context) (err error) {
	var count int
	if err := p.db.GetContext(ctx, &count, qCount); err != nil {
		return fmt.Errorf("seed: count: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, person := range seedPersons {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO persons (name, age) VALUES (?, ?)`),
			person.Name, person.Age); err != nil {
			return fmt.Errorf("seed: insert %s: %w", person.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("seed: commit: %w", err)
	}
	return nil
}
