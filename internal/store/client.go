// Package store is the persistence layer: a thin repository API over
// database/sql + pgx, embedded golang-migrate migrations, and the
// session-pinned Postgres advisory lock the tick orchestrator serialises
// on. Grounded on the teacher's pkg/database package; Ent is not used here
// (see DESIGN.md "Dropped teacher dependencies").
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the application connection pool and every repository.
type Store struct {
	db *stdsql.DB

	// lockDB is a dedicated, small connection pool used only for advisory
	// locks (spec §5: "a dedicated connection pool separate from the ORM
	// pool is required" — acquire and release must share one session).
	lockDB *stdsql.DB

	Batches     *BatchRepo
	Atoms       *AtomRepo
	RawEntries  *RawEntryRepo
	Prompts     *PromptRepo
	Labels      *LabelRepo
	Profiles    *FilterProfileRepo
	Runs        *RunRepo
	Jobs        *JobRepo
	Outputs     *OutputRepo
	ClassifyRuns *ClassifyRunRepo
}

// DB exposes the underlying pool for health checks and search queries.
func (s *Store) DB() *stdsql.DB { return s.db }

// NewStore opens the application and lock connection pools, runs embedded
// migrations, and wires every repository.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// A dedicated, deliberately tiny pool for advisory locks: each locked
	// connection is pinned for the duration of a tick, so this pool must
	// never be shared with ordinary repository queries.
	lockDB, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open lock pool: %w", err)
	}
	lockDB.SetMaxOpenConns(8)
	lockDB.SetMaxIdleConns(8)

	return newStoreFromPools(db, lockDB), nil
}

func newStoreFromPools(db, lockDB *stdsql.DB) *Store {
	s := &Store{db: db, lockDB: lockDB}
	s.Batches = &BatchRepo{db: db}
	s.Atoms = &AtomRepo{db: db}
	s.RawEntries = &RawEntryRepo{db: db}
	s.Prompts = &PromptRepo{db: db}
	s.Labels = &LabelRepo{db: db}
	s.Profiles = &FilterProfileRepo{db: db}
	s.Runs = &RunRepo{db: db}
	s.Jobs = &JobRepo{db: db}
	s.Outputs = &OutputRepo{db: db}
	s.ClassifyRuns = &ClassifyRunRepo{db: db}
	return s
}

// Close closes both connection pools.
func (s *Store) Close() error {
	err1 := s.db.Close()
	err2 := s.lockDB.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// BeginTx starts an application-pool transaction.
func (s *Store) BeginTx(ctx context.Context) (*stdsql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// runMigrations applies embedded migrations against an already-open
// connection, mirroring the teacher's pkg/database/client.go runMigrations:
// it must NOT close db itself, since db is shared with the rest of Store.
func runMigrations(ctx context.Context, db *stdsql.DB, cfg Config) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the migration source; closing m would also close the
	// shared *sql.DB via the postgres driver (same caveat the teacher's
	// client.go documents).
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}
