package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordRun persists a run, its resource outcomes, and the applied states in
// one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *RunRecord, resources []ResourceRecord, states []ResourceState) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, stack, status, started_at, completed_at, outputs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Stack,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Outputs,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, r := range resources {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_resources (run_id, kind, name, state, action, attempts, duration_ms, error, skip_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			r.Kind,
			r.Name,
			r.State,
			r.Action,
			r.Attempts,
			r.DurationMS,
			r.Error,
			r.SkipReason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run resource %s/%s: %w", r.Kind, r.Name, err)
		}
	}

	for _, st := range states {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO resource_state (kind, name, properties, last_run_id, last_applied)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(kind, name) DO UPDATE SET
				properties = excluded.properties,
				last_run_id = excluded.last_run_id,
				last_applied = excluded.last_applied
		`,
			st.Kind,
			st.Name,
			st.Properties,
			st.LastRunID,
			st.LastApplied,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert resource state %s/%s: %w", st.Kind, st.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run record: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, stack, status, started_at, completed_at, outputs, created_at
		FROM runs
		WHERE id = ?
	`, id).Scan(
		&run.ID,
		&run.Stack,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Outputs,
		&run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stack, status, started_at, completed_at, outputs, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.Stack,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Outputs,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ListRunResources lists the per-resource outcomes of a run in insert order.
func (s *SQLiteStore) ListRunResources(ctx context.Context, runID string) ([]*ResourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, kind, name, state, action, attempts, duration_ms, error, skip_reason
		FROM run_resources
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run resources: %w", err)
	}
	defer rows.Close()

	resources := []*ResourceRecord{}
	for rows.Next() {
		r := &ResourceRecord{}
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Kind,
			&r.Name,
			&r.State,
			&r.Action,
			&r.Attempts,
			&r.DurationMS,
			&r.Error,
			&r.SkipReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run resource: %w", err)
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run resources: %w", err)
	}
	return resources, nil
}

// GetResourceState retrieves the last applied state of a resource.
func (s *SQLiteStore) GetResourceState(ctx context.Context, kind, name string) (*ResourceState, error) {
	st := &ResourceState{}
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, name, properties, last_run_id, last_applied
		FROM resource_state
		WHERE kind = ? AND name = ?
	`, kind, name).Scan(
		&st.Kind,
		&st.Name,
		&st.Properties,
		&st.LastRunID,
		&st.LastApplied,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource state not found: %s/%s", kind, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource state: %w", err)
	}
	return st, nil
}

// ListResourceStates lists applied resource states with pagination.
func (s *SQLiteStore) ListResourceStates(ctx context.Context, limit, offset int) ([]*ResourceState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, name, properties, last_run_id, last_applied
		FROM resource_state
		ORDER BY last_applied DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource states: %w", err)
	}
	defer rows.Close()

	states := []*ResourceState{}
	for rows.Next() {
		st := &ResourceState{}
		err := rows.Scan(
			&st.Kind,
			&st.Name,
			&st.Properties,
			&st.LastRunID,
			&st.LastApplied,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource states: %w", err)
	}
	return states, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
