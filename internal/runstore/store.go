// Package runstore persists completed sampling runs to a local SQLite file
// so results can be listed and re-fetched after the process exits.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("runstore: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	adapter     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	steps       INTEGER NOT NULL,
	batch       INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	sigma_max   REAL NOT NULL,
	cls_scaling REAL NOT NULL,
	heun        INTEGER NOT NULL,
	langevin    INTEGER NOT NULL,
	schedule    TEXT NOT NULL,
	shape       TEXT NOT NULL,
	final       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC);
`

// Run is one persisted sampling run: the settings that produced it, the
// snapped schedule it visited, and the flattened final states.
type Run struct {
	ID         string    `json:"id"`
	Adapter    string    `json:"adapter"`
	CreatedAt  time.Time `json:"created_at"`
	Steps      int       `json:"steps"`
	Batch      int       `json:"batch"`
	Seed       int64     `json:"seed"`
	SigmaMax   float64   `json:"sigma_max"`
	ClsScaling float64   `json:"cls_scaling"`
	Heun       bool      `json:"heun"`
	Langevin   bool      `json:"langevin"`
	Schedule   []float64 `json:"schedule"`
	Shape      []int     `json:"shape"`
	Final      []float32 `json:"final"`
}

// Store wraps the SQLite handle. Safe for concurrent use; database/sql
// serialises access to the underlying connection pool.
type Store struct {
	db *sql.DB
}

// Open opens or creates the run database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("runstore: empty database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runstore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("runstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts one run. The id must be unique; saving the same id twice is
// an error rather than an upsert, since runs are immutable once recorded.
func (s *Store) Save(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return fmt.Errorf("runstore: run id is empty")
	}
	sched, err := json.Marshal(r.Schedule)
	if err != nil {
		return fmt.Errorf("runstore: encode schedule: %w", err)
	}
	shape, err := json.Marshal(r.Shape)
	if err != nil {
		return fmt.Errorf("runstore: encode shape: %w", err)
	}
	final, err := json.Marshal(r.Final)
	if err != nil {
		return fmt.Errorf("runstore: encode final states: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, adapter, created_at, steps, batch, seed, sigma_max, cls_scaling, heun, langevin, schedule, shape, final)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Adapter, r.CreatedAt.UTC().Format(time.RFC3339Nano), r.Steps, r.Batch, r.Seed,
		r.SigmaMax, r.ClsScaling, boolInt(r.Heun), boolInt(r.Langevin),
		string(sched), string(shape), string(final),
	)
	if err != nil {
		return fmt.Errorf("runstore: save run %s: %w", r.ID, err)
	}
	return nil
}

// Get fetches one run by id.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, adapter, created_at, steps, batch, seed, sigma_max, cls_scaling, heun, langevin, schedule, shape, final
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: get run %s: %w", id, err)
	}
	return r, nil
}

// List returns up to limit runs, newest first. A non-positive limit means
// all of them.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1 // sqlite treats a negative LIMIT as unbounded
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, adapter, created_at, steps, batch, seed, sigma_max, cls_scaling, heun, langevin, schedule, shape, final
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runstore: list runs: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore: list runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r              Run
		created        string
		heun, langevin int
		sched, shape   string
		final          string
	)
	err := row.Scan(&r.ID, &r.Adapter, &created, &r.Steps, &r.Batch, &r.Seed, &r.SigmaMax,
		&r.ClsScaling, &heun, &langevin, &sched, &shape, &final)
	if err != nil {
		return nil, err
	}
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	r.Heun = heun != 0
	r.Langevin = langevin != 0
	if err := json.Unmarshal([]byte(sched), &r.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(shape), &r.Shape); err != nil {
		return nil, fmt.Errorf("decode shape: %w", err)
	}
	if err := json.Unmarshal([]byte(final), &r.Final); err != nil {
		return nil, fmt.Errorf("decode final states: %w", err)
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
