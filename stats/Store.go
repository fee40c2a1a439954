package stats

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scalars (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	step       INTEGER NOT NULL,
	name       TEXT NOT NULL,
	value      REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS scalars_run_name ON scalars (run_id, name, step);
`

// Point is one persisted value of a statistic
type Point struct {
	Step  int
	Value float64
}

// Store implements Sink by persisting statistics to a SQLite
// database. Every Store writes under its own run ID, so several runs
// may share one database file.
type Store struct {
	db    *sql.DB
	runID string
}

// NewStore opens the SQLite database at dbPath, creating its schema
// if needed. If runID is empty, a new random run ID is used.
func NewStore(dbPath, runID string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if runID == "" {
		runID = uuid.NewString()
	}
	return &Store{db: db, runID: runID}, nil
}

// RunID returns the run ID the Store writes under
func (s *Store) RunID() string {
	return s.runID
}

// Write implements the Sink interface. All scalars of one step are
// written in a single transaction.
func (s *Store) Write(step int, scalars map[string]float64) error {
	names := make([]string, 0, len(scalars))
	for name := range scalars {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, name := range names {
		_, err := tx.Exec(
			`INSERT INTO scalars (run_id, step, name, value, created_at) VALUES (?, ?, ?, ?, ?)`,
			s.runID, step, name, scalars[name], now,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Series returns all persisted values of the statistic called name
// in this run, ordered by step
func (s *Store) Series(name string) ([]Point, error) {
	rows, err := s.db.Query(
		`SELECT step, value FROM scalars WHERE run_id = ? AND name = ? ORDER BY step, id`,
		s.runID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
