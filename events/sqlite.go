package events

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ScalarPoint is one stored sample of a metric.
type ScalarPoint struct {
	Step  int
	Value float64
}

// Store persists scalars to a sqlite database so runs can be inspected
// with plain SQL after the fact.
type Store struct {
	db  *sql.DB
	run string
	now func() time.Time
}

// NewStore opens (or creates) the database at path and scopes all writes
// to the named run.
func NewStore(path, run string) (*Store, error) {
	if run == "" {
		return nil, fmt.Errorf("run name must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scalar store: %v", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS scalars (
	run   TEXT NOT NULL,
	tag   TEXT NOT NULL,
	step  INTEGER NOT NULL,
	value REAL NOT NULL,
	wall  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS scalars_run_tag_step ON scalars (run, tag, step);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize scalar store: %v", err)
	}

	return &Store{db: db, run: run, now: time.Now}, nil
}

func (s *Store) WriteScalars(step int, values map[string]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}

	wall := float64(s.now().UnixNano()) / 1e9
	for tag, v := range values {
		if _, err := tx.Exec(
			"INSERT INTO scalars (run, tag, step, value, wall) VALUES (?, ?, ?, ?, ?)",
			s.run, tag, step, v, wall,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert scalar %s: %v", tag, err)
		}
	}

	return tx.Commit()
}

// History returns every stored sample of a tag in step order.
func (s *Store) History(tag string) ([]ScalarPoint, error) {
	rows, err := s.db.Query(
		"SELECT step, value FROM scalars WHERE run = ? AND tag = ? ORDER BY step",
		s.run, tag,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scalars: %v", err)
	}
	defer rows.Close()

	var out []ScalarPoint
	for rows.Next() {
		var p ScalarPoint
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan scalar: %v", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
