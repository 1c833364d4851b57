package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rlgopher/pporl/report"
)

// SQLiteTracker appends each iteration's metrics to a run-history
// database, one row per metric. The database outlives the process, so
// runs can be compared after the fact.
type SQLiteTracker struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteTracker creates a tracker backed by the database at path.
func NewSQLiteTracker(path string) *SQLiteTracker {
	return &SQLiteTracker{path: path}
}

// Init opens the database and creates the schema if needed.
func (s *SQLiteTracker) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("init: sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("init: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("init: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS iteration_metrics (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (run_id, epoch, metric)
		);
	`)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init: could not create tables: %v", err)
	}

	s.db = db
	return nil
}

// TrackIteration implements the Tracker interface.
func (s *SQLiteTracker) TrackIteration(ctx context.Context, runID string,
	epoch int, rep *report.Report) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, runID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("trackiteration: could not record run: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trackiteration: %v", err)
	}
	for metric, value := range rep.Metrics() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO iteration_metrics (run_id, epoch, metric, value)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id, epoch, metric) DO UPDATE SET
				value = excluded.value
		`, runID, epoch, metric, value)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("trackiteration: could not record metric "+
				"%q: %v", metric, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("trackiteration: %v", err)
	}
	return nil
}

// MetricHistory returns one run's recorded values of a metric, ordered
// by epoch.
func (s *SQLiteTracker) MetricHistory(ctx context.Context, runID,
	metric string) ([]float64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT value FROM iteration_metrics
		WHERE run_id = ? AND metric = ?
		ORDER BY epoch
	`, runID, metric)
	if err != nil {
		return nil, fmt.Errorf("metrichistory: %v", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("metrichistory: %v", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Close implements the Tracker interface.
func (s *SQLiteTracker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteTracker) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("tracker is not initialized")
	}
	return s.db, nil
}
