// Package store database for install runs and the outcome of every provisioning step
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNoRuns = errors.New("no install runs recorded")

type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{db: db}

	if err := database.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return database, nil
}

func (d *Database) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT,
		status      TEXT NOT NULL,
		dry_run     INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE TABLE IF NOT EXISTS steps (
		run_id      TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		name        TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	);
	`
	_, err := d.db.Exec(query)
	return err
}

// fixed width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (d *Database) StartRun(id string, startedAt time.Time, dryRun bool) error {
	query := `INSERT INTO runs (id, started_at, status, dry_run) VALUES (?, ?, ?, ?)`
	_, err := d.db.Exec(query, id, formatTime(startedAt), RunRunning, boolToInt(dryRun))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (d *Database) FinishRun(id string, status string, errMsg string, finishedAt time.Time) error {
	query := `UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`
	result, err := d.db.Exec(query, status, errMsg, formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

func (d *Database) InsertStep(s StepRecord) error {
	query := `
		INSERT INTO steps (run_id, seq, name, outcome, message, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.Exec(query,
		s.RunID,
		s.Seq,
		s.Name,
		s.Outcome,
		s.Message,
		formatTime(s.StartedAt),
		s.Duration.Milliseconds(),
		s.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, dry_run, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	var dryRun int
	if err := row.Scan(&r.ID, &startedAt, &finishedAt, &r.Status, &dryRun, &r.Error); err != nil {
		return Run{}, err
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("invalid started_at for run %s: %w", r.ID, err)
	}
	r.StartedAt = t

	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("invalid finished_at for run %s: %w", r.ID, err)
		}
		r.FinishedAt = &t
	}
	r.DryRun = dryRun != 0
	return r, nil
}

func (d *Database) GetRun(id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	r, err := scanRun(d.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// LatestRun returns the most recently started run or ErrNoRuns.
func (d *Database) LatestRun() (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT 1`
	r, err := scanRun(d.db.QueryRow(query))
	if err == sql.ErrNoRows {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return &r, nil
}

func (d *Database) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ?`
	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

func (d *Database) GetSteps(runID string) ([]StepRecord, error) {
	query := `
		SELECT run_id, seq, name, outcome, message, started_at, duration_ms, error
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`
	rows, err := d.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var s StepRecord
		var startedAt string
		var durationMs int64
		if err := rows.Scan(&s.RunID, &s.Seq, &s.Name, &s.Outcome, &s.Message, &startedAt, &durationMs, &s.Error); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		t, err := parseTime(startedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid started_at for step %s: %w", s.Name, err)
		}
		s.StartedAt = t
		s.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return steps, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (d *Database) Close() error {
	return d.db.Close()
}
