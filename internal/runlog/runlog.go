// Package runlog records pipeline runs and per-file outcomes in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run states.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// FileStatus is the outcome of processing one source file.
type FileStatus string

// File outcomes.
const (
	FileStatusLoaded        FileStatus = "loaded"
	FileStatusSchemaMissing FileStatus = "schema_missing"
	FileStatusUnparseable   FileStatus = "unparseable"
	FileStatusArchiveError  FileStatus = "archive_error"
	FileStatusRejectedEntry FileStatus = "rejected_entry"
)

// Result is the summary stored when a run completes.
type Result struct {
	Rows            int            `json:"rows"`
	Valid           int            `json:"valid"`
	Flagged         int            `json:"flagged"`
	Enriched        int            `json:"enriched"`
	Groups          int            `json:"groups"`
	StatusCounts    map[string]int `json:"status_counts,omitempty"`
	ConsolidatedCSV string         `json:"consolidated_csv,omitempty"`
	Bundle          string         `json:"bundle,omitempty"`
}

// Run is one pipeline invocation.
type Run struct {
	ID          string
	Quarters    []string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	Result      *Result
}

// FileEntry is the outcome for one file of a run.
type FileEntry struct {
	Archive  string
	File     string
	Quarter  string
	Status   FileStatus
	Rows     int
	Accepted int
	Dropped  int
	Skipped  int
	Error    string
}

// Log is a SQLite-backed run log.
type Log struct {
	db *sql.DB
}

// Open opens the run log at dsn and configures WAL mode. The pool is held to
// one connection so the pragmas apply to every statement and concurrent
// writers queue in the pool instead of failing with SQLITE_BUSY.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	return &Log{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	quarters     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT,
	result       TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_files (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	archive    TEXT NOT NULL,
	file       TEXT NOT NULL,
	quarter    TEXT NOT NULL,
	status     TEXT NOT NULL,
	rows       INTEGER NOT NULL DEFAULT 0,
	accepted   INTEGER NOT NULL DEFAULT 0,
	dropped    INTEGER NOT NULL DEFAULT 0,
	skipped    INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_files_run_id ON run_files(run_id);
`

// Migrate creates the tables if needed.
func (l *Log) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runlog: migrate")
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Start records a new running run.
func (l *Log) Start(ctx context.Context, quarters []string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Quarters:  quarters,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, quarters, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, strings.Join(quarters, ","), string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: insert run")
	}
	return run, nil
}

// RecordFile appends a file outcome to a run.
func (l *Log) RecordFile(ctx context.Context, runID string, f FileEntry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_files (run_id, archive, file, quarter, status, rows, accepted, dropped, skipped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, f.Archive, f.File, f.Quarter, string(f.Status), f.Rows, f.Accepted, f.Dropped, f.Skipped, nullString(f.Error),
	)
	return eris.Wrapf(err, "runlog: record file %s", f.File)
}

// Complete marks a run as finished and stores its result.
func (l *Log) Complete(ctx context.Context, runID string, result *Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal result")
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		string(RunStatusComplete), string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// Fail marks a run as failed.
func (l *Log) Fail(ctx context.Context, runID, errMsg string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// ListRuns returns the most recent runs first. A non-positive limit means 20.
func (l *Log) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, quarters, status, error, result, started_at, completed_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

// GetRun fetches a run by ID or unique ID prefix.
func (l *Log) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, quarters, status, error, result, started_at, completed_at
		 FROM runs WHERE id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: get run %s", id)
	}
	defer rows.Close() //nolint:errcheck

	var found []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "runlog: iterate runs")
	}
	switch len(found) {
	case 0:
		return nil, eris.Errorf("run not found: %s", id)
	case 1:
		return found[0], nil
	}
	return nil, eris.Errorf("run id prefix %s is ambiguous", id)
}

// ListFiles returns the file outcomes of a run in insertion order.
func (l *Log) ListFiles(ctx context.Context, runID string) ([]FileEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT archive, file, quarter, status, rows, accepted, dropped, skipped, error
		 FROM run_files WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: list files %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var files []FileEntry
	for rows.Next() {
		var f FileEntry
		var status string
		var errStr sql.NullString
		if err := rows.Scan(&f.Archive, &f.File, &f.Quarter, &status, &f.Rows, &f.Accepted, &f.Dropped, &f.Skipped, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan file")
		}
		f.Status = FileStatus(status)
		f.Error = errStr.String
		files = append(files, f)
	}
	return files, eris.Wrap(rows.Err(), "runlog: iterate files")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		r          Run
		quarters   string
		status     string
		errStr     sql.NullString
		resultJSON sql.NullString
		completed  sql.NullTime
	)
	if err := row.Scan(&r.ID, &quarters, &status, &errStr, &resultJSON, &r.StartedAt, &completed); err != nil {
		return nil, eris.Wrap(err, "runlog: scan run")
	}
	if quarters != "" {
		r.Quarters = strings.Split(quarters, ",")
	}
	r.Status = RunStatus(status)
	r.Error = errStr.String
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var res Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return nil, eris.Wrap(err, "runlog: unmarshal result")
		}
		r.Result = &res
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
