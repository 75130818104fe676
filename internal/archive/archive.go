package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/results"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run describes one archived measurement run.
type Run struct {
	ID                 string
	Kind               string
	Mode               string
	StartedAt          time.Time
	FinishedAt         *time.Time
	EngineBin          string
	DBPath             string
	Reps               int
	CatalogFingerprint string
	HostJSON           string
	Status             string
}

// Archive is a SQLite-backed run history.
type Archive struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // single writer
}

// Open opens or creates the archive database at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeOpenFailed, "failed to open archive", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{db: db, path: path}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := a.db.Exec(stmt); err != nil {
			return berrors.NewArchiveError(berrors.CodeOpenFailed, "failed to initialize archive schema", err)
		}
	}
	return nil
}

// Path returns the database file.
func (a *Archive) Path() string { return a.path }

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// BeginRun inserts run with a fresh id and running status, and returns the id.
func (a *Archive) BeginRun(ctx context.Context, run Run) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	run.ID = uuid.NewString()
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.HostJSON == "" {
		run.HostJSON = "{}"
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, kind, mode, started_at, engine_bin, db_path,
			reps, catalog_fingerprint, host_json, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Mode, run.StartedAt.UnixMilli(), run.EngineBin, run.DBPath,
		run.Reps, run.CatalogFingerprint, run.HostJSON, StatusRunning,
	)
	if err != nil {
		return "", berrors.NewArchiveError(berrors.CodeWriteFailed, "failed to insert run", err)
	}
	return run.ID, nil
}

// FinishRun stamps the run's end time and final status.
func (a *Archive) FinishRun(ctx context.Context, runID, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, status = ? WHERE run_id = ?",
		time.Now().UTC().UnixMilli(), status, runID,
	)
	if err != nil {
		return berrors.NewArchiveError(berrors.CodeWriteFailed, "failed to finish run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return berrors.NewArchiveError(berrors.CodeRunNotFound, fmt.Sprintf("run %s not found", runID), nil)
	}
	return nil
}

const runColumns = `run_id, kind, mode, started_at, finished_at, engine_bin, db_path,
	reps, catalog_fingerprint, host_json, status`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r          Run
		startedAt  int64
		finishedAt sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Kind, &r.Mode, &startedAt, &finishedAt, &r.EngineBin, &r.DBPath,
		&r.Reps, &r.CatalogFingerprint, &r.HostJSON, &r.Status); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (a *Archive) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, run_id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to list runs", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to scan run", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to list runs", err)
	}
	return runs, nil
}

// GetRun returns the run with the given id. A unique id prefix is accepted.
func (a *Archive) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(a.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id = ?", id))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to get run", err)
	}

	rows, err := a.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id LIKE ? || '%' LIMIT 2", id)
	if err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to get run", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to scan run", err)
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to get run", err)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, berrors.NewArchiveError(berrors.CodeRunNotFound, fmt.Sprintf("run %s not found", id), nil)
	default:
		return nil, berrors.NewArchiveError(berrors.CodeRunNotFound, fmt.Sprintf("run id prefix %s is ambiguous", id), nil)
	}
}

// Recorder returns sinks appending samples to runID.
func (a *Archive) Recorder(ctx context.Context, runID string) *Recorder {
	return &Recorder{a: a, ctx: ctx, runID: runID}
}

// Recorder writes samples of one run. It implements results.TimingSink,
// results.MemorySink and results.JoinSizeSink.
type Recorder struct {
	a     *Archive
	ctx   context.Context
	runID string
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) exec(what, query string, args ...any) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()

	if _, err := r.a.db.ExecContext(r.ctx, query, args...); err != nil {
		return berrors.NewArchiveError(berrors.CodeWriteFailed, "failed to record "+what, err)
	}
	return nil
}

// RecordTiming stores one timing sample.
func (r *Recorder) RecordTiming(s results.TimingSample) error {
	return r.exec("timing sample",
		"INSERT INTO timing_samples (run_id, mode, query, rep, time_seconds) VALUES (?, ?, ?, ?, ?)",
		r.runID, s.Mode, s.Query, s.Rep, s.Seconds)
}

// RecordMemory stores one memory sample.
func (r *Recorder) RecordMemory(s results.MemorySample) error {
	return r.exec("memory sample",
		"INSERT INTO memory_samples (run_id, mode, query, rep, peak_memory_bytes, status) VALUES (?, ?, ?, ?, ?, ?)",
		r.runID, s.Mode, s.Query, s.Rep, s.PeakBytes, s.Status)
}

// RecordJoinSize stores one join-size sample.
func (r *Recorder) RecordJoinSize(s results.JoinSizeSample) error {
	return r.exec("join sample",
		"INSERT INTO join_samples (run_id, mode, query, step, step_name, row_count) VALUES (?, ?, ?, ?, ?, ?)",
		r.runID, s.Mode, s.Query, s.Step, s.StepName, s.RowCount)
}

// LoadTimings returns the timing samples of a run in insertion order.
func (a *Archive) LoadTimings(ctx context.Context, runID string) ([]results.TimingSample, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT mode, query, rep, time_seconds FROM timing_samples WHERE run_id = ? ORDER BY rowid", runID)
	if err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to load timing samples", err)
	}
	defer rows.Close()

	var out []results.TimingSample
	for rows.Next() {
		var s results.TimingSample
		if err := rows.Scan(&s.Mode, &s.Query, &s.Rep, &s.Seconds); err != nil {
			return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to scan timing sample", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadMemory returns the memory samples of a run in insertion order.
func (a *Archive) LoadMemory(ctx context.Context, runID string) ([]results.MemorySample, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT mode, query, rep, peak_memory_bytes, status FROM memory_samples WHERE run_id = ? ORDER BY rowid", runID)
	if err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to load memory samples", err)
	}
	defer rows.Close()

	var out []results.MemorySample
	for rows.Next() {
		var s results.MemorySample
		if err := rows.Scan(&s.Mode, &s.Query, &s.Rep, &s.PeakBytes, &s.Status); err != nil {
			return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to scan memory sample", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadJoinSizes returns the join-size samples of a run in insertion order.
func (a *Archive) LoadJoinSizes(ctx context.Context, runID string) ([]results.JoinSizeSample, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT mode, query, step, step_name, row_count FROM join_samples WHERE run_id = ? ORDER BY rowid", runID)
	if err != nil {
		return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to load join samples", err)
	}
	defer rows.Close()

	var out []results.JoinSizeSample
	for rows.Next() {
		var s results.JoinSizeSample
		if err := rows.Scan(&s.Mode, &s.Query, &s.Step, &s.StepName, &s.RowCount); err != nil {
			return nil, berrors.NewArchiveError(berrors.CodeQueryFailed, "failed to scan join sample", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
