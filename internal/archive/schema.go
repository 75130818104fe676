// Package archive keeps a SQLite history of measurement runs and their
// samples so that any two runs can be compared later.
package archive

// CreateRunsTableSQL creates the runs table. One row per invocation of a
// measurement command.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    mode TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    engine_bin TEXT NOT NULL,
    db_path TEXT NOT NULL,
    reps INTEGER NOT NULL,
    catalog_fingerprint TEXT NOT NULL,
    host_json TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL
)`

// CreateTimingSamplesTableSQL mirrors the timing CSV plus run_id.
const CreateTimingSamplesTableSQL = `
CREATE TABLE IF NOT EXISTS timing_samples (
    run_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    query TEXT NOT NULL,
    rep INTEGER NOT NULL,
    time_seconds REAL NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateMemorySamplesTableSQL mirrors the memory CSV plus run_id.
const CreateMemorySamplesTableSQL = `
CREATE TABLE IF NOT EXISTS memory_samples (
    run_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    query TEXT NOT NULL,
    rep INTEGER NOT NULL,
    peak_memory_bytes INTEGER NOT NULL,
    status TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateJoinSamplesTableSQL mirrors the join-size CSV plus run_id.
const CreateJoinSamplesTableSQL = `
CREATE TABLE IF NOT EXISTS join_samples (
    run_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    query TEXT NOT NULL,
    step INTEGER NOT NULL,
    step_name TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateIndexesSQL creates lookup indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_mode ON runs(mode, kind)`,
	`CREATE INDEX IF NOT EXISTS idx_timing_run ON timing_samples(run_id, query)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_run ON memory_samples(run_id, query)`,
	`CREATE INDEX IF NOT EXISTS idx_join_run ON join_samples(run_id, query, step)`,
}

// AllSchemaSQL returns all schema statements in execution order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateRunsTableSQL,
		CreateTimingSamplesTableSQL,
		CreateMemorySamplesTableSQL,
		CreateJoinSamplesTableSQL,
	}
	return append(stmts, CreateIndexesSQL...)
}
