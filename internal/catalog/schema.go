// Package catalog records export jobs in a SQLite database (jobs.db).
package catalog

// CreateJobsTableSQL creates the export jobs table. Timestamps are unix milliseconds.
const CreateJobsTableSQL = `
CREATE TABLE IF NOT EXISTS export_jobs (
    job_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    file_type TEXT NOT NULL,
    file_size_mb REAL NOT NULL,
    request TEXT NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0,
    object_key TEXT,
    records INTEGER NOT NULL DEFAULT 0,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    checksum TEXT,
    etag TEXT,
    error TEXT,
    created_at INTEGER NOT NULL,
    started_at INTEGER,
    finished_at INTEGER
)`

// CreateJobsIndexesSQL creates indexes for listing jobs.
var CreateJobsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_export_jobs_created ON export_jobs(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs(status, created_at DESC)`,
}

// AllSchemaSQL returns every schema statement in execution order.
func AllSchemaSQL() []string {
	return append([]string{CreateJobsTableSQL}, CreateJobsIndexesSQL...)
}
