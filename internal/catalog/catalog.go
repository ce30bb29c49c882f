package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/pkg/types"
)

// JobStatus is the life cycle state of an export job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one export job.
type Job struct {
	ID         string                `json:"id"`
	Status     JobStatus             `json:"status"`
	Request    types.GenerateRequest `json:"request"`
	Compressed bool                  `json:"compressed"`
	ObjectKey  string                `json:"objectKey,omitempty"`
	Records    int64                 `json:"records"`
	SizeBytes  int64                 `json:"sizeBytes"`
	Checksum   string                `json:"checksum,omitempty"`
	ETag       string                `json:"etag,omitempty"`
	Error      string                `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"createdAt"`
	StartedAt  *time.Time            `json:"startedAt,omitempty"`
	FinishedAt *time.Time            `json:"finishedAt,omitempty"`
}

// Result is what a completed job produced.
type Result struct {
	ObjectKey string
	Records   int64
	SizeBytes int64
	Checksum  string
	ETag      string
}

// ListOptions filters List.
type ListOptions struct {
	// Status limits the result to one status when set
	Status JobStatus
	// Limit caps the number of jobs returned, newest first (default 100)
	Limit int
}

// Catalog stores export jobs.
type Catalog interface {
	Create(ctx context.Context, job *Job) error
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result Result) error
	Fail(ctx context.Context, id string, reason string) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	FailInterrupted(ctx context.Context) (int64, error)
	DeleteExpired(ctx context.Context, ttl time.Duration) ([]*Job, error)
	Close() error
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Write-only lock
}

const jobColumns = `job_id, status, request, compressed, object_key, records, size_bytes,
	checksum, etag, error, created_at, started_at, finished_at`

// NewCatalog opens (and creates if needed) the job catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// the read pool opens after the schema exists so read-only mode can attach
	readDB, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	return catalog, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Create inserts a queued job. ID and CreatedAt must be set.
func (c *SQLiteCatalog) Create(ctx context.Context, job *Job) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to encode request", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO export_jobs (job_id, status, file_type, file_size_mb, request, compressed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, JobQueued, string(job.Request.FileType), job.Request.FileSize, string(request),
		job.Compressed, job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to insert job", err)
	}
	job.Status = JobQueued
	return nil
}

// MarkRunning moves a queued job to running.
func (c *SQLiteCatalog) MarkRunning(ctx context.Context, id string) error {
	return c.transition(ctx, id, `UPDATE export_jobs SET status = ?, started_at = ? WHERE job_id = ? AND status = ?`,
		JobRunning, time.Now().UnixMilli(), id, JobQueued)
}

// Complete records the result of a running job.
func (c *SQLiteCatalog) Complete(ctx context.Context, id string, result Result) error {
	return c.transition(ctx, id, `
		UPDATE export_jobs
		SET status = ?, object_key = ?, records = ?, size_bytes = ?, checksum = ?, etag = ?, finished_at = ?
		WHERE job_id = ? AND status = ?`,
		JobCompleted, result.ObjectKey, result.Records, result.SizeBytes, result.Checksum, result.ETag,
		time.Now().UnixMilli(), id, JobRunning)
}

// Fail marks a queued or running job as failed.
func (c *SQLiteCatalog) Fail(ctx context.Context, id string, reason string) error {
	return c.transition(ctx, id, `
		UPDATE export_jobs SET status = ?, error = ?, finished_at = ?
		WHERE job_id = ? AND status IN (?, ?)`,
		JobFailed, reason, time.Now().UnixMilli(), id, JobQueued, JobRunning)
}

func (c *SQLiteCatalog) transition(ctx context.Context, id, query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to update job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to update job", err)
	}
	if n == 0 {
		return dgerrors.NewCatalogError(dgerrors.CodeJobNotFound, "job not found in the expected state", nil).
			WithDetails(map[string]interface{}{"job_id": id})
	}
	return nil
}

// FailInterrupted fails every job left queued or running by a previous process.
func (c *SQLiteCatalog) FailInterrupted(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
		UPDATE export_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status IN (?, ?)`,
		JobFailed, "interrupted by shutdown", time.Now().UnixMilli(), JobQueued, JobRunning)
	if err != nil {
		return 0, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to recover jobs", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes finished jobs older than ttl and returns them so
// their objects can be deleted.
func (c *SQLiteCatalog) DeleteExpired(ctx context.Context, ttl time.Duration) ([]*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-ttl).UnixMilli()
	rows, err := c.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM export_jobs
		WHERE status IN (?, ?) AND finished_at < ?`, JobCompleted, JobFailed, cutoff)
	if err != nil {
		return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to query expired jobs", err)
	}

	var expired []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to scan expired job", err)
		}
		expired = append(expired, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "error iterating expired jobs", err)
	}

	for _, job := range expired {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM export_jobs WHERE job_id = ?", job.ID); err != nil {
			return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to delete job "+job.ID, err)
		}
	}
	return expired, nil
}

// Get returns one job.
func (c *SQLiteCatalog) Get(ctx context.Context, id string) (*Job, error) {
	row := c.readDB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE job_id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dgerrors.NewCatalogError(dgerrors.CodeJobNotFound, "job not found", nil).
			WithDetails(map[string]interface{}{"job_id": id})
	}
	if err != nil {
		return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to read job", err)
	}
	return job, nil
}

// List returns jobs, newest first.
func (c *SQLiteCatalog) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var sb strings.Builder
	var args []any
	sb.WriteString(`SELECT ` + jobColumns + ` FROM export_jobs`)
	if opts.Status != "" {
		sb.WriteString(` WHERE status = ?`)
		args = append(args, opts.Status)
	}
	sb.WriteString(` ORDER BY created_at DESC, job_id LIMIT ?`)
	args = append(args, limit)

	rows, err := c.readDB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to list jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "failed to scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, dgerrors.NewCatalogError(dgerrors.CodeQueryFailed, "error iterating jobs", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                       Job
		request                   string
		objectKey, checksum, etag sql.NullString
		reason                    sql.NullString
		createdAt                 int64
		startedAt, finishedAt     sql.NullInt64
	)
	if err := row.Scan(&job.ID, &job.Status, &request, &job.Compressed, &objectKey, &job.Records,
		&job.SizeBytes, &checksum, &etag, &reason, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(request), &job.Request); err != nil {
		return nil, fmt.Errorf("corrupt request of job %s: %w", job.ID, err)
	}
	job.ObjectKey = objectKey.String
	job.Checksum = checksum.String
	job.ETag = etag.String
	job.Error = reason.String
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		job.FinishedAt = &t
	}
	return &job, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
