// Package exports generates datasets in the background and keeps them in
// object storage for later download.
package exports

import (
	"context"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/semaphore"

	"github.com/datagen/datagen/internal/catalog"
	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/internal/logging"
	"github.com/datagen/datagen/internal/storage"
	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/pkg/types"
)

// CompressedSuffix is appended to the object key of snappy-framed exports.
const CompressedSuffix = ".sz"

// Config holds configuration for the export manager.
type Config struct {
	// WorkDir holds files while they are generated
	WorkDir string

	// MaxConcurrent bounds the number of jobs generating at once (default: 2)
	MaxConcurrent int

	// Compress is the default for requests that do not choose
	Compress bool

	// WriteBuffer is the buffer size between the encoder and the work file
	WriteBuffer int

	// Retention is how long finished jobs are kept; zero disables the sweeper
	Retention time.Duration

	// SweepInterval is how often expired jobs are removed (default: 10m)
	SweepInterval time.Duration

	// Session carries flush and escaping settings into each session
	Session stream.Options
}

// Manager runs export jobs.
type Manager struct {
	config  Config
	catalog catalog.Catalog
	storage storage.ObjectStorage
	synth   stream.Synthesizer
	slots   *semaphore.Weighted
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewManager creates an export manager. Jobs run until Shutdown.
func NewManager(config Config, cat catalog.Catalog, store storage.ObjectStorage, synth stream.Synthesizer) *Manager {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.WriteBuffer <= 0 {
		config.WriteBuffer = 64 * 1024
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Minute
	}
	if config.WorkDir == "" {
		config.WorkDir = os.TempDir()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:  config,
		catalog: cat,
		storage: store,
		synth:   synth,
		slots:   semaphore.NewWeighted(int64(config.MaxConcurrent)),
		logger:  logging.NewLogger("Exports"),
		ctx:     ctx,
		cancel:  cancel,
	}
	if config.Session.Logger == nil {
		m.config.Session.Logger = m.logger
	}
	return m
}

// Start fails jobs interrupted by a previous process and starts the retention sweeper.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.catalog.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Warnf("marked %d interrupted export jobs as failed", n)
	}

	if m.config.Retention > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return nil
}

// Submit registers a job for a validated request and starts it in the
// background. compress overrides the configured default when non-nil.
func (m *Manager) Submit(ctx context.Context, req types.GenerateRequest, compress *bool) (*catalog.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, dgerrors.NewExportError(dgerrors.CodeShuttingDown, "export manager is shutting down", nil)
	}

	job := &catalog.Job{
		ID:         uuid.NewString(),
		Request:    req,
		Compressed: m.config.Compress,
		CreatedAt:  time.Now().UTC(),
	}
	if compress != nil {
		job.Compressed = *compress
	}
	if err := m.catalog.Create(ctx, job); err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go m.run(job)

	m.logger.Infof("export %s queued: %g MB of %s", job.ID, req.FileSize, req.FileType)
	return job, nil
}

// Get returns a job.
func (m *Manager) Get(ctx context.Context, id string) (*catalog.Job, error) {
	return m.catalog.Get(ctx, id)
}

// List returns jobs, newest first.
func (m *Manager) List(ctx context.Context, opts catalog.ListOptions) ([]*catalog.Job, error) {
	return m.catalog.List(ctx, opts)
}

// Download is an open export object.
type Download struct {
	io.ReadCloser
	Job      *catalog.Job
	Object   storage.ObjectInfo
	Format   stream.Format
	Filename string
}

// Open returns the stored object of a completed job.
func (m *Manager) Open(ctx context.Context, id string) (*Download, error) {
	job, err := m.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != catalog.JobCompleted {
		return nil, dgerrors.NewExportError(dgerrors.CodeJobNotReady, "export is not complete", nil).
			WithDetails(map[string]interface{}{"job_id": id, "status": job.Status})
	}

	rc, info, err := m.storage.Open(ctx, job.ObjectKey)
	if err != nil {
		return nil, err
	}
	format, _ := stream.FormatFor(job.Request.FileType)
	filename := format.Filename()
	if job.Compressed {
		filename += CompressedSuffix
	}
	return &Download{ReadCloser: rc, Job: job, Object: info, Format: format, Filename: filename}, nil
}

// Shutdown cancels running jobs and waits for them to record their outcome.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("exports: shutdown timed out: %w", ctx.Err())
	}
}

func (m *Manager) run(job *catalog.Job) {
	defer m.wg.Done()

	if err := m.slots.Acquire(m.ctx, 1); err != nil {
		m.fail(job, err)
		return
	}
	defer m.slots.Release(1)

	if err := m.catalog.MarkRunning(m.ctx, job.ID); err != nil {
		m.fail(job, err)
		return
	}

	result, err := m.generate(job)
	if err != nil {
		m.fail(job, err)
		return
	}
	if err := m.catalog.Complete(context.Background(), job.ID, result); err != nil {
		m.logger.Errorf("export %s: failed to record completion: %v", job.ID, err)
		return
	}
	m.logger.Infof("export %s completed: %d records, %d bytes, checksum %s",
		job.ID, result.Records, result.SizeBytes, result.Checksum)
}

// generate streams the session into a work file, then uploads it.
func (m *Manager) generate(job *catalog.Job) (catalog.Result, error) {
	format, ok := stream.FormatFor(job.Request.FileType)
	if !ok {
		return catalog.Result{}, dgerrors.NewExportError(dgerrors.CodeGenerateFailed, "unsupported file type", types.ErrUnsupportedFileType)
	}
	filename := format.Filename()
	if job.Compressed {
		filename += CompressedSuffix
	}

	workPath := filepath.Join(m.config.WorkDir, job.ID+"-"+filename)
	defer os.Remove(workPath)

	out, err := newExportWriter(workPath, job.Compressed)
	if err != nil {
		return catalog.Result{}, dgerrors.NewExportError(dgerrors.CodeGenerateFailed, "failed to create work file", err)
	}

	session, err := stream.NewSession(job.Request, m.synth, stream.NewWriterSink(out, m.config.WriteBuffer), m.config.Session)
	if err != nil {
		out.Close()
		return catalog.Result{}, err
	}
	if err := session.Run(m.ctx); err != nil {
		return catalog.Result{}, dgerrors.NewExportError(dgerrors.CodeGenerateFailed, "generation aborted", err)
	}

	key := path.Join("exports", job.ID, filename)
	info, err := m.storage.Put(m.ctx, workPath, key)
	if err != nil {
		return catalog.Result{}, err
	}

	return catalog.Result{
		ObjectKey: key,
		Records:   session.Stats().Records,
		SizeBytes: info.Size,
		Checksum:  out.Checksum(),
		ETag:      info.ETag,
	}, nil
}

func (m *Manager) fail(job *catalog.Job, cause error) {
	m.logger.Warnf("export %s failed: %v", job.ID, cause)
	if err := m.catalog.Fail(context.Background(), job.ID, cause.Error()); err != nil {
		m.logger.Errorf("export %s: failed to record failure: %v", job.ID, err)
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(m.ctx); err != nil {
				m.logger.Warnf("retention sweep failed: %v", err)
			}
		}
	}
}

// Sweep removes finished jobs past the retention period together with their
// objects. Storage is cleaned after the catalog so a failed delete leaves an
// orphan object rather than a job without data.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.config.Retention <= 0 {
		return 0, nil
	}
	expired, err := m.catalog.DeleteExpired(ctx, m.config.Retention)
	if err != nil {
		return 0, err
	}
	for _, job := range expired {
		if job.ObjectKey == "" {
			continue
		}
		if err := m.storage.Delete(ctx, job.ObjectKey); err != nil {
			m.logger.Warnf("export %s: failed to delete %s: %v", job.ID, job.ObjectKey, err)
		}
	}
	if len(expired) > 0 {
		m.logger.Infof("removed %d expired exports", len(expired))
	}
	return len(expired), nil
}

// exportWriter writes a work file, optionally snappy-framed, and hashes the
// bytes that land on disk.
type exportWriter struct {
	io.Writer
	file   *os.File
	framed *snappy.Writer
	hash   hash.Hash64
}

func newExportWriter(path string, compress bool) (*exportWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &exportWriter{file: file, hash: murmur3.New64()}
	onDisk := io.MultiWriter(file, w.hash)
	w.Writer = onDisk
	if compress {
		w.framed = snappy.NewBufferedWriter(onDisk)
		w.Writer = w.framed
	}
	return w, nil
}

// Close flushes the snappy frame and closes the file.
func (w *exportWriter) Close() error {
	var err error
	if w.framed != nil {
		err = w.framed.Close()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Checksum returns the murmur3 hash of the file content as hex.
func (w *exportWriter) Checksum() string {
	return fmt.Sprintf("%016x", w.hash.Sum64())
}
