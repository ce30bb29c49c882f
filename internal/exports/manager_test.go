package exports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datagen/datagen/internal/catalog"
	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/internal/storage"
	"github.com/datagen/datagen/internal/synth"
	"github.com/datagen/datagen/pkg/types"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *storage.LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.NewCatalog(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	store, err := storage.NewLocalStorage(filepath.Join(dir, "storage"))
	require.NoError(t, err)

	cfg.WorkDir = t.TempDir()
	m := NewManager(cfg, cat, store, synth.NewSynthesizer(nil))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Shutdown(ctx)
		cat.Close()
	})
	return m, store
}

var csvRequest = types.GenerateRequest{
	FileType: types.FileTypeCSV,
	FileSize: 1,
	Properties: types.Schema{
		{Name: "id", Type: types.FieldUUID, PrimaryKey: true},
		{Name: "city", Type: types.FieldString},
	},
}

func waitForStatus(t *testing.T, m *Manager, id string, status catalog.JobStatus) *catalog.Job {
	t.Helper()
	var job *catalog.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), id)
		return err == nil && job.Status == status
	}, 30*time.Second, 10*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

func readAll(t *testing.T, m *Manager, id string) ([]byte, *Download) {
	t.Helper()
	dl, err := m.Open(context.Background(), id)
	require.NoError(t, err)
	defer dl.Close()
	data, err := io.ReadAll(dl)
	require.NoError(t, err)
	return data, dl
}

func TestExportUncompressed(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	compress := false
	job, err := m.Submit(context.Background(), csvRequest, &compress)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobQueued, job.Status)

	done := waitForStatus(t, m, job.ID, catalog.JobCompleted)
	assert.Equal(t, int64(10485), done.Records)
	assert.Equal(t, "exports/"+job.ID+"/data.csv", done.ObjectKey)

	data, dl := readAll(t, m, job.ID)
	assert.Equal(t, "data.csv", dl.Filename)
	assert.Equal(t, "text/csv", dl.Format.ContentType)
	assert.Equal(t, done.SizeBytes, int64(len(data)))
	assert.Equal(t, fmt.Sprintf("%016x", murmur3.Sum64(data)), done.Checksum)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Equal(t, "id,city", lines[0])
	assert.Len(t, lines, 10486)
}

func TestExportCompressed(t *testing.T) {
	m, _ := newTestManager(t, Config{Compress: true})
	job, err := m.Submit(context.Background(), csvRequest, nil)
	require.NoError(t, err)
	assert.True(t, job.Compressed)

	done := waitForStatus(t, m, job.ID, catalog.JobCompleted)
	data, dl := readAll(t, m, job.ID)
	assert.Equal(t, "data.csv.sz", dl.Filename)
	assert.Equal(t, fmt.Sprintf("%016x", murmur3.Sum64(data)), done.Checksum)

	plain, err := io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, 10486, strings.Count(string(plain), "\n"))
}

func TestExportOpenBeforeCompletion(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	_, err := m.Open(context.Background(), "missing")
	assert.Equal(t, dgerrors.CodeJobNotFound, dgerrors.GetCode(err))
}

func TestExportSweep(t *testing.T) {
	m, store := newTestManager(t, Config{Retention: time.Millisecond, SweepInterval: time.Hour})
	job, err := m.Submit(context.Background(), csvRequest, nil)
	require.NoError(t, err)
	done := waitForStatus(t, m, job.ID, catalog.JobCompleted)

	time.Sleep(20 * time.Millisecond)
	n, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Stat(context.Background(), done.ObjectKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	_, err = m.Get(context.Background(), job.ID)
	assert.Equal(t, dgerrors.CodeJobNotFound, dgerrors.GetCode(err))
}

func TestExportRejectedAfterShutdown(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.Submit(context.Background(), csvRequest, nil)
	assert.Equal(t, dgerrors.CodeShuttingDown, dgerrors.GetCode(err))
}

func TestExportConcurrencyBound(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxConcurrent: 1})
	var ids []string
	for i := 0; i < 3; i++ {
		job, err := m.Submit(context.Background(), csvRequest, nil)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitForStatus(t, m, id, catalog.JobCompleted)
	}
	jobs, err := m.List(context.Background(), catalog.ListOptions{Status: catalog.JobCompleted})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}
