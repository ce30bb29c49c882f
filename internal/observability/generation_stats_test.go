package observability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/pkg/types"
)

// TestGenerationStatsConcurrent tests concurrent observer calls for race conditions.
func TestGenerationStatsConcurrent(t *testing.T) {
	gs := NewGenerationStats()
	var wg sync.WaitGroup
	numGoroutines := 10
	sessionsPerGoroutine := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < sessionsPerGoroutine; j++ {
				gs.SessionStarted(types.FileTypeCSV)
				gs.SessionSuspended(types.FileTypeCSV)
				gs.SessionFinished(stream.Stats{FileType: types.FileTypeCSV, Records: 10, Bytes: 100, Flushes: 1}, nil)
			}
		}()
	}
	wg.Wait()

	snap := gs.Snapshot()
	if len(snap.Formats) != 1 {
		t.Fatalf("expected 1 format, got %d", len(snap.Formats))
	}
	csv := snap.Formats[0]
	total := int64(numGoroutines * sessionsPerGoroutine)
	if csv.Started != total || csv.Completed != total || csv.Suspensions != total {
		t.Errorf("unexpected counters: %+v", csv)
	}
	if csv.Records != total*10 || csv.Bytes != total*100 {
		t.Errorf("unexpected totals: %+v", csv)
	}
	if snap.Active != 0 {
		t.Errorf("expected no active sessions, got %d", snap.Active)
	}
}

// TestGenerationStatsOutcomes tests that failures are split by cause.
func TestGenerationStatsOutcomes(t *testing.T) {
	gs := NewGenerationStats()

	gs.SessionStarted(types.FileTypeXML)
	gs.SessionStarted(types.FileTypeXML)
	gs.SessionStarted(types.FileTypeJSON)
	if snap := gs.Snapshot(); snap.Active != 3 {
		t.Fatalf("expected 3 active sessions, got %d", snap.Active)
	}

	gs.SessionFinished(stream.Stats{FileType: types.FileTypeXML}, context.Canceled)
	gs.SessionFinished(stream.Stats{FileType: types.FileTypeXML}, errors.New("broken pipe"))
	gs.SessionFinished(stream.Stats{FileType: types.FileTypeJSON}, nil)

	snap := gs.Snapshot()
	if snap.Formats[0].FileType != types.FileTypeXML {
		t.Fatalf("expected xml first (most sessions), got %s", snap.Formats[0].FileType)
	}
	xml := snap.Formats[0]
	if xml.Cancelled != 1 || xml.Aborted != 1 || xml.Completed != 0 {
		t.Errorf("unexpected xml outcomes: %+v", xml)
	}
	if snap.LastError != "broken pipe" {
		t.Errorf("expected last error to be recorded, got %q", snap.LastError)
	}
}
