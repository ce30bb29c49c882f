// Package observability tracks generation statistics across sessions.
package observability

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/pkg/types"
)

// GenerationStats aggregates session counters per output format.
// It implements stream.Observer and is safe for concurrent use.
type GenerationStats struct {
	mu       sync.RWMutex
	formats  map[types.FileType]*FormatStats
	started  time.Time
	active   int64
	lastFail string
}

// FormatStats holds the counters of one output format.
type FormatStats struct {
	FileType    types.FileType `json:"fileType"`
	Started     int64          `json:"started"`
	Completed   int64          `json:"completed"`
	Aborted     int64          `json:"aborted"`
	Cancelled   int64          `json:"cancelled"`
	Records     int64          `json:"records"`
	Bytes       int64          `json:"bytes"`
	Flushes     int64          `json:"flushes"`
	Suspensions int64          `json:"suspensions"`
	LastSeen    time.Time      `json:"lastSeen"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime    string        `json:"uptime"`
	Active    int64         `json:"active"`
	LastError string        `json:"lastError,omitempty"`
	Formats   []FormatStats `json:"formats"`
}

var _ stream.Observer = (*GenerationStats)(nil)

// NewGenerationStats creates an empty tracker.
func NewGenerationStats() *GenerationStats {
	return &GenerationStats{
		formats: make(map[types.FileType]*FormatStats),
		started: time.Now(),
	}
}

func (g *GenerationStats) format(ft types.FileType) *FormatStats {
	stats, exists := g.formats[ft]
	if !exists {
		stats = &FormatStats{FileType: ft}
		g.formats[ft] = stats
	}
	stats.LastSeen = time.Now()
	return stats
}

// SessionStarted records a session start.
func (g *GenerationStats) SessionStarted(ft types.FileType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.format(ft).Started++
	g.active++
}

// SessionSuspended records one suspension.
func (g *GenerationStats) SessionSuspended(ft types.FileType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.format(ft).Suspensions++
}

// SessionFinished folds a finished session into the totals. Sessions ended by
// their context count as cancelled, other failures as aborted.
func (g *GenerationStats) SessionFinished(s stream.Stats, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := g.format(s.FileType)
	stats.Records += s.Records
	stats.Bytes += s.Bytes
	stats.Flushes += s.Flushes
	switch {
	case err == nil:
		stats.Completed++
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		stats.Cancelled++
	default:
		stats.Aborted++
		g.lastFail = err.Error()
	}
	if g.active > 0 {
		g.active--
	}
}

// Snapshot returns a copy of the counters, busiest format first.
func (g *GenerationStats) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	formats := make([]FormatStats, 0, len(g.formats))
	for _, s := range g.formats {
		formats = append(formats, *s)
	}
	sort.Slice(formats, func(i, j int) bool {
		if formats[i].Started != formats[j].Started {
			return formats[i].Started > formats[j].Started
		}
		return formats[i].FileType < formats[j].FileType
	})

	return Snapshot{
		Uptime:    time.Since(g.started).Round(time.Second).String(),
		Active:    g.active,
		LastError: g.lastFail,
		Formats:   formats,
	}
}
