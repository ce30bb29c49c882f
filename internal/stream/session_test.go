package stream

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datagen/datagen/internal/synth"
	"github.com/datagen/datagen/pkg/types"
)

var (
	uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	wordPattern = regexp.MustCompile(`^[a-z]+$`)
)

// sequenceSynth emits 0, 1, 2, ... in the first field and counts calls.
type sequenceSynth struct {
	calls atomic.Int64
}

func (s *sequenceSynth) Synthesize(schema types.Schema) types.Record {
	i := s.calls.Add(1) - 1
	return types.Record{schema[0].Name: i}
}

var sequenceSchema = types.Schema{{Name: "seq", Type: types.FieldNumber, PrimaryKey: true}}

type recordingSink struct {
	bytes.Buffer
	flushes   int
	closes    int
	failAfter int
	writes    int
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.writes++
	if s.failAfter > 0 && s.writes > s.failAfter {
		return 0, errors.New("broken pipe")
	}
	return s.Buffer.Write(p)
}

func (s *recordingSink) Flush() error { s.flushes++; return nil }
func (s *recordingSink) Close() error { s.closes++; return nil }

type countingObserver struct {
	mu                           sync.Mutex
	started, suspended, finished int
	last                         Stats
	err                          error
}

func (o *countingObserver) SessionStarted(types.FileType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) SessionSuspended(types.FileType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suspended++
}

func (o *countingObserver) SessionFinished(stats Stats, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	o.last = stats
	o.err = err
}

func TestSessionCSVEndToEnd(t *testing.T) {
	req := types.GenerateRequest{
		FileType: types.FileTypeCSV,
		FileSize: 1,
		Properties: types.Schema{
			{Name: "id", Type: types.FieldUUID, PrimaryKey: true},
			{Name: "label", Type: types.FieldString},
		},
	}
	var out bytes.Buffer
	sink := NewWriterSink(&out, 64*1024)
	session, err := NewSession(req, synth.NewSynthesizer(nil), sink, Options{})
	require.NoError(t, err)
	require.NoError(t, session.Run(context.Background()))
	assert.Equal(t, StateDone, session.State())

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Equal(t, "id,label", lines[0])
	require.Len(t, lines[1:], 10485)
	for i, line := range lines[1:] {
		cols := strings.Split(line, ",")
		require.Len(t, cols, 2, "line %d", i)
		require.Regexp(t, uuidPattern, cols[0], "line %d", i)
		require.Regexp(t, wordPattern, cols[1], "line %d", i)
	}

	stats := session.Stats()
	assert.Equal(t, int64(10485), stats.Records)
	assert.Equal(t, int64(out.Len()), stats.Bytes)
	assert.Equal(t, int64(10), stats.Flushes)
}

// A field literally called "name" is matched by the name pattern before the
// string fallback applies, so it carries a person name rather than a word.
func TestSessionCSVNameFieldUsesNamePattern(t *testing.T) {
	req := types.GenerateRequest{
		FileType: types.FileTypeCSV,
		FileSize: 1,
		Properties: types.Schema{
			{Name: "id", Type: types.FieldUUID, PrimaryKey: true},
			{Name: "name", Type: types.FieldString},
		},
	}
	var out bytes.Buffer
	session, err := NewSession(req, synth.NewSynthesizer(nil), NewWriterSink(&out, 64*1024), Options{})
	require.NoError(t, err)
	require.NoError(t, session.Run(context.Background()))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Equal(t, "id,name", lines[0])
	require.Len(t, lines[1:], 10485)
	for i, line := range lines[1:] {
		id, name, found := strings.Cut(line, ",")
		require.True(t, found, "line %d", i)
		require.Regexp(t, uuidPattern, id, "line %d", i)
		require.Contains(t, name, " ", "line %d: %q is not a first and last name", i, name)
	}
}

// bindingSynth counts how often the session resolves its schema.
type bindingSynth struct {
	binds      atomic.Int64
	synthesize atomic.Int64
}

func (b *bindingSynth) Bind(schema types.Schema) func() types.Record {
	b.binds.Add(1)
	return synth.NewSynthesizer(nil).Bind(schema)
}

func (b *bindingSynth) Synthesize(schema types.Schema) types.Record {
	b.synthesize.Add(1)
	return synth.NewSynthesizer(nil).Synthesize(schema)
}

func TestSessionBindsSchemaOnce(t *testing.T) {
	req := types.GenerateRequest{
		FileType:   types.FileTypeJSON,
		FileSize:   1,
		Properties: types.Schema{{Name: "id", Type: types.FieldNumber, PrimaryKey: true}},
	}
	bs := &bindingSynth{}
	for i := 0; i < 3; i++ {
		session, err := NewSession(req, bs, &recordingSink{}, Options{})
		require.NoError(t, err)
		require.NoError(t, session.Run(context.Background()))
	}
	assert.Equal(t, int64(3), bs.binds.Load())
	assert.Equal(t, int64(0), bs.synthesize.Load())
}

func TestSessionJSONEndToEnd(t *testing.T) {
	req := types.GenerateRequest{
		FileType: types.FileTypeJSON,
		FileSize: 1,
		Properties: types.Schema{
			{Name: "id", Type: types.FieldNumber, PrimaryKey: true},
			{Name: "email", Type: types.FieldEmail},
			{Name: "age", Type: types.FieldNumber},
		},
	}
	var out bytes.Buffer
	session, err := NewSession(req, synth.NewSynthesizer(nil), NewWriterSink(&out, 4096), Options{})
	require.NoError(t, err)
	require.NoError(t, session.Run(context.Background()))

	require.True(t, strings.HasPrefix(out.String(), `[{"id":`))
	var records []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	require.Len(t, records, 5242)
	for _, rec := range records {
		assert.Len(t, rec, 3)
		assert.Contains(t, rec["email"], "@")
	}
}

func TestSessionXMLEndToEnd(t *testing.T) {
	req := types.GenerateRequest{
		FileType: types.FileTypeXML,
		FileSize: 1,
		Properties: types.Schema{
			{Name: "id", Type: types.FieldUUID, PrimaryKey: true},
			{Name: "company", Type: types.FieldString},
			{Name: "description", Type: types.FieldString},
		},
	}
	var out bytes.Buffer
	session, err := NewSession(req, synth.NewSynthesizer(nil), NewWriterSink(&out, 4096), Options{EscapeMarkup: true})
	require.NoError(t, err)
	require.NoError(t, session.Run(context.Background()))

	doc := out.String()
	require.True(t, strings.HasPrefix(doc, XMLPrologue))
	require.True(t, strings.HasSuffix(doc, "</records>"))
	assert.Equal(t, 3495, assertWellFormedXML(t, doc))
}

func TestSessionFlushesEveryN(t *testing.T) {
	sink := &recordingSink{}
	req := types.GenerateRequest{FileType: types.FileTypeCSV, FileSize: 1, Properties: sequenceSchema}
	session, err := NewSession(req, &sequenceSynth{}, sink, Options{FlushEvery: 100})
	require.NoError(t, err)
	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, 104, sink.flushes)
	assert.Equal(t, 1, sink.closes)

	lines := strings.Split(strings.TrimSuffix(sink.String(), "\n"), "\n")
	require.Len(t, lines, 10486)
	for i, line := range lines[1:] {
		require.Equal(t, strconv.Itoa(i), line)
	}
}

func TestSessionSuspendsUntilDrained(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// one slot is taken by the header, so two records fit before the sink is full
	sink := NewChannelSink(ctx, 3, 1)
	synthesizer := &sequenceSynth{}
	observer := &countingObserver{}
	req := types.GenerateRequest{FileType: types.FileTypeCSV, FileSize: 1, Properties: sequenceSchema}
	session, err := NewSession(req, synthesizer, sink, Options{Observer: observer})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	require.Eventually(t, func() bool { return session.State() == StateSuspended }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int64(2), synthesizer.calls.Load())

	// no synthesis while suspended
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), synthesizer.calls.Load())
	assert.Equal(t, StateSuspended, session.State())

	var out bytes.Buffer
	chunk, ok, err := sink.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	out.Write(chunk)

	require.Eventually(t, func() bool {
		return synthesizer.calls.Load() == 3 && session.State() == StateSuspended
	}, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(3), synthesizer.calls.Load())

	for {
		chunk, ok, err := sink.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		out.Write(chunk)
	}
	require.NoError(t, <-done)
	assert.Equal(t, StateDone, session.State())

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Equal(t, "seq", lines[0])
	require.Len(t, lines, 10486)
	for i, line := range lines[1:] {
		require.Equal(t, strconv.Itoa(i), line, "records must arrive in order without gaps or repeats")
	}
	assert.Equal(t, int64(10485), synthesizer.calls.Load())

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, 1, observer.started)
	assert.Equal(t, 1, observer.finished)
	assert.GreaterOrEqual(t, observer.suspended, 2)
	assert.Equal(t, int64(observer.suspended), observer.last.Suspensions)
	assert.NoError(t, observer.err)
}

func TestSessionAbortsWhenSuspendedAndCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := NewChannelSink(ctx, 2, 1)
	synthesizer := &sequenceSynth{}
	req := types.GenerateRequest{FileType: types.FileTypeJSON, FileSize: 1, Properties: sequenceSchema}
	session, err := NewSession(req, synthesizer, sink, Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	require.Eventually(t, func() bool { return session.State() == StateSuspended }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}
	assert.Equal(t, StateAborted, session.State())
	assert.Equal(t, int64(1), synthesizer.calls.Load())

	// the consumer sees what was queued, then the end of the stream
	received := 0
	for {
		_, ok, err := sink.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		received++
	}
	assert.Equal(t, 2, received)
}

func TestSessionAbortsOnSinkError(t *testing.T) {
	sink := &recordingSink{failAfter: 10}
	synthesizer := &sequenceSynth{}
	observer := &countingObserver{}
	req := types.GenerateRequest{FileType: types.FileTypeCSV, FileSize: 1, Properties: sequenceSchema}
	session, err := NewSession(req, synthesizer, sink, Options{Observer: observer})
	require.NoError(t, err)

	err = session.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateAborted, session.State())
	assert.Equal(t, 1, sink.closes)
	// header plus nine records were written; the tenth record's write failed
	assert.Equal(t, int64(10), synthesizer.calls.Load())
	assert.Equal(t, int64(9), session.Stats().Records)
	assert.Equal(t, 1, observer.finished)
	assert.Error(t, observer.err)
}

func TestSessionRejectsUnknownFormat(t *testing.T) {
	req := types.GenerateRequest{FileType: "yaml", FileSize: 1, Properties: sequenceSchema}
	_, err := NewSession(req, &sequenceSynth{}, &recordingSink{}, Options{})
	require.Error(t, err)
}
