package stream

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/internal/logging"
	"github.com/datagen/datagen/internal/sizing"
	"github.com/datagen/datagen/pkg/types"
)

// DefaultFlushEvery is the number of records between explicit sink flushes.
const DefaultFlushEvery = 1000

// State is the life cycle state of a session.
type State int32

const (
	StatePrologue State = iota
	StateStreaming
	StateSuspended
	StateEpilogue
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePrologue:
		return "PROLOGUE"
	case StateStreaming:
		return "STREAMING"
	case StateSuspended:
		return "SUSPENDED"
	case StateEpilogue:
		return "EPILOGUE"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Synthesizer produces one record per call.
type Synthesizer interface {
	Synthesize(schema types.Schema) types.Record
}

// SchemaBinder is implemented by synthesizers that resolve a schema once.
// A session binds its schema at creation and drops the result when it ends.
type SchemaBinder interface {
	Bind(schema types.Schema) func() types.Record
}

// Observer is notified of session life cycle events.
type Observer interface {
	SessionStarted(fileType types.FileType)
	SessionSuspended(fileType types.FileType)
	SessionFinished(stats Stats, err error)
}

// Options tunes a session.
type Options struct {
	// FlushEvery is the number of records between sink flushes. Zero means DefaultFlushEvery.
	FlushEvery int

	// EscapeMarkup escapes reserved characters in xml values
	EscapeMarkup bool

	// Observer receives life cycle events; may be nil
	Observer Observer

	// Logger defaults to a logger named "Session"
	Logger *logging.Logger
}

// aborter is implemented by sinks whose Close could block on a consumer
// that is no longer reading.
type aborter interface {
	Abort()
}

// Stats is a snapshot of a session's counters.
type Stats struct {
	ID          string         `json:"id"`
	FileType    types.FileType `json:"fileType"`
	State       string         `json:"state"`
	Target      int64          `json:"target"`
	Records     int64          `json:"records"`
	Bytes       int64          `json:"bytes"`
	Flushes     int64          `json:"flushes"`
	Suspensions int64          `json:"suspensions"`
	Elapsed     time.Duration  `json:"elapsed"`
}

// Session streams one dataset into one sink. A session is run once, by one goroutine.
type Session struct {
	id      string
	req     types.GenerateRequest
	encoder Encoder
	next    func() types.Record
	sink    Sink
	opts    Options
	logger  *logging.Logger

	state       atomic.Int32
	target      int64
	records     atomic.Int64
	bytes       atomic.Int64
	flushes     atomic.Int64
	suspensions atomic.Int64
	started     time.Time
	buf         bytes.Buffer
}

// NewSession prepares a session for a validated request. The record count is
// estimated here, once, from the request's size and format.
func NewSession(req types.GenerateRequest, synth Synthesizer, sink Sink, opts Options) (*Session, error) {
	encoder, err := NewEncoder(req.FileType, EncoderOptions{EscapeMarkup: opts.EscapeMarkup})
	if err != nil {
		return nil, dgerrors.Wrap(dgerrors.ErrCategoryValidation, dgerrors.CodeUnsupportedFileType, "cannot encode request", err)
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("Session")
	}
	return &Session{
		id:      uuid.NewString(),
		req:     req,
		encoder: encoder,
		next:    bindSchema(synth, req.Properties),
		sink:    sink,
		opts:    opts,
		logger:  logger,
		target:  sizing.EstimateFor(req.FileSize, req.FileType),
		started: time.Now(),
	}, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Target returns the number of records the session will emit.
func (s *Session) Target() int64 {
	return s.target
}

// State returns the current state. It may be called from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the session counters. It may be called from any goroutine.
func (s *Session) Stats() Stats {
	return Stats{
		ID:          s.id,
		FileType:    s.req.FileType,
		State:       s.State().String(),
		Target:      s.target,
		Records:     s.records.Load(),
		Bytes:       s.bytes.Load(),
		Flushes:     s.flushes.Load(),
		Suspensions: s.suspensions.Load(),
		Elapsed:     time.Since(s.started),
	}
}

// Run streams prologue, records and epilogue into the sink and closes it.
// It returns when the stream is complete, the sink fails or ctx ends; in the
// latter two cases the sink is closed and the session is ABORTED.
func (s *Session) Run(ctx context.Context) (err error) {
	s.setState(StatePrologue)
	if s.opts.Observer != nil {
		s.opts.Observer.SessionStarted(s.req.FileType)
	}
	s.logger.Debugf("session %s: streaming %d %s records", s.id, s.target, s.req.FileType)

	defer func() {
		if err != nil {
			s.abort(err)
		}
		if s.opts.Observer != nil {
			s.opts.Observer.SessionFinished(s.Stats(), err)
		}
	}()

	s.buf.Reset()
	s.encoder.Prologue(&s.buf, s.req.Properties)
	if err := s.emit(); err != nil {
		return err
	}

	s.setState(StateStreaming)
	for s.records.Load() < s.target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.awaitCapacity(ctx); err != nil {
			return err
		}

		rec := s.next()
		s.buf.Reset()
		if err := s.encoder.Record(&s.buf, s.req.Properties, rec, s.records.Load()); err != nil {
			return dgerrors.NewInternalError("failed to encode record", err)
		}
		if err := s.emit(); err != nil {
			return err
		}

		if n := s.records.Add(1); n%int64(s.opts.FlushEvery) == 0 {
			if err := s.sink.Flush(); err != nil {
				return err
			}
			s.flushes.Add(1)
		}
	}

	s.setState(StateEpilogue)
	s.buf.Reset()
	s.encoder.Epilogue(&s.buf)
	if err := s.emit(); err != nil {
		return err
	}
	if err := s.sink.Close(); err != nil {
		return err
	}
	s.setState(StateDone)

	stats := s.Stats()
	s.logger.Infof("session %s: %d %s records, %d bytes in %s (%d suspensions)",
		s.id, stats.Records, stats.FileType, stats.Bytes, stats.Elapsed.Round(time.Millisecond), stats.Suspensions)
	return nil
}

func bindSchema(synth Synthesizer, schema types.Schema) func() types.Record {
	if b, ok := synth.(SchemaBinder); ok {
		return b.Bind(schema)
	}
	return func() types.Record {
		return synth.Synthesize(schema)
	}
}

func (s *Session) emit() error {
	n, err := s.sink.Write(s.buf.Bytes())
	s.bytes.Add(int64(n))
	return err
}

// awaitCapacity parks the session while a backpressured sink is full.
// Nothing is synthesized until the sink signals it has drained.
func (s *Session) awaitCapacity(ctx context.Context) error {
	bp, ok := s.sink.(Backpressured)
	if !ok {
		return nil
	}
	for bp.AtCapacity() {
		if s.State() != StateSuspended {
			s.setState(StateSuspended)
			s.suspensions.Add(1)
			if s.opts.Observer != nil {
				s.opts.Observer.SessionSuspended(s.req.FileType)
			}
			s.logger.Verbosef("session %s: suspended after %d records", s.id, s.records.Load())
		}
		select {
		case <-bp.Drained():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.State() == StateSuspended {
		s.setState(StateStreaming)
	}
	return nil
}

func (s *Session) abort(cause error) {
	if a, ok := s.sink.(aborter); ok {
		a.Abort()
	} else if err := s.sink.Close(); err != nil {
		s.logger.Debugf("session %s: closing aborted sink: %v", s.id, err)
	}
	s.setState(StateAborted)
	s.logger.Warnf("session %s: aborted after %d of %d records: %v", s.id, s.records.Load(), s.target, cause)
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}
