package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	dgerrors "github.com/datagen/datagen/internal/errors"
)

// Sink receives encoded bytes. Write blocks while the consumer is slow,
// which is how backpressure reaches the session.
type Sink interface {
	io.Writer

	// Flush pushes buffered bytes towards the consumer.
	Flush() error

	// Close flushes and releases the sink. It is safe to call more than once.
	Close() error
}

// Backpressured is implemented by sinks that can report a full buffer before
// a write would block. The session checks it before synthesizing a record.
type Backpressured interface {
	// AtCapacity reports whether the next write would have to wait.
	AtCapacity() bool

	// Drained is signalled after the consumer has taken data out of the sink.
	Drained() <-chan struct{}
}

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = dgerrors.NewSinkError(dgerrors.CodeSinkClosed, "sink is closed", nil)

// ResponseSink writes to an HTTP response through a buffer.
type ResponseSink struct {
	w      http.ResponseWriter
	bw     *bufio.Writer
	rc     *http.ResponseController
	closed bool
}

// NewResponseSink sets the attachment headers of format on w and returns a
// sink writing to it. The status line goes out with the first flushed bytes.
func NewResponseSink(w http.ResponseWriter, format Format, bufferSize int) *ResponseSink {
	h := w.Header()
	h.Set("Content-Type", format.ContentType)
	h.Set("Content-Disposition", format.ContentDisposition())
	h.Set("X-Content-Type-Options", "nosniff")
	return &ResponseSink{
		w:  w,
		bw: bufio.NewWriterSize(w, bufferSize),
		rc: http.NewResponseController(w),
	}
}

func (s *ResponseSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSinkClosed
	}
	n, err := s.bw.Write(p)
	if err != nil {
		return n, dgerrors.NewSinkError(dgerrors.CodeWriteFailed, "failed to write response", err)
	}
	return n, nil
}

func (s *ResponseSink) Flush() error {
	if s.closed {
		return nil
	}
	if err := s.bw.Flush(); err != nil {
		return dgerrors.NewSinkError(dgerrors.CodeWriteFailed, "failed to flush response", err)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return dgerrors.NewSinkError(dgerrors.CodeWriteFailed, "failed to flush response", err)
	}
	return nil
}

func (s *ResponseSink) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	return err
}

// WriterSink writes to any io.Writer through a buffer. Close closes the
// writer when it is an io.Closer.
type WriterSink struct {
	w      io.Writer
	bw     *bufio.Writer
	closed bool
}

// NewWriterSink returns a buffered sink over w.
func NewWriterSink(w io.Writer, bufferSize int) *WriterSink {
	return &WriterSink{w: w, bw: bufio.NewWriterSize(w, bufferSize)}
}

func (s *WriterSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSinkClosed
	}
	n, err := s.bw.Write(p)
	if err != nil {
		return n, dgerrors.NewSinkError(dgerrors.CodeWriteFailed, "write failed", err)
	}
	return n, nil
}

func (s *WriterSink) Flush() error {
	if s.closed {
		return nil
	}
	if err := s.bw.Flush(); err != nil {
		return dgerrors.NewSinkError(dgerrors.CodeWriteFailed, "flush failed", err)
	}
	return nil
}

func (s *WriterSink) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	if c, ok := s.w.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = dgerrors.NewSinkError(dgerrors.CodeWriteFailed, "close failed", cerr)
		}
	}
	return err
}

// ChannelSink hands coalesced chunks to a consumer goroutine over a bounded
// channel. It reports capacity when the channel is full, so a slow consumer
// suspends synthesis rather than piling up encoded data.
//
// Write, Flush and Close belong to the producing goroutine; Next belongs to
// the consumer.
type ChannelSink struct {
	ctx       context.Context
	chunks    chan []byte
	drained   chan struct{}
	pending   []byte
	chunkSize int
	closeOnce sync.Once
	closed    bool
}

// NewChannelSink creates a sink holding at most depth chunks of roughly
// chunkSize bytes. Blocked writes give up when ctx ends.
func NewChannelSink(ctx context.Context, depth, chunkSize int) *ChannelSink {
	if depth < 1 {
		depth = 1
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &ChannelSink{
		ctx:       ctx,
		chunks:    make(chan []byte, depth),
		drained:   make(chan struct{}, 1),
		pending:   make([]byte, 0, chunkSize),
		chunkSize: chunkSize,
	}
}

func (s *ChannelSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSinkClosed
	}
	s.pending = append(s.pending, p...)
	if len(s.pending) >= s.chunkSize {
		if err := s.push(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (s *ChannelSink) push() error {
	if len(s.pending) == 0 {
		return nil
	}
	chunk := s.pending
	s.pending = make([]byte, 0, s.chunkSize)
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.ctx.Done():
		return dgerrors.NewSinkError(dgerrors.CodeWriteFailed, "consumer went away", s.ctx.Err())
	}
}

func (s *ChannelSink) Flush() error {
	if s.closed {
		return nil
	}
	return s.push()
}

// Close pushes the pending chunk and ends the stream for the consumer.
func (s *ChannelSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.push()
		s.closed = true
		close(s.chunks)
	})
	return err
}

// Abort drops the pending chunk and ends the stream without waiting for the consumer.
func (s *ChannelSink) Abort() {
	s.closeOnce.Do(func() {
		s.pending = nil
		s.closed = true
		close(s.chunks)
	})
}

// AtCapacity reports whether the chunk channel is full.
func (s *ChannelSink) AtCapacity() bool {
	return len(s.chunks) >= cap(s.chunks)
}

// Drained is signalled each time the consumer takes a chunk.
func (s *ChannelSink) Drained() <-chan struct{} {
	return s.drained
}

// Next returns the next chunk. ok is false once the sink is closed and empty.
func (s *ChannelSink) Next(ctx context.Context) (chunk []byte, ok bool, err error) {
	select {
	case chunk, ok = <-s.chunks:
		if ok {
			select {
			case s.drained <- struct{}{}:
			default:
			}
		}
		return chunk, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
