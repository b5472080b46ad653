package objstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/bleepstore/objstore/internal/transport"
)

// Stream is a one-shot, in-order sequence of chunks of one object. It must
// be closed unless it has been read to the end; reaching the end or an
// error closes it automatically.
type Stream struct {
	ctx context.Context
	it  transport.ChunkIterator

	mu        sync.Mutex
	done      bool
	closeOnce sync.Once
	closeErr  error
}

func newStream(ctx context.Context, it transport.ChunkIterator) *Stream {
	return &Stream{ctx: ctx, it: it}
}

// Next returns the next chunk, or io.EOF after the last one.
func (s *Stream) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, io.EOF
	}
	chunk, err := s.it.Next(s.ctx)
	if err != nil {
		s.done = true
		_ = s.close()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return chunk, nil
}

// Close releases the connection behind the stream. It is safe to call more
// than once and after the stream has ended.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return s.close()
}

func (s *Stream) close() error {
	s.closeOnce.Do(func() { s.closeErr = s.it.Close() })
	return s.closeErr
}

// All ranges over the remaining chunks. Breaking out of the loop closes the
// stream.
func (s *Stream) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer s.Close()
		for {
			chunk, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// ReadAll drains the stream into one slice.
func (s *Stream) ReadAll() ([]byte, error) {
	var out []byte
	for chunk, err := range s.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
