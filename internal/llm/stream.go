package llm

import (
	"context"
	"strings"
	"sync"
)

// Chunk is one incremental event from a ChatStream call.
type Chunk struct {
	Delta     string
	ToolCalls []ToolCall
	Done      bool
}

// Stream is a pull-based handle on an in-flight ChatStream call: Next
// blocks until the next chunk or the stream's end, Text accumulates
// every delta seen so far, and Err reports any terminal error once the
// stream has closed.
type Stream struct {
	ctx context.Context
	ch  chan Chunk

	mu     sync.Mutex
	chunks []Chunk
	err    error
	usage  TokenUsage
}

func newStream(ctx context.Context) *Stream {
	return &Stream{ctx: ctx, ch: make(chan Chunk, 16)}
}

func (s *Stream) send(c Chunk) {
	select {
	case s.ch <- c:
	case <-s.ctx.Done():
	}
}

func (s *Stream) close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

func (s *Stream) setUsage(u TokenUsage) {
	s.mu.Lock()
	s.usage = u
	s.mu.Unlock()
}

// Next returns the next chunk, or ok=false once the stream has closed.
func (s *Stream) Next() (Chunk, bool) {
	c, ok := <-s.ch
	if ok {
		s.mu.Lock()
		s.chunks = append(s.chunks, c)
		s.mu.Unlock()
	}
	return c, ok
}

// Text returns every delta accumulated so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, c := range s.chunks {
		b.WriteString(c.Delta)
	}
	return b.String()
}

// Err returns the terminal error, if any, once the stream has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Usage returns token accounting, populated once the stream closes.
func (s *Stream) Usage() TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// singleChunkStream wraps one ChatResult into a Stream with a single
// final chunk, the default fallback for providers without native
// streaming support.
func singleChunkStream(ctx context.Context, result ChatResult, err error) *Stream {
	s := newStream(ctx)
	go func() {
		if err == nil {
			s.send(Chunk{Delta: result.Content, ToolCalls: result.ToolCalls, Done: true})
			s.setUsage(result.Usage)
		}
		s.close(err)
	}()
	return s
}
