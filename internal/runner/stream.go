package runner

import (
	"context"
	"strings"
	"sync"
)

// Chunk is one increment of agent output.
type Chunk struct {
	Text string
}

// Run is a handle to an in-flight agent invocation. Chunks arrive
// incrementally via Next; Result blocks until the run reaches a terminal
// outcome.
type Run struct {
	ctx    context.Context
	ch     chan Chunk
	done   chan struct{}
	mu     sync.Mutex
	chunks []Chunk
	result Result
}

func newRun(ctx context.Context) *Run {
	return &Run{
		ctx:  ctx,
		ch:   make(chan Chunk, 64),
		done: make(chan struct{}),
	}
}

// send records the chunk and forwards it to the consumer. Recording happens
// first so partial output survives a timeout even if nobody is reading.
func (r *Run) send(c Chunk) {
	r.mu.Lock()
	r.chunks = append(r.chunks, c)
	r.mu.Unlock()
	select {
	case r.ch <- c:
	case <-r.ctx.Done():
	}
}

// finish publishes the terminal result. Called exactly once, after the last send.
func (r *Run) finish(res Result) {
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	close(r.ch)
	close(r.done)
}

// Next returns the next output chunk. ok is false once the run has finished.
func (r *Run) Next() (Chunk, bool) {
	c, ok := <-r.ch
	return c, ok
}

// Text returns all output captured so far.
func (r *Run) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, c := range r.chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

// Result blocks until the run is finished and returns its terminal outcome.
func (r *Run) Result() Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}
