package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/perch/internal/runner"
)

// fakeNotifier records outbound notifications in place of the relay.
type fakeNotifier struct {
	mu       sync.Mutex
	posts    []string
	statuses []string
	reacts   []string
	err      error // returned from every call when set
}

func (n *fakeNotifier) Post(ctx context.Context, key ConversationKey, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, text)
	return n.err
}

func (n *fakeNotifier) React(ctx context.Context, key ConversationKey, eventID, emoji string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reacts = append(n.reacts, emoji)
	return n.err
}

func (n *fakeNotifier) Status(ctx context.Context, key ConversationKey, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, text)
	return n.err
}

func (n *fakeNotifier) postCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.posts)
}

func (n *fakeNotifier) statusCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.statuses)
}

func (n *fakeNotifier) reactCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reacts)
}

func (n *fakeNotifier) hasPost(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.posts {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

func (n *fakeNotifier) postsContaining(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, p := range n.posts {
		if strings.Contains(p, substr) {
			count++
		}
	}
	return count
}

// fakeHandle replays canned chunks, then finishes. With hold set it blocks
// after the chunks until the channel closes or the run context is cancelled,
// simulating a long-running agent.
type fakeHandle struct {
	ctx       context.Context
	chunks    []runner.Chunk
	i         int
	chunkGap  time.Duration
	hold      chan struct{}
	res       runner.Result
}

func (h *fakeHandle) Next() (runner.Chunk, bool) {
	if h.i < len(h.chunks) {
		if h.chunkGap > 0 {
			time.Sleep(h.chunkGap)
		}
		c := h.chunks[h.i]
		h.i++
		return c, true
	}
	if h.hold != nil {
		select {
		case <-h.hold:
		case <-h.ctx.Done():
		}
	}
	return runner.Chunk{}, false
}

func (h *fakeHandle) Result() runner.Result {
	if h.ctx.Err() != nil && h.res.Outcome == "" {
		return runner.Result{Outcome: runner.OutcomeCancelled, Reason: "run cancelled", ExitCode: -1}
	}
	if h.res.Outcome == "" {
		return runner.Result{Outcome: runner.OutcomeSuccess, Output: "done"}
	}
	return h.res
}

// fakeRunner hands out fakeHandles and records requests.
type fakeRunner struct {
	mu       sync.Mutex
	starts   int
	lastReq  runner.Request
	startErr error
	build    func() *fakeHandle
}

func (f *fakeRunner) Start(ctx context.Context, req runner.Request) (RunHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.lastReq = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	var h *fakeHandle
	if f.build != nil {
		h = f.build()
	} else {
		h = &fakeHandle{}
	}
	h.ctx = ctx
	return h, nil
}

func (f *fakeRunner) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeRunner) request() runner.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// fakeStore is an in-memory RunStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]string
	begun    int
	finished []string // outcomes in finish order
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]string)}
}

func (s *fakeStore) SessionID(channel, thread string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[channel+"/"+thread], nil
}

func (s *fakeStore) SetSessionID(channel, thread, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[channel+"/"+thread] = sessionID
	return nil
}

func (s *fakeStore) BeginRun(id, channel, thread string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun++
	return nil
}

func (s *fakeStore) FinishRun(id, outcome string, exitCode int, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, outcome)
	return nil
}

func (s *fakeStore) finishedOutcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.finished...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
