package bridge

import (
	"context"
	"sync"
	"time"
)

// SlotState is the lifecycle of one conversation's execution slot.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotRunning
	SlotCancelling
)

type slot struct {
	state     SlotState
	startedAt time.Time
	cancel    context.CancelFunc
}

// Registry is the per-conversation single-flight lock: at most one active run
// per key. The mutex guards only the key→slot map; runs execute outside it,
// so unrelated conversations never serialize on each other.
type Registry struct {
	mu    sync.Mutex
	slots map[ConversationKey]*slot
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[ConversationKey]*slot)}
}

// TryAcquire transitions key Idle→Running. cancel is the owning session's
// stop signal, kept so a later stop request can reach the run. Exactly one
// caller wins under concurrent acquire.
func (r *Registry) TryAcquire(key ConversationKey, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[key]; ok && s.state != SlotIdle {
		return false
	}
	r.slots[key] = &slot{state: SlotRunning, startedAt: time.Now(), cancel: cancel}
	return true
}

// Cancel signals the active run for key, if any, and reports whether there
// was one. Running→Cancelling; the slot stays held until the session releases it.
func (r *Registry) Cancel(key ConversationKey) bool {
	r.mu.Lock()
	s, ok := r.slots[key]
	if !ok || s.state == SlotIdle {
		r.mu.Unlock()
		return false
	}
	if s.state == SlotRunning {
		s.state = SlotCancelling
	}
	cancel := s.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Release returns the key to Idle. Called exactly once per successful
// acquire, on every exit path of the owning session.
func (r *Registry) Release(key ConversationKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, key)
}

// Running reports whether key currently holds an active slot.
func (r *Registry) Running(key ConversationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	return ok && s.state != SlotIdle
}

// Active returns the number of held slots.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
