package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/perch/internal/runner"
)

// SessionState tracks a conversation session through its lifecycle.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateStarting
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
	StateCancelled
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state releases the slot.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Session ties one in-flight run to its originating conversation. It owns the
// run handle and is the sole releaser of its slot.
type Session struct {
	Key       ConversationKey
	Prompt    string
	Runner    AgentRunner
	Registry  *Registry
	Reporter  *Reporter
	Store     RunStore // may be nil
	Heartbeat time.Duration

	state atomic.Int32
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Execute drives the session to a terminal state. The slot for Key must
// already be held by the caller; it is released exactly once here, on every
// exit path, and exactly one completion notification is emitted.
func (s *Session) Execute(ctx context.Context) runner.Result {
	defer s.Registry.Release(s.Key)

	s.setState(StateStarting)

	var resume string
	if s.Store != nil {
		id, err := s.Store.SessionID(s.Key.Channel, s.Key.Thread)
		if err != nil {
			slog.Warn("session lookup failed", "key", s.Key, "err", err)
		} else {
			resume = id
		}
	}

	runID := uuid.NewString()
	started := time.Now()
	if s.Store != nil {
		if err := s.Store.BeginRun(runID, s.Key.Channel, s.Key.Thread, started); err != nil {
			slog.Warn("failed to record run start", "run", runID, "err", err)
		}
	}

	run, err := s.Runner.Start(ctx, runner.Request{Prompt: s.Prompt, ResumeSession: resume})
	if err != nil {
		// Spawn failure: no process ever existed. Report and release.
		s.setState(StateFailed)
		res := runner.Result{Outcome: runner.OutcomeFailure, Reason: err.Error(), ExitCode: -1}
		s.finishRecord(runID, res)
		s.Reporter.SpawnFailure(context.WithoutCancel(ctx), s.Key, err)
		return res
	}

	s.setState(StateRunning)
	s.Reporter.Started(ctx, s.Key)

	hb := s.Heartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Every(hb), 1)
	limiter.Allow() // the Started line counts as the first update

	// Drain the chunk stream off to the side so heartbeats keep firing while
	// the agent is alive but silent.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			if _, ok := run.Next(); !ok {
				return
			}
		}
	}()

	ticker := time.NewTicker(hb)
	defer ticker.Stop()
	for running := true; running; {
		select {
		case <-drained:
			running = false
		case <-ticker.C:
			if limiter.Allow() {
				s.Reporter.Progress(ctx, s.Key, time.Since(started))
			}
		}
	}

	res := run.Result()
	switch res.Outcome {
	case runner.OutcomeSuccess:
		s.setState(StateCompleted)
	case runner.OutcomeTimedOut:
		s.setState(StateTimedOut)
	case runner.OutcomeCancelled:
		s.setState(StateCancelled)
	default:
		s.setState(StateFailed)
	}

	if s.Store != nil && res.SessionID != "" {
		if err := s.Store.SetSessionID(s.Key.Channel, s.Key.Thread, res.SessionID); err != nil {
			slog.Warn("failed to persist session id", "key", s.Key, "err", err)
		}
	}
	s.finishRecord(runID, res)

	// The final notification outlives the run's cancellation.
	s.Reporter.Finished(context.WithoutCancel(ctx), s.Key, res)

	slog.Info("run finished",
		"key", s.Key.String(),
		"outcome", string(res.Outcome),
		"exit_code", res.ExitCode,
		"duration", res.Duration.Round(time.Millisecond))
	return res
}

func (s *Session) finishRecord(runID string, res runner.Result) {
	if s.Store == nil {
		return
	}
	if err := s.Store.FinishRun(runID, string(res.Outcome), res.ExitCode, res.Duration); err != nil {
		slog.Warn("failed to record run outcome", "run", runID, "err", err)
	}
}
