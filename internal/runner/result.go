package runner

import "time"

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the terminal state of one agent invocation. The runner never
// surfaces process errors to its caller any other way.
type Result struct {
	Outcome   Outcome
	Output    string // final text, or partial output for timed-out/cancelled runs
	Reason    string // stderr excerpt or classification detail for non-success outcomes
	ExitCode  int    // -1 when the process never produced one
	NumTurns  int    // agentic turns reported by the agent, 0 if unknown
	Duration  time.Duration
	SessionID string // agent session id for resuming the conversation
}
