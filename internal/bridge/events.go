// Package bridge is the conversation-to-execution orchestrator: it routes
// inbound chat events to agent runs, enforces one run per conversation, and
// reports every outcome back to the originating conversation.
package bridge

import (
	"context"
	"time"

	"github.com/ehrlich-b/perch/internal/runner"
)

// ConversationKey identifies a channel, thread, or direct-message exchange.
// Equality drives single-flight slot uniqueness.
type ConversationKey struct {
	Channel string
	Thread  string
}

func (k ConversationKey) String() string {
	if k.Thread == "" {
		return k.Channel
	}
	return k.Channel + "/" + k.Thread
}

// InboundEvent is one message delivered by the transport. Read-only to the core.
type InboundEvent struct {
	Key           ConversationKey
	SenderID      string
	Text          string
	EventID       string
	Timestamp     time.Time
	Mention       bool
	DirectMessage bool
}

// Notifier is the chat-output collaborator. The core never talks to the
// transport directly.
type Notifier interface {
	// Post sends a persistent message into the conversation.
	Post(ctx context.Context, key ConversationKey, text string) error
	// React attaches an emoji reaction to the triggering message.
	React(ctx context.Context, key ConversationKey, eventID, emoji string) error
	// Status sends an ephemeral progress line.
	Status(ctx context.Context, key ConversationKey, text string) error
}

// AgentRunner starts agent invocations. Satisfied by runner.Runner through a
// thin adapter; faked in tests.
type AgentRunner interface {
	Start(ctx context.Context, req runner.Request) (RunHandle, error)
}

// RunHandle is a live run: incremental chunks, then a terminal result.
type RunHandle interface {
	Next() (runner.Chunk, bool)
	Result() runner.Result
}

// RunStore persists conversation→agent-session correlation and run records.
// Optional; a nil store disables resume and history.
type RunStore interface {
	SessionID(channel, thread string) (string, error)
	SetSessionID(channel, thread, sessionID string) error
	BeginRun(id, channel, thread string, startedAt time.Time) error
	FinishRun(id, outcome string, exitCode int, duration time.Duration) error
}
