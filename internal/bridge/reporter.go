package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ehrlich-b/perch/internal/runner"
)

const ackEmoji = "eyes"

// Reporter translates run lifecycle transitions into chat notifications.
// Send failures are logged, never propagated: a broken notification must not
// crash a session or leak its slot.
type Reporter struct {
	Notifier         Notifier
	MaxMessageLength int
}

// Ack marks the triggering message as seen.
func (p *Reporter) Ack(ctx context.Context, ev InboundEvent) {
	if err := p.Notifier.React(ctx, ev.Key, ev.EventID, ackEmoji); err != nil {
		slog.Warn("failed to ack message", "key", ev.Key, "err", err)
	}
}

// Unauthorized tells the sender they may not use the bot.
func (p *Reporter) Unauthorized(ctx context.Context, key ConversationKey) {
	p.post(ctx, key, "Sorry, you're not authorized to use this bot.")
}

// Busy tells the sender a run is already in progress for this conversation.
func (p *Reporter) Busy(ctx context.Context, key ConversationKey) {
	p.post(ctx, key, "A run is already in progress here. Send `stop` to cancel it.")
}

// NeedPrompt asks for a non-empty prompt.
func (p *Reporter) NeedPrompt(ctx context.Context, key ConversationKey) {
	p.post(ctx, key, "Please provide a prompt after mentioning me.")
}

// NothingRunning replies to a stop request with no active run.
func (p *Reporter) NothingRunning(ctx context.Context, key ConversationKey) {
	p.post(ctx, key, "Nothing is running in this conversation.")
}

// Started posts the initial ephemeral status line.
func (p *Reporter) Started(ctx context.Context, key ConversationKey) {
	p.status(ctx, key, "Working on it…")
}

// Progress posts a heartbeat. Callers bound the frequency; this just sends.
func (p *Reporter) Progress(ctx context.Context, key ConversationKey, elapsed time.Duration) {
	p.status(ctx, key, fmt.Sprintf("Still working… (%s elapsed)", elapsed.Round(time.Second)))
}

// SpawnFailure reports that the agent process could not be started.
func (p *Reporter) SpawnFailure(ctx context.Context, key ConversationKey, err error) {
	p.post(ctx, key, fmt.Sprintf("❌ Could not start the agent. Is it installed and on PATH? (%v)", err))
}

// Finished posts the mandatory completion notification for a terminal outcome.
func (p *Reporter) Finished(ctx context.Context, key ConversationKey, res runner.Result) {
	p.post(ctx, key, p.format(res))
}

func (p *Reporter) format(res runner.Result) string {
	switch res.Outcome {
	case runner.OutcomeSuccess:
		return p.truncate(res.Output)
	case runner.OutcomeTimedOut:
		msg := fmt.Sprintf("⏱ Run timed out after %s.", res.Duration.Round(time.Second))
		if res.Output != "" {
			msg += "\nPartial output:\n```" + p.truncate(res.Output) + "```"
		}
		return msg
	case runner.OutcomeCancelled:
		return "🛑 Run cancelled."
	default:
		return fmt.Sprintf("⚠️ The agent encountered an error (exit code %d):\n```%s```",
			res.ExitCode, p.truncate(res.Reason))
	}
}

func (p *Reporter) truncate(s string) string {
	max := p.MaxMessageLength
	if max <= 0 {
		max = 2900
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n… (truncated)"
}

func (p *Reporter) post(ctx context.Context, key ConversationKey, text string) {
	if err := p.Notifier.Post(ctx, key, text); err != nil {
		slog.Warn("failed to post message", "key", key, "err", err)
	}
}

func (p *Reporter) status(ctx context.Context, key ConversationKey, text string) {
	if err := p.Notifier.Status(ctx, key, text); err != nil {
		slog.Warn("failed to post status", "key", key, "err", err)
	}
}
