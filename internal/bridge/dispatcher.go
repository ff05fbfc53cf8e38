package bridge

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/perch/internal/auth"
)

// Dispatcher consumes inbound events, classifies them, and routes them to
// sessions. Accepted triggers run in their own goroutines: one conversation's
// run never blocks dispatch for another key.
type Dispatcher struct {
	Gate      *auth.AllowList
	Registry  *Registry
	Runner    AgentRunner
	Reporter  *Reporter
	Store     RunStore // may be nil
	BotUserID string
	Heartbeat time.Duration

	wg sync.WaitGroup
}

// OnEvent handles one inbound event. Safe for concurrent use; the transport
// may deliver events serially or concurrently.
func (d *Dispatcher) OnEvent(ctx context.Context, ev InboundEvent) {
	// Never react to our own messages: that way lies an infinite loop.
	if ev.SenderID == "" || ev.SenderID == d.BotUserID {
		return
	}
	if !ev.Mention && !ev.DirectMessage {
		return
	}

	if !d.Gate.Allowed(ev.SenderID) {
		slog.Warn("unauthorized message", "sender", ev.SenderID, "key", ev.Key)
		d.Reporter.Unauthorized(ctx, ev.Key)
		return
	}

	prompt := ExtractPrompt(ev)

	if isStopRequest(prompt) {
		if d.Registry.Cancel(ev.Key) {
			slog.Info("stop requested", "key", ev.Key, "sender", ev.SenderID)
		} else {
			d.Reporter.NothingRunning(ctx, ev.Key)
		}
		return
	}

	if prompt == "" {
		d.Reporter.NeedPrompt(ctx, ev.Key)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	if !d.Registry.TryAcquire(ev.Key, cancel) {
		cancel()
		d.Reporter.Busy(ctx, ev.Key)
		return
	}

	slog.Info("accepted prompt", "sender", ev.SenderID, "key", ev.Key)
	d.Reporter.Ack(ctx, ev)

	sess := &Session{
		Key:       ev.Key,
		Prompt:    prompt,
		Runner:    d.Runner,
		Registry:  d.Registry,
		Reporter:  d.Reporter,
		Store:     d.Store,
		Heartbeat: d.Heartbeat,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		sess.Execute(runCtx)
	}()
}

// Wait blocks until all in-flight sessions have reached a terminal state.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ExtractPrompt strips the leading mention token from a mention event's text.
func ExtractPrompt(ev InboundEvent) string {
	text := strings.TrimSpace(ev.Text)
	if ev.Mention && strings.HasPrefix(text, "<@") {
		if i := strings.Index(text, ">"); i >= 0 {
			text = strings.TrimSpace(text[i+1:])
		}
	}
	return text
}

func isStopRequest(prompt string) bool {
	switch strings.ToLower(prompt) {
	case "stop", "cancel":
		return true
	}
	return false
}
