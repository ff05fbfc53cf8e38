// Package daemon wires configuration, storage, transport, and the bridge
// together and runs the bot until shutdown.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/perch/internal/auth"
	"github.com/ehrlich-b/perch/internal/bridge"
	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/relay"
	"github.com/ehrlich-b/perch/internal/runner"
	"github.com/ehrlich-b/perch/internal/store"
)

// Run starts the bot and blocks until a signal or a fatal transport error.
func Run(cfg *config.Config, version string) error {
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	if n, err := s.CloseInterrupted(); err != nil {
		slog.Warn("failed to close interrupted runs", "err", err)
	} else if n > 0 {
		slog.Info("closed interrupted runs from previous start", "count", n)
	}

	gate := auth.NewAllowList(cfg.AllowedUserIDs())

	r := &runner.Runner{
		Bin:      cfg.Agent.Bin,
		WorkDir:  cfg.Agent.WorkDir,
		Model:    cfg.Agent.Model,
		MaxTurns: cfg.Agent.MaxTurns,
		Timeout:  time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
	}

	hostname, _ := os.Hostname()
	client := &relay.Client{
		URL:      cfg.Relay.URL,
		Token:    cfg.Relay.Token,
		BotID:    cfg.Chat.BotUserID,
		Hostname: hostname,
		Version:  version,
	}

	dispatcher := &bridge.Dispatcher{
		Gate:     gate,
		Registry: bridge.NewRegistry(),
		Runner:   runnerAdapter{r},
		Reporter: &bridge.Reporter{
			Notifier:         chatNotifier{client},
			MaxMessageLength: cfg.Chat.MaxMessageLength,
		},
		Store:     s,
		BotUserID: cfg.Chat.BotUserID,
		Heartbeat: time.Duration(cfg.Chat.HeartbeatSeconds) * time.Second,
	}

	client.OnEvent = func(ctx context.Context, ev relay.MessageEvent) {
		dispatcher.OnEvent(ctx, toInbound(ev))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("bot started",
		"relay", cfg.Relay.URL,
		"workdir", cfg.Agent.WorkDir,
		"allowed_users", gate.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx)
	})
	err = g.Wait()

	// Let in-flight sessions reach their terminal states and report.
	dispatcher.Wait()
	slog.Info("shutting down")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func toInbound(ev relay.MessageEvent) bridge.InboundEvent {
	return bridge.InboundEvent{
		Key:           bridge.ConversationKey{Channel: ev.Channel, Thread: ev.Thread},
		SenderID:      ev.UserID,
		Text:          ev.Text,
		EventID:       ev.EventID,
		Timestamp:     time.UnixMilli(ev.Timestamp),
		Mention:       ev.Mention,
		DirectMessage: ev.ChannelType == "dm",
	}
}

// chatNotifier adapts the relay client to the bridge's Notifier surface.
type chatNotifier struct {
	c *relay.Client
}

func (n chatNotifier) Post(ctx context.Context, key bridge.ConversationKey, text string) error {
	return n.c.Post(ctx, key.Channel, key.Thread, text)
}

func (n chatNotifier) React(ctx context.Context, key bridge.ConversationKey, eventID, emoji string) error {
	return n.c.React(ctx, key.Channel, eventID, emoji)
}

func (n chatNotifier) Status(ctx context.Context, key bridge.ConversationKey, text string) error {
	return n.c.Status(ctx, key.Channel, key.Thread, text)
}

// runnerAdapter narrows *runner.Runner to the bridge's AgentRunner surface.
type runnerAdapter struct {
	r *runner.Runner
}

func (a runnerAdapter) Start(ctx context.Context, req runner.Request) (bridge.RunHandle, error) {
	run, err := a.r.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return run, nil
}
