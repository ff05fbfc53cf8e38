// Package relay maintains the bot's outbound WebSocket to the chat relay:
// registration, heartbeats, inbound event delivery, and outbound chat calls.
// The bot exposes no inbound listener; this socket is its only connection.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ErrAuthRejected is returned when the relay rejects the WebSocket handshake with 401.
var ErrAuthRejected = errors.New("relay rejected authentication (401)")

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
	maxReconnectDelay = 10 * time.Second
	readLimit         = 512 * 1024
)

// EventHandler receives each inbound chat message event. Handlers run on
// their own goroutine; a slow handler never stalls the read loop.
type EventHandler func(ctx context.Context, ev MessageEvent)

// Client is an outbound WebSocket client connecting the bot to the relay.
type Client struct {
	URL      string // e.g. "wss://relay.example.com/ws/bot"
	Token    string // bot auth token
	BotID    string
	Hostname string
	Version  string

	OnEvent       EventHandler
	OnStateChange func(state string, err error)

	conn *websocket.Conn
	mu   sync.Mutex
}

// Run connects to the relay and processes events until ctx is cancelled.
// Automatically reconnects on disconnect with exponential backoff.
// Returns ErrAuthRejected if the relay rejects the token with 401.
func (c *Client) Run(ctx context.Context) error {
	bo := NewBackoff(time.Second, maxReconnectDelay)
	c.notifyState("connecting", nil)
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if isAuthError(err) {
			c.notifyState("auth_failed", err)
			return ErrAuthRejected
		}
		if connected {
			bo.Reset()
		}
		delay := bo.Next()
		c.notifyState("disconnected", err)
		log.Printf("relay disconnected: %v (reconnecting in %s)", err, delay)
		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notifyState("connecting", nil)
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

// isAuthError returns true if the error indicates a 401 handshake rejection.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "401")
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{
		HTTPHeader: make(map[string][]string),
	}
	opts.HTTPHeader.Set("Authorization", "Bearer "+c.Token)

	conn, _, dialErr := websocket.Dial(ctx, c.URL, opts)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	conn.SetReadLimit(readLimit)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.CloseNow()
	connected = true

	reg := BotRegister{
		Type:     TypeBotRegister,
		BotID:    c.BotID,
		Hostname: c.Hostname,
		Platform: runtime.GOOS,
		Version:  c.Version,
	}
	if err := c.writeJSON(ctx, reg); err != nil {
		return connected, fmt.Errorf("register: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("bad message: %v", err)
			continue
		}

		switch env.Type {
		case TypeRegistered:
			var msg RegisteredMsg
			json.Unmarshal(data, &msg)
			log.Printf("registered with relay as bot %s", msg.BotID)
			c.notifyState("connected", nil)

		case TypeEventMessage:
			var ev MessageEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("bad event.message: %v", err)
				continue
			}
			if c.OnEvent != nil {
				go c.OnEvent(ctx, ev)
			}

		case TypeError:
			var msg ErrorMsg
			json.Unmarshal(data, &msg)
			log.Printf("relay error: %s", msg.Message)

		default:
			// New server-side types must never kill the read loop.
			log.Printf("unknown message type: %s", env.Type)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := BotHeartbeat{Type: TypeBotHeartbeat, BotID: c.BotID}
			if err := c.writeJSON(ctx, hb); err != nil {
				return
			}
		}
	}
}

// Post sends a persistent message into a conversation.
func (c *Client) Post(ctx context.Context, channel, thread, text string) error {
	return c.writeJSON(ctx, ChatPost{
		Type:    TypeChatPost,
		ID:      uuid.NewString(),
		Channel: channel,
		Thread:  thread,
		Text:    text,
	})
}

// React attaches an emoji reaction to a message.
func (c *Client) React(ctx context.Context, channel, eventID, emoji string) error {
	return c.writeJSON(ctx, ChatReact{
		Type:    TypeChatReact,
		ID:      uuid.NewString(),
		Channel: channel,
		EventID: eventID,
		Emoji:   emoji,
	})
}

// Status sends an ephemeral status line into a conversation.
func (c *Client) Status(ctx context.Context, channel, thread, text string) error {
	return c.writeJSON(ctx, ChatStatus{
		Type:    TypeChatStatus,
		ID:      uuid.NewString(),
		Channel: channel,
		Thread:  thread,
		Text:    text,
	})
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
